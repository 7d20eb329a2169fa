package badger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/transport"
	"github.com/marmos91/gorods/pkg/transport/transporttest"
)

func TestConformance(t *testing.T) {
	transporttest.RunConformanceSuite(t, func(t *testing.T) transport.Supplier {
		z, err := NewInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { _ = z.Close() })
		return z
	})
}

func openZone(t *testing.T, cfg Config) (*Zone, transport.Conn) {
	t.Helper()
	z, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = z.Close() })

	conn, err := z.Connect(t.Context(), transporttest.TestAccount())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return z, conn
}

func payload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, rodserrors.Configuration)
}

func TestZone_SmallChunksUnalignedReads(t *testing.T) {
	_, conn := openZone(t, Config{InMemory: true, ChunkSize: 100})
	path := "/tempZone/home/rods/chunked.bin"
	data := payload(1003)

	id, err := conn.BeginPut(t.Context(), path, int64(len(data)), transport.PutOptions{})
	require.NoError(t, err)

	// Near-equal ranges that do not line up with the chunk size.
	var parts []transport.Part
	offsets := []int64{0, 251, 502, 753, 1003}
	for i := range 4 {
		off, end := offsets[i], offsets[i+1]
		part, err := conn.PutRange(t.Context(), transport.PutRangeRequest{
			Path: path, UploadID: id, Index: i, Offset: off, Length: end - off,
			Body: bytes.NewReader(data[off:end]),
		})
		require.NoError(t, err)
		parts = append(parts, part)
	}
	require.NoError(t, conn.CompletePut(t.Context(), path, id, parts))

	for _, r := range []struct{ off, length int64 }{
		{0, 1003}, {1, 1}, {99, 2}, {250, 3}, {260, 500}, {1000, 100}, {1003, 10},
	} {
		var buf bytes.Buffer
		n, err := conn.GetRange(t.Context(), path, r.off, r.length, &buf)
		require.NoError(t, err)

		want := data[r.off:min(r.off+r.length, int64(len(data)))]
		assert.Equal(t, int64(len(want)), n, "range %d+%d", r.off, r.length)
		assert.Equal(t, string(want), buf.String(), "range %d+%d", r.off, r.length)
	}
}

func TestZone_ManifestKeepsOptions(t *testing.T) {
	_, conn := openZone(t, Config{InMemory: true})
	path := "/tempZone/home/rods/meta.csv"

	id, err := conn.BeginPut(t.Context(), path, 3, transport.PutOptions{ContentType: "text/csv", Resource: "demoResc"})
	require.NoError(t, err)
	part, err := conn.PutRange(t.Context(), transport.PutRangeRequest{Path: path, UploadID: id, Length: 3, Body: bytes.NewReader([]byte("a,b"))})
	require.NoError(t, err)
	require.NoError(t, conn.CompletePut(t.Context(), path, id, []transport.Part{part}))

	info, err := conn.Stat(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", info.ContentType)
	assert.Equal(t, "demoResc", info.Resource)
}

func TestZone_PendingUploads(t *testing.T) {
	z, conn := openZone(t, Config{InMemory: true})

	id, err := conn.BeginPut(t.Context(), "/tempZone/home/rods/p", 5, transport.PutOptions{})
	require.NoError(t, err)

	n, err := z.PendingUploads()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, conn.AbortPut(t.Context(), "/tempZone/home/rods/p", id))

	n, err = z.PendingUploads()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestZone_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := "/tempZone/home/rods/durable.bin"
	data := payload(4096)

	z, err := New(Config{Dir: dir})
	require.NoError(t, err)
	conn, err := z.Connect(t.Context(), transporttest.TestAccount())
	require.NoError(t, err)

	id, err := conn.BeginPut(t.Context(), path, int64(len(data)), transport.PutOptions{})
	require.NoError(t, err)
	part, err := conn.PutRange(t.Context(), transport.PutRangeRequest{Path: path, UploadID: id, Length: int64(len(data)), Body: bytes.NewReader(data)})
	require.NoError(t, err)
	require.NoError(t, conn.CompletePut(t.Context(), path, id, []transport.Part{part}))
	require.NoError(t, conn.Close())
	require.NoError(t, z.Close())

	_, err = z.Connect(t.Context(), transporttest.TestAccount())
	assert.ErrorIs(t, err, rodserrors.Closed)

	_, conn = openZone(t, Config{Dir: dir})
	var buf bytes.Buffer
	_, err = conn.GetRange(t.Context(), path, 0, int64(len(data)), &buf)
	require.NoError(t, err)
	assert.Equal(t, data, buf.Bytes())
}

func TestChunkKeys(t *testing.T) {
	key := keyChunk("abc", 0x1f)
	assert.Equal(t, "c:abc:000000000000001f", string(key))

	off, err := chunkOffset(key, len(keyChunkPrefix("abc")))
	require.NoError(t, err)
	assert.Equal(t, int64(0x1f), off)

	_, err = chunkOffset([]byte("c:abc:zz"), len("c:abc:"))
	assert.Error(t, err)

	assert.True(t, bytes.Compare(keyChunk("u", 9), keyChunk("u", 10)) < 0, "offsets sort numerically")
}
