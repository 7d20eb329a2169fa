package transporttest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gorods/pkg/account"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/transport"
)

// SupplierFactory creates a fresh, empty zone for each test.
type SupplierFactory func(t *testing.T) transport.Supplier

// RunConformanceSuite runs every conformance test against suppliers made by
// factory. Each test gets its own zone.
func RunConformanceSuite(t *testing.T, factory SupplierFactory) {
	t.Helper()

	t.Run("Conn", func(t *testing.T) {
		runConnTests(t, factory)
	})

	t.Run("Put", func(t *testing.T) {
		runPutTests(t, factory)
	})

	t.Run("Get", func(t *testing.T) {
		runGetTests(t, factory)
	})
}

// TestAccount is the account every conformance test connects as.
func TestAccount() account.Account {
	return account.New("localhost", account.DefaultPort, "tempZone", "rods", "rods")
}

// connect opens a connection and closes it when the test ends.
func connect(t *testing.T, s transport.Supplier) transport.Conn {
	t.Helper()

	conn, err := s.Connect(t.Context(), TestAccount())
	require.NoError(t, err)
	require.NotNil(t, conn)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// payload returns size bytes of deterministic content.
func payload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// putObject uploads data as a single range.
func putObject(t *testing.T, conn transport.Conn, path string, data []byte) {
	t.Helper()
	ctx := t.Context()

	id, err := conn.BeginPut(ctx, path, int64(len(data)), transport.PutOptions{Overwrite: true})
	require.NoError(t, err)

	part, err := conn.PutRange(ctx, transport.PutRangeRequest{
		Path: path, UploadID: id, Length: int64(len(data)), Body: bytes.NewReader(data),
	})
	require.NoError(t, err)
	require.NoError(t, conn.CompletePut(ctx, path, id, []transport.Part{part}))
}

func runConnTests(t *testing.T, factory SupplierFactory) {
	t.Run("IdentityAndClose", func(t *testing.T) {
		s := factory(t)
		a := connect(t, s)
		b := connect(t, s)

		assert.NotEmpty(t, a.ID())
		assert.NotEqual(t, a.ID(), b.ID())
		assert.Equal(t, "rods", a.Account().User)
		assert.Equal(t, "tempZone", a.Account().Zone)

		assert.False(t, a.Closed())
		require.NoError(t, a.Close())
		assert.True(t, a.Closed())
		assert.NoError(t, a.Close(), "Close is idempotent")
	})

	t.Run("ClosedConnRejectsCalls", func(t *testing.T) {
		s := factory(t)
		conn := connect(t, s)
		require.NoError(t, conn.Close())

		_, err := conn.Stat(t.Context(), "/tempZone/home/rods/x")
		assert.ErrorIs(t, err, rodserrors.Closed)

		_, err = conn.BeginPut(t.Context(), "/tempZone/home/rods/x", 1, transport.PutOptions{})
		assert.ErrorIs(t, err, rodserrors.Closed)

		_, err = conn.GetRange(t.Context(), "/tempZone/home/rods/x", 0, 1, &bytes.Buffer{})
		assert.ErrorIs(t, err, rodserrors.Closed)
	})

	t.Run("StatMissing", func(t *testing.T) {
		conn := connect(t, factory(t))

		_, err := conn.Stat(t.Context(), "/tempZone/home/rods/missing.dat")
		require.Error(t, err)
		assert.True(t, rodserrors.IsNotFoundError(err))
	})
}

func runPutTests(t *testing.T, factory SupplierFactory) {
	t.Run("SingleRange", func(t *testing.T) {
		conn := connect(t, factory(t))
		path := "/tempZone/home/rods/single.txt"
		data := []byte("hello zone")

		id, err := conn.BeginPut(t.Context(), path, int64(len(data)), transport.PutOptions{ContentType: "text/plain"})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		part, err := conn.PutRange(t.Context(), transport.PutRangeRequest{
			Path: path, UploadID: id, Length: int64(len(data)), Body: bytes.NewReader(data),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, part.Index)
		assert.Equal(t, int64(len(data)), part.Length)

		require.NoError(t, conn.CompletePut(t.Context(), path, id, []transport.Part{part}))

		info, err := conn.Stat(t.Context(), path)
		require.NoError(t, err)
		assert.Equal(t, path, info.Path)
		assert.Equal(t, int64(len(data)), info.Size)
		assert.Contains(t, info.ContentType, "text/plain")
		assert.False(t, info.ModTime.IsZero())
	})

	t.Run("RangesAcrossConnections", func(t *testing.T) {
		s := factory(t)
		owner := connect(t, s)
		path := "/tempZone/home/rods/multi.bin"
		data := payload(3 * 1024)

		id, err := owner.BeginPut(t.Context(), path, int64(len(data)), transport.PutOptions{})
		require.NoError(t, err)

		// Upload out of order, each range on its own connection.
		var parts []transport.Part
		for _, i := range []int{2, 0, 1} {
			conn := connect(t, s)
			off := int64(i * 1024)
			part, err := conn.PutRange(t.Context(), transport.PutRangeRequest{
				Path: path, UploadID: id, Index: i, Offset: off, Length: 1024,
				Body: bytes.NewReader(data[off : off+1024]),
			})
			require.NoError(t, err)
			parts = append(parts, part)
		}

		require.NoError(t, owner.CompletePut(t.Context(), path, id, parts))

		var buf bytes.Buffer
		n, err := owner.GetRange(t.Context(), path, 0, int64(len(data)), &buf)
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), n)
		assert.Equal(t, data, buf.Bytes())
	})

	t.Run("EmptyObject", func(t *testing.T) {
		conn := connect(t, factory(t))
		path := "/tempZone/home/rods/empty"

		id, err := conn.BeginPut(t.Context(), path, 0, transport.PutOptions{})
		require.NoError(t, err)
		require.NoError(t, conn.CompletePut(t.Context(), path, id, nil))

		info, err := conn.Stat(t.Context(), path)
		require.NoError(t, err)
		assert.Zero(t, info.Size)
	})

	t.Run("IncompletePartsRejected", func(t *testing.T) {
		conn := connect(t, factory(t))
		path := "/tempZone/home/rods/gap.bin"
		data := payload(200)

		id, err := conn.BeginPut(t.Context(), path, 200, transport.PutOptions{})
		require.NoError(t, err)

		part, err := conn.PutRange(t.Context(), transport.PutRangeRequest{
			Path: path, UploadID: id, Length: 100, Body: bytes.NewReader(data[:100]),
		})
		require.NoError(t, err)

		err = conn.CompletePut(t.Context(), path, id, []transport.Part{part})
		assert.ErrorIs(t, err, rodserrors.InvalidArgument)

		require.NoError(t, conn.AbortPut(t.Context(), path, id))
	})

	t.Run("AbortDiscardsUpload", func(t *testing.T) {
		conn := connect(t, factory(t))
		path := "/tempZone/home/rods/aborted.bin"

		id, err := conn.BeginPut(t.Context(), path, 10, transport.PutOptions{})
		require.NoError(t, err)
		require.NoError(t, conn.AbortPut(t.Context(), path, id))

		_, err = conn.Stat(t.Context(), path)
		assert.True(t, rodserrors.IsNotFoundError(err))

		_, err = conn.PutRange(t.Context(), transport.PutRangeRequest{
			Path: path, UploadID: id, Length: 10, Body: bytes.NewReader(payload(10)),
		})
		assert.Error(t, err)
	})

	t.Run("OverwriteRequiresFlag", func(t *testing.T) {
		conn := connect(t, factory(t))
		path := "/tempZone/home/rods/existing.txt"
		putObject(t, conn, path, []byte("v1"))

		_, err := conn.BeginPut(t.Context(), path, 2, transport.PutOptions{})
		assert.ErrorIs(t, err, rodserrors.InvalidArgument)

		putObject(t, conn, path, []byte("v2!"))

		var buf bytes.Buffer
		_, err = conn.GetRange(t.Context(), path, 0, 3, &buf)
		require.NoError(t, err)
		assert.Equal(t, "v2!", buf.String())
	})

	t.Run("NegativeSize", func(t *testing.T) {
		conn := connect(t, factory(t))

		_, err := conn.BeginPut(t.Context(), "/tempZone/home/rods/neg", -1, transport.PutOptions{})
		assert.ErrorIs(t, err, rodserrors.InvalidArgument)
	})
}

func runGetTests(t *testing.T, factory SupplierFactory) {
	t.Run("Ranges", func(t *testing.T) {
		conn := connect(t, factory(t))
		path := "/tempZone/home/rods/ranges.bin"
		data := payload(4096)
		putObject(t, conn, path, data)

		tests := []struct {
			name           string
			offset, length int64
			want           []byte
		}{
			{"head", 0, 100, data[:100]},
			{"middle", 1000, 1000, data[1000:2000]},
			{"tail clipped", 4000, 500, data[4000:]},
			{"whole", 0, 4096, data},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var buf bytes.Buffer
				n, err := conn.GetRange(t.Context(), path, tt.offset, tt.length, &buf)
				require.NoError(t, err)
				assert.Equal(t, int64(len(tt.want)), n)
				assert.Equal(t, tt.want, buf.Bytes())
			})
		}
	})

	t.Run("Missing", func(t *testing.T) {
		conn := connect(t, factory(t))

		_, err := conn.GetRange(t.Context(), "/tempZone/home/rods/nope", 0, 10, &bytes.Buffer{})
		require.Error(t, err)
		assert.True(t, rodserrors.IsNotFoundError(err))
	})

	t.Run("WriterError", func(t *testing.T) {
		conn := connect(t, factory(t))
		path := "/tempZone/home/rods/sink.bin"
		putObject(t, conn, path, payload(64))

		boom := errors.New("disk full")
		_, err := conn.GetRange(t.Context(), path, 0, 64, failingWriter{boom})
		assert.ErrorIs(t, err, boom)
	})
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }
