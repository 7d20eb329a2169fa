package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/transport"
	"github.com/marmos91/gorods/pkg/transport/transporttest"
)

type sentPart struct {
	number int32
	length int64
}

// recordingClient accepts every multipart call and remembers the parts it
// was sent.
type recordingClient struct {
	mu        sync.Mutex
	sent      []sentPart
	completed []types.CompletedPart
}

func (c *recordingClient) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return nil, &types.NotFound{}
}

func (c *recordingClient) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func (c *recordingClient) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, &types.NoSuchKey{}
}

func (c *recordingClient) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("remote")}, nil
}

func (c *recordingClient) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	n, err := io.Copy(io.Discard, in.Body)
	if err != nil {
		return nil, err
	}
	if n != aws.ToInt64(in.ContentLength) {
		return nil, fmt.Errorf("part %d: body %d bytes, content length %d", aws.ToInt32(in.PartNumber), n, aws.ToInt64(in.ContentLength))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentPart{number: aws.ToInt32(in.PartNumber), length: n})
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(in.PartNumber)))}, nil
}

func (c *recordingClient) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = in.MultipartUpload.Parts
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (c *recordingClient) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestConn_MultipartRangesSplitIntoBoundedParts(t *testing.T) {
	const (
		partSize = 2 * MinPartSize
		size     = int64(45 << 20)
		split    = int64(23 << 20)
	)
	client := &recordingClient{}
	z := New(client, Config{Bucket: "zone", MultipartThreshold: MinPartSize, UploadPartSize: partSize}, nil)

	conn, err := z.Connect(t.Context(), transporttest.TestAccount())
	require.NoError(t, err)

	id, err := conn.BeginPut(t.Context(), "/tempZone/big", size, transport.PutOptions{})
	require.NoError(t, err)

	// The later range goes first: part numbers follow offsets, not arrival.
	second, err := conn.PutRange(t.Context(), transport.PutRangeRequest{
		Path: "/tempZone/big", UploadID: id, Index: 1, Offset: split, Length: size - split,
		Body: bytes.NewReader(make([]byte, size-split)),
	})
	require.NoError(t, err)
	first, err := conn.PutRange(t.Context(), transport.PutRangeRequest{
		Path: "/tempZone/big", UploadID: id, Index: 0, Length: split,
		Body: bytes.NewReader(make([]byte, split)),
	})
	require.NoError(t, err)

	assert.Len(t, strings.Split(first.ETag, ","), 3)
	assert.Len(t, strings.Split(second.ETag, ","), 3)

	require.Len(t, client.sent, 6)
	for _, p := range client.sent {
		assert.LessOrEqual(t, p.length, int64(partSize), "part %d", p.number)
		assert.GreaterOrEqual(t, p.length, int64(MinPartSize), "part %d", p.number)
	}

	require.NoError(t, conn.CompletePut(t.Context(), "/tempZone/big", id, []transport.Part{first, second}))
	assert.Zero(t, z.PendingUploads())

	lengths := make(map[int32]int64, len(client.sent))
	for _, p := range client.sent {
		lengths[p.number] = p.length
	}

	grid := (size + MaxParts - 1) / MaxParts
	require.Len(t, client.completed, 6)
	var offset int64
	for i, p := range client.completed {
		number := aws.ToInt32(p.PartNumber)
		if i > 0 {
			assert.Greater(t, number, aws.ToInt32(client.completed[i-1].PartNumber))
		}
		assert.Equal(t, int32(offset/grid+1), number)
		assert.Equal(t, fmt.Sprintf("etag-%d", number), aws.ToString(p.ETag))
		offset += lengths[number]
	}
	assert.Equal(t, size, offset)
}

func TestConn_BeginPutRejectsOversizedMultipart(t *testing.T) {
	z := New(&recordingClient{}, Config{Bucket: "zone"}, nil)
	conn, err := z.Connect(t.Context(), transporttest.TestAccount())
	require.NoError(t, err)

	_, err = conn.BeginPut(t.Context(), "/tempZone/huge", 30<<40, transport.PutOptions{Overwrite: true})
	assert.ErrorIs(t, err, rodserrors.InvalidArgument)
	assert.Zero(t, z.PendingUploads())
}
