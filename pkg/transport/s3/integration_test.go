//go:build integration

package s3

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/gorods/pkg/metrics"
	"github.com/marmos91/gorods/pkg/transport"
	"github.com/marmos91/gorods/pkg/transport/transporttest"
)

const testBucket = "gorods-test"

var (
	endpointOnce sync.Once
	endpoint     string
	endpointErr  error
)

// localstackEndpoint returns LOCALSTACK_ENDPOINT when set, otherwise starts
// one container shared by every test in the package.
func localstackEndpoint(t *testing.T) string {
	t.Helper()

	endpointOnce.Do(func() {
		if ep := os.Getenv("LOCALSTACK_ENDPOINT"); ep != "" {
			endpoint = ep
			return
		}

		ctx := context.Background()
		container, err := localstack.Run(ctx,
			"localstack/localstack:latest",
			testcontainers.WithWaitStrategy(
				wait.ForHTTP("/_localstack/health").
					WithPort("4566").
					WithStartupTimeout(2*time.Minute),
			),
		)
		if err != nil {
			endpointErr = fmt.Errorf("failed to start LocalStack container: %w", err)
			return
		}

		host, err := container.Host(ctx)
		if err != nil {
			endpointErr = err
			return
		}
		port, err := container.MappedPort(ctx, "4566")
		if err != nil {
			endpointErr = err
			return
		}
		endpoint = fmt.Sprintf("http://%s:%s", host, port.Port())
	})

	if endpointErr != nil {
		t.Skipf("localstack unavailable: %v", endpointErr)
	}
	return endpoint
}

func newTestZone(t *testing.T, m *metrics.S3Metrics) *Zone {
	t.Helper()

	z, err := NewFromConfig(t.Context(), Config{
		Bucket:          testBucket,
		Region:          "us-east-1",
		Endpoint:        localstackEndpoint(t),
		ForcePathStyle:  true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		KeyPrefix:       uuid.NewString() + "/",
	}, m)
	require.NoError(t, err)

	_, err = z.client.CreateBucket(t.Context(), &s3.CreateBucketInput{Bucket: aws.String(testBucket)})
	if err != nil && apiErrorCode(err) != "BucketAlreadyOwnedByYou" && apiErrorCode(err) != "BucketAlreadyExists" {
		require.NoError(t, err)
	}
	return z
}

func TestConformance(t *testing.T) {
	transporttest.RunConformanceSuite(t, func(t *testing.T) transport.Supplier {
		return newTestZone(t, nil)
	})
}

func TestIntegration_Multipart(t *testing.T) {
	reg := prometheus.NewRegistry()
	z := newTestZone(t, metrics.NewS3Metrics(reg))
	path := "/tempZone/home/rods/large.bin"

	size := int64(2*MinPartSize + 1024)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	owner, err := z.Connect(t.Context(), transporttest.TestAccount())
	require.NoError(t, err)
	defer owner.Close()

	z.multipartThreshold = MinPartSize
	id, err := owner.BeginPut(t.Context(), path, size, transport.PutOptions{ContentType: "application/octet-stream", Resource: "s3Resc"})
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		parts []transport.Part
	)
	ranges := [][2]int64{{0, MinPartSize}, {MinPartSize, MinPartSize}, {2 * MinPartSize, 1024}}
	for i, r := range ranges {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := z.Connect(t.Context(), transporttest.TestAccount())
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()

			part, err := conn.PutRange(t.Context(), transport.PutRangeRequest{
				Path: path, UploadID: id, Index: i, Offset: r[0], Length: r[1],
				Body: bytes.NewReader(data[r[0] : r[0]+r[1]]),
			})
			if assert.NoError(t, err) {
				assert.NotEmpty(t, part.ETag)
				mu.Lock()
				parts = append(parts, part)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, parts, 3)
	require.NoError(t, owner.CompletePut(t.Context(), path, id, parts))

	info, err := owner.Stat(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, size, info.Size)
	assert.Equal(t, "s3Resc", info.Resource)

	var buf bytes.Buffer
	_, err = owner.GetRange(t.Context(), path, MinPartSize-10, 20, &buf)
	require.NoError(t, err)
	assert.Equal(t, data[MinPartSize-10:MinPartSize+10], buf.Bytes())

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestIntegration_AbortMultipart(t *testing.T) {
	z := newTestZone(t, nil)
	z.multipartThreshold = MinPartSize

	conn, err := z.Connect(t.Context(), transporttest.TestAccount())
	require.NoError(t, err)
	defer conn.Close()

	id, err := conn.BeginPut(t.Context(), "/tempZone/home/rods/abort.bin", 2*MinPartSize, transport.PutOptions{})
	require.NoError(t, err)
	require.NoError(t, conn.AbortPut(t.Context(), "/tempZone/home/rods/abort.bin", id))
	assert.Zero(t, z.PendingUploads())
}
