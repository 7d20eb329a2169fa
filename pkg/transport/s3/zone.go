// Package s3 provides a zone backed by an S3-compatible bucket.
//
// Object paths become keys (leading slash removed, KeyPrefix prepended).
// Uploads of at least MultipartThreshold bytes use S3 multipart uploads:
// each range is sent as one or more parts of at most UploadPartSize bytes,
// numbered by their offset so parts from concurrent ranges stay ordered.
// Smaller uploads are assembled in memory and written with a single
// PutObject, because S3 rejects non-final parts under 5MiB.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/internal/telemetry"
	"github.com/marmos91/gorods/pkg/account"
	"github.com/marmos91/gorods/pkg/bufpool"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/metrics"
	"github.com/marmos91/gorods/pkg/transport"
)

// MinPartSize is the smallest non-final part S3 accepts.
const MinPartSize = 5 << 20

// MaxPartSize is the largest part S3 accepts.
const MaxPartSize = 5 << 30

// MaxParts is the largest number of parts in one multipart upload.
const MaxParts = 10000

// DefaultMultipartThreshold is the upload size at which multipart uploads
// are used.
const DefaultMultipartThreshold = 64 << 20

// DefaultUploadPartSize is the largest part sent by a single UploadPart.
const DefaultUploadPartSize = 16 << 20

// metadataResource is the user metadata key holding the storage resource.
const metadataResource = "resource"

// Config holds configuration for an S3 zone.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// KeyPrefix is prepended to all object keys.
	KeyPrefix string

	// MaxRetries is the maximum number of attempts for transient errors.
	MaxRetries int

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool

	// AccessKeyID and SecretAccessKey select static credentials. When empty
	// the SDK default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// MultipartThreshold is the upload size at which multipart uploads are
	// used. Values below MinPartSize are raised to it.
	MultipartThreshold int64

	// UploadPartSize bounds the parts of a multipart upload and the memory
	// held per range in flight. Values below 2*MinPartSize are raised to it.
	UploadPartSize int64
}

// Client is the subset of the S3 API used by a Zone. *s3.Client
// satisfies it.
type Client interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ Client = (*s3.Client)(nil)

type upload struct {
	path        string
	key         string
	size        int64
	contentType string
	resource    string

	// multipartID is empty for buffered uploads, which fill data instead.
	multipartID string
	data        []byte

	// partSize bounds each part; grid maps part offsets to part numbers.
	partSize int64
	grid     int64

	// etags maps part numbers to ETags. Guarded by Zone.mu.
	etags map[int32]string
}

// Zone is an S3-backed zone. Zone implements transport.Supplier.
type Zone struct {
	client             Client
	bucket             string
	keyPrefix          string
	multipartThreshold int64
	partSize           int64
	metrics            *metrics.S3Metrics

	mu      sync.Mutex
	uploads map[string]*upload

	open atomic.Int64
}

// New creates an S3 zone with an existing client. m may be nil.
func New(client Client, cfg Config, m *metrics.S3Metrics) *Zone {
	threshold := cfg.MultipartThreshold
	if threshold == 0 {
		threshold = DefaultMultipartThreshold
	}
	threshold = max(threshold, MinPartSize)

	partSize := cfg.UploadPartSize
	if partSize == 0 {
		partSize = DefaultUploadPartSize
	}
	partSize = min(max(partSize, 2*MinPartSize), MaxPartSize)

	return &Zone{
		client:             client,
		bucket:             cfg.Bucket,
		keyPrefix:          cfg.KeyPrefix,
		multipartThreshold: threshold,
		partSize:           partSize,
		metrics:            m,
		uploads:            make(map[string]*upload),
	}
}

// NewFromConfig creates an S3 zone, building the client from cfg.
func NewFromConfig(ctx context.Context, cfg Config, m *metrics.S3Metrics) (*Zone, error) {
	if cfg.Bucket == "" {
		return nil, rodserrors.NewConfigurationError("s3.NewFromConfig", "bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxRetries))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg, m), nil
}

// Bucket returns the bucket name.
func (z *Zone) Bucket() string {
	return z.bucket
}

// OpenConns returns the number of connections not yet closed.
func (z *Zone) OpenConns() int64 {
	return z.open.Load()
}

// PendingUploads returns the number of uploads neither completed nor aborted.
func (z *Zone) PendingUploads() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return len(z.uploads)
}

// Connect opens a new connection to the zone. Connections share the zone's
// client; no network round trip happens here.
func (z *Zone) Connect(ctx context.Context, acct account.Account) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	z.open.Add(1)
	c := &conn{id: uuid.NewString(), acct: acct, zone: z}
	logger.DebugCtx(ctx, "s3 connection opened",
		logger.KeyConnectionID, c.id, logger.KeyBackend, "s3", logger.KeyBucket, z.bucket)
	return c, nil
}

// objectKey maps an object path to an S3 key.
func (z *Zone) objectKey(path string) string {
	return z.keyPrefix + strings.TrimPrefix(path, "/")
}

func (z *Zone) lookup(op, path, uploadID string) (*upload, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	up, ok := z.uploads[uploadID]
	if !ok || up.path != path {
		return nil, rodserrors.NewNotFoundError(op, "upload "+uploadID)
	}
	return up, nil
}

// newMultipart sizes the parts of a multipart upload of size bytes. Part
// numbers are offset/grid+1, so at most MaxParts numbers exist and two
// parts at least grid bytes apart never share one.
func (z *Zone) newMultipart(op string, up *upload) error {
	up.grid = max(1, (up.size+MaxParts-1)/MaxParts)
	up.partSize = max(z.partSize, 2*up.grid)
	if up.partSize > MaxPartSize {
		return rodserrors.NewInvalidArgumentError(op,
			fmt.Sprintf("%d bytes exceed the largest multipart upload", up.size))
	}
	up.etags = make(map[int32]string)
	return nil
}

// chunk is one part of a multipart range.
type chunk struct {
	offset int64
	length int64
}

// splitRange cuts [offset, offset+length) into the fewest near-equal chunks
// of at most partSize bytes, largest first. Every chunk of a range longer
// than partSize is more than partSize/2 bytes.
func splitRange(offset, length, partSize int64) []chunk {
	if length <= 0 {
		return nil
	}
	n := (length + partSize - 1) / partSize
	base, rem := length/n, length%n

	chunks := make([]chunk, n)
	for i := range chunks {
		l := base
		if int64(i) < rem {
			l++
		}
		chunks[i] = chunk{offset: offset, length: l}
		offset += l
	}
	return chunks
}

func (z *Zone) forget(uploadID string) {
	z.mu.Lock()
	delete(z.uploads, uploadID)
	z.mu.Unlock()
}

// span starts a span for a single S3 call.
func (z *Zone) span(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, "s3."+name,
		trace.WithAttributes(telemetry.Bucket(z.bucket), telemetry.StorageKey(key)))
}

// observe records the outcome of an S3 call.
func (z *Zone) observe(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	z.metrics.ObserveOperation(operation, time.Since(start), err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	span.End()
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	switch apiErrorCode(err) {
	case "NotFound", "NoSuchKey":
		return true
	}
	return false
}

// conn is a connection to a Zone.
type conn struct {
	id     string
	acct   account.Account
	zone   *Zone
	closed bool
}

func (c *conn) ID() string               { return c.id }
func (c *conn) Account() account.Account { return c.acct }
func (c *conn) Closed() bool             { return c.closed }

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.zone.open.Add(-1)
	return nil
}

func (c *conn) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	ctx, span := c.zone.span(ctx, "HeadObject", key)
	start := time.Now()
	out, err := c.zone.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.zone.bucket),
		Key:    aws.String(key),
	})
	c.zone.observe(ctx, span, "HeadObject", start, err)
	return out, err
}

func (c *conn) Stat(ctx context.Context, path string) (transport.ObjectInfo, error) {
	const op = "s3.Stat"
	if c.closed {
		return transport.ObjectInfo{}, rodserrors.NewClosedError(op)
	}

	out, err := c.head(ctx, c.zone.objectKey(path))
	if isNotFound(err) {
		return transport.ObjectInfo{}, rodserrors.NewNotFoundError(op, path)
	}
	if err != nil {
		return transport.ObjectInfo{}, fmt.Errorf("head object %s: %w", path, err)
	}

	return transport.ObjectInfo{
		Path:        path,
		Size:        aws.ToInt64(out.ContentLength),
		ModTime:     aws.ToTime(out.LastModified),
		ContentType: aws.ToString(out.ContentType),
		Resource:    out.Metadata[metadataResource],
	}, nil
}

func (c *conn) BeginPut(ctx context.Context, path string, size int64, opts transport.PutOptions) (string, error) {
	const op = "s3.BeginPut"
	if c.closed {
		return "", rodserrors.NewClosedError(op)
	}
	if size < 0 {
		return "", rodserrors.NewInvalidArgumentError(op, fmt.Sprintf("negative size %d", size))
	}

	key := c.zone.objectKey(path)
	if !opts.Overwrite {
		_, err := c.head(ctx, key)
		if err == nil {
			return "", rodserrors.NewInvalidArgumentError(op, fmt.Sprintf("%s already exists", path))
		}
		if !isNotFound(err) {
			return "", fmt.Errorf("head object %s: %w", path, err)
		}
	}

	up := &upload{path: path, key: key, size: size, contentType: opts.ContentType, resource: opts.Resource}
	if up.resource == "" {
		up.resource = c.acct.DefaultResource
	}

	if size < c.zone.multipartThreshold {
		up.data = make([]byte, size)
	} else {
		if err := c.zone.newMultipart(op, up); err != nil {
			return "", err
		}
		input := &s3.CreateMultipartUploadInput{
			Bucket: aws.String(c.zone.bucket),
			Key:    aws.String(key),
		}
		if up.contentType != "" {
			input.ContentType = aws.String(up.contentType)
		}
		if up.resource != "" {
			input.Metadata = map[string]string{metadataResource: up.resource}
		}

		spanCtx, span := c.zone.span(ctx, "CreateMultipartUpload", key)
		start := time.Now()
		out, err := c.zone.client.CreateMultipartUpload(spanCtx, input)
		c.zone.observe(spanCtx, span, "CreateMultipartUpload", start, err)
		if err != nil {
			return "", fmt.Errorf("create multipart upload %s: %w", path, err)
		}
		up.multipartID = aws.ToString(out.UploadId)
		c.zone.metrics.UploadStarted()
	}

	id := uuid.NewString()
	c.zone.mu.Lock()
	c.zone.uploads[id] = up
	c.zone.mu.Unlock()

	logger.DebugCtx(ctx, "s3 upload started",
		logger.KeyPath, path, logger.KeyUploadID, id, logger.KeyKey, key,
		logger.KeyTotalBytes, size, "multipart", up.multipartID != "")
	return id, nil
}

func (c *conn) PutRange(ctx context.Context, req transport.PutRangeRequest) (transport.Part, error) {
	const op = "s3.PutRange"
	if c.closed {
		return transport.Part{}, rodserrors.NewClosedError(op)
	}

	up, err := c.zone.lookup(op, req.Path, req.UploadID)
	if err != nil {
		return transport.Part{}, err
	}
	end := req.Offset + req.Length
	if req.Offset < 0 || req.Length < 0 || end > up.size {
		return transport.Part{}, rodserrors.NewInvalidArgumentError(op,
			fmt.Sprintf("range [%d, %d) outside object of %d bytes", req.Offset, end, up.size))
	}

	part := transport.Part{Index: req.Index, Offset: req.Offset, Length: req.Length}

	// Ranges are disjoint, so buffered uploads read straight into place.
	if up.multipartID == "" {
		if _, err := io.ReadFull(req.Body, up.data[req.Offset:end]); err != nil {
			return transport.Part{}, fmt.Errorf("read range %d: %w", req.Index, err)
		}
		part.ETag = fmt.Sprintf("%s-%d", req.UploadID[:8], req.Index)
		return part, nil
	}

	chunks := splitRange(req.Offset, req.Length, up.partSize)
	minPart := max(int64(MinPartSize), up.grid)
	for _, ch := range chunks {
		if ch.length < minPart && ch.offset+ch.length != up.size {
			return transport.Part{}, rodserrors.NewInvalidArgumentError(op,
				fmt.Sprintf("range %d has a %d byte part, below the %d byte minimum part size", req.Index, ch.length, minPart))
		}
	}
	if len(chunks) == 0 {
		return part, nil
	}

	// The request is signed, so each part is buffered to be seekable.
	buf := bufpool.Get(int(chunks[0].length))
	defer bufpool.Put(buf)

	etags := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		etag, err := c.uploadPart(ctx, up, ch, req.Body, buf[:ch.length])
		if err != nil {
			return transport.Part{}, fmt.Errorf("range %d of %s: %w", req.Index, req.Path, err)
		}
		etags = append(etags, etag)
	}

	part.ETag = strings.Join(etags, ",")
	return part, nil
}

// uploadPart reads one chunk from body into buf and sends it as the part
// numbered by its offset.
func (c *conn) uploadPart(ctx context.Context, up *upload, ch chunk, body io.Reader, buf []byte) (string, error) {
	number := int32(ch.offset/up.grid + 1)
	if _, err := io.ReadFull(body, buf); err != nil {
		return "", fmt.Errorf("read part %d: %w", number, err)
	}

	ctx, span := c.zone.span(ctx, "UploadPart", up.key)
	start := time.Now()
	out, err := c.zone.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(c.zone.bucket),
		Key:           aws.String(up.key),
		UploadId:      aws.String(up.multipartID),
		PartNumber:    aws.Int32(number),
		Body:          bytes.NewReader(buf),
		ContentLength: aws.Int64(ch.length),
	})
	c.zone.observe(ctx, span, "UploadPart", start, err)
	if err != nil {
		return "", fmt.Errorf("upload part %d: %w", number, err)
	}
	c.zone.metrics.RecordBytes("UploadPart", ch.length)

	etag := aws.ToString(out.ETag)
	c.zone.mu.Lock()
	up.etags[number] = etag
	c.zone.mu.Unlock()
	return etag, nil
}

func (c *conn) CompletePut(ctx context.Context, path, uploadID string, parts []transport.Part) error {
	const op = "s3.CompletePut"
	if c.closed {
		return rodserrors.NewClosedError(op)
	}

	up, err := c.zone.lookup(op, path, uploadID)
	if err != nil {
		return err
	}
	if err := transport.CheckParts(op, parts, up.size); err != nil {
		return err
	}

	if up.multipartID == "" {
		err = c.putObject(ctx, up)
	} else {
		err = c.completeMultipart(ctx, up)
	}
	if err != nil {
		return err
	}

	c.zone.forget(uploadID)
	return nil
}

func (c *conn) putObject(ctx context.Context, up *upload) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.zone.bucket),
		Key:           aws.String(up.key),
		Body:          bytes.NewReader(up.data),
		ContentLength: aws.Int64(up.size),
	}
	if up.contentType != "" {
		input.ContentType = aws.String(up.contentType)
	}
	if up.resource != "" {
		input.Metadata = map[string]string{metadataResource: up.resource}
	}

	ctx, span := c.zone.span(ctx, "PutObject", up.key)
	start := time.Now()
	_, err := c.zone.client.PutObject(ctx, input)
	c.zone.observe(ctx, span, "PutObject", start, err)
	if err != nil {
		return fmt.Errorf("put object %s: %w", up.path, err)
	}
	c.zone.metrics.RecordBytes("PutObject", up.size)
	return nil
}

func (c *conn) completeMultipart(ctx context.Context, up *upload) error {
	c.zone.mu.Lock()
	numbers := slices.Sorted(maps.Keys(up.etags))
	completed := make([]types.CompletedPart, len(numbers))
	for i, n := range numbers {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(up.etags[n]),
			PartNumber: aws.Int32(n),
		}
	}
	c.zone.mu.Unlock()

	ctx, span := c.zone.span(ctx, "CompleteMultipartUpload", up.key)
	start := time.Now()
	_, err := c.zone.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.zone.bucket),
		Key:             aws.String(up.key),
		UploadId:        aws.String(up.multipartID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	c.zone.observe(ctx, span, "CompleteMultipartUpload", start, err)
	if err != nil {
		return fmt.Errorf("complete multipart upload %s: %w", up.path, err)
	}
	c.zone.metrics.UploadFinished(false)
	return nil
}

func (c *conn) AbortPut(ctx context.Context, path, uploadID string) error {
	const op = "s3.AbortPut"
	if c.closed {
		return rodserrors.NewClosedError(op)
	}

	c.zone.mu.Lock()
	up, ok := c.zone.uploads[uploadID]
	delete(c.zone.uploads, uploadID)
	c.zone.mu.Unlock()

	if !ok || up.multipartID == "" {
		return nil
	}

	ctx, span := c.zone.span(ctx, "AbortMultipartUpload", up.key)
	start := time.Now()
	_, err := c.zone.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.zone.bucket),
		Key:      aws.String(up.key),
		UploadId: aws.String(up.multipartID),
	})
	c.zone.observe(ctx, span, "AbortMultipartUpload", start, err)
	c.zone.metrics.UploadFinished(true)
	if err != nil {
		return fmt.Errorf("abort multipart upload %s: %w", path, err)
	}
	return nil
}

func (c *conn) GetRange(ctx context.Context, path string, offset, length int64, w io.Writer) (int64, error) {
	const op = "s3.GetRange"
	if c.closed {
		return 0, rodserrors.NewClosedError(op)
	}
	if offset < 0 {
		return 0, rodserrors.NewInvalidArgumentError(op, fmt.Sprintf("negative offset %d", offset))
	}
	if length <= 0 {
		return 0, nil
	}

	key := c.zone.objectKey(path)
	spanCtx, span := c.zone.span(ctx, "GetObject", key)
	start := time.Now()
	out, err := c.zone.client.GetObject(spanCtx, &s3.GetObjectInput{
		Bucket: aws.String(c.zone.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		c.zone.observe(spanCtx, span, "GetObject", start, err)
		if isNotFound(err) {
			return 0, rodserrors.NewNotFoundError(op, path)
		}
		if apiErrorCode(err) == "InvalidRange" {
			return 0, c.rangeAtEnd(ctx, path, offset)
		}
		return 0, fmt.Errorf("get object %s: %w", path, err)
	}
	defer out.Body.Close()

	buf := bufpool.Get(bufpool.DefaultSmallSize)
	defer bufpool.Put(buf)

	n, err := io.CopyBuffer(w, out.Body, buf)
	c.zone.observe(spanCtx, span, "GetObject", start, err)
	c.zone.metrics.RecordBytes("GetObject", n)
	return n, err
}

// rangeAtEnd resolves an unsatisfiable range: reading at the end of an
// object yields nothing, anything past it is an invalid argument.
func (c *conn) rangeAtEnd(ctx context.Context, path string, offset int64) error {
	const op = "s3.GetRange"

	out, err := c.head(ctx, c.zone.objectKey(path))
	if isNotFound(err) {
		return rodserrors.NewNotFoundError(op, path)
	}
	if err != nil {
		return fmt.Errorf("head object %s: %w", path, err)
	}
	if size := aws.ToInt64(out.ContentLength); offset != size {
		return rodserrors.NewInvalidArgumentError(op,
			fmt.Sprintf("offset %d outside object of %d bytes", offset, size))
	}
	return nil
}

// Ensure Zone implements transport.Supplier.
var _ transport.Supplier = (*Zone)(nil)
