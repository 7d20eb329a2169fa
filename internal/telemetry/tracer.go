package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrAccount      = "rods.account"
	AttrZone         = "rods.zone"
	AttrHost         = "rods.host"
	AttrConnectionID = "rods.connection_id"
	AttrCached       = "rods.cached"

	AttrTransferID = "transfer.id"
	AttrDirection  = "transfer.direction"
	AttrPath       = "transfer.path"
	AttrLocalPath  = "transfer.local_path"
	AttrSize       = "transfer.size"
	AttrStreams    = "transfer.streams"
	AttrStream     = "transfer.stream"
	AttrOffset     = "transfer.offset"
	AttrLength     = "transfer.length"
	AttrBytes      = "transfer.bytes"

	AttrPoolCore  = "pool.core_workers"
	AttrPoolMax   = "pool.max_workers"
	AttrPoolQueue = "pool.queue_size"

	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
)

// Span names. Format: <component>.<operation>
const (
	SpanSessionAcquire = "session.acquire"
	SpanTransferPut    = "transfer.put"
	SpanTransferGet    = "transfer.get"
	SpanTransferStream = "transfer.stream"
)

// Account returns an attribute for an account; pass account.String().
func Account(s string) attribute.KeyValue { return attribute.String(AttrAccount, s) }

// Zone returns an attribute for a zone name.
func Zone(z string) attribute.KeyValue { return attribute.String(AttrZone, z) }

// ConnectionID returns an attribute for a connection id.
func ConnectionID(id string) attribute.KeyValue { return attribute.String(AttrConnectionID, id) }

// Cached returns an attribute reporting whether a connection came from cache.
func Cached(v bool) attribute.KeyValue { return attribute.Bool(AttrCached, v) }

// TransferID returns an attribute for a transfer id.
func TransferID(id string) attribute.KeyValue { return attribute.String(AttrTransferID, id) }

// Direction returns an attribute for the transfer direction.
func Direction(d string) attribute.KeyValue { return attribute.String(AttrDirection, d) }

// Path returns an attribute for a logical path.
func Path(p string) attribute.KeyValue { return attribute.String(AttrPath, p) }

// LocalPath returns an attribute for a local file path.
func LocalPath(p string) attribute.KeyValue { return attribute.String(AttrLocalPath, p) }

// Size returns an attribute for an object size.
func Size(n int64) attribute.KeyValue { return attribute.Int64(AttrSize, n) }

// Streams returns an attribute for the number of streams.
func Streams(n int) attribute.KeyValue { return attribute.Int(AttrStreams, n) }

// Stream returns an attribute for a stream index.
func Stream(i int) attribute.KeyValue { return attribute.Int(AttrStream, i) }

// Offset returns an attribute for a byte offset.
func Offset(n int64) attribute.KeyValue { return attribute.Int64(AttrOffset, n) }

// Length returns an attribute for a byte length.
func Length(n int64) attribute.KeyValue { return attribute.Int64(AttrLength, n) }

// Bytes returns an attribute for bytes moved.
func Bytes(n int64) attribute.KeyValue { return attribute.Int64(AttrBytes, n) }

// Bucket returns an attribute for an S3 bucket name.
func Bucket(name string) attribute.KeyValue { return attribute.String(AttrBucket, name) }

// StorageKey returns an attribute for an S3 object key.
func StorageKey(key string) attribute.KeyValue { return attribute.String(AttrKey, key) }

// PoolShape returns the attributes describing a pool configuration.
func PoolShape(core, max, queue int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrPoolCore, core),
		attribute.Int(AttrPoolMax, max),
		attribute.Int(AttrPoolQueue, queue),
	}
}

// StartTransferSpan starts the root span of a put or get.
func StartTransferSpan(ctx context.Context, name, transferID, path string, size int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{TransferID(transferID), Path(path), Size(size)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}

// StartStreamSpan starts the span of one transfer stream.
func StartStreamSpan(ctx context.Context, stream int, offset, length int64) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanTransferStream, trace.WithAttributes(Stream(stream), Offset(offset), Length(length)))
}
