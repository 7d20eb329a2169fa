package badger

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Key Namespace
// ============================================================================
//
// Data Type        Prefix  Key Format                     Value
// ===========================================================================
// Object manifest  "o:"    o:<path>                       manifest (JSON)
// Open upload      "u:"    u:<uploadID>                   uploadRecord (JSON)
// Chunk            "c:"    c:<uploadID>:<offset %016x>    raw bytes
//
// Chunks belong to the upload that wrote them. Completing an upload points the
// object's manifest at the upload id, so publishing never copies data.
// Offsets are fixed-width hex so chunks of an upload iterate in byte order.

const (
	prefixObject = "o:"
	prefixUpload = "u:"
	prefixChunk  = "c:"
)

func keyObject(path string) []byte {
	return []byte(prefixObject + path)
}

func keyUpload(id string) []byte {
	return []byte(prefixUpload + id)
}

func keyChunkPrefix(uploadID string) []byte {
	return []byte(prefixChunk + uploadID + ":")
}

func keyChunk(uploadID string, offset int64) []byte {
	return fmt.Appendf(keyChunkPrefix(uploadID), "%016x", offset)
}

// chunkOffset parses the offset suffix of a chunk key.
func chunkOffset(key []byte, prefixLen int) (int64, error) {
	var off int64
	if _, err := fmt.Sscanf(string(key[prefixLen:]), "%016x", &off); err != nil {
		return 0, fmt.Errorf("malformed chunk key %q: %w", key, err)
	}
	return off, nil
}

// manifest is the record of a published object.
type manifest struct {
	UploadID    string    `json:"upload_id"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	ContentType string    `json:"content_type,omitempty"`
	Resource    string    `json:"resource,omitempty"`
	Parts       int       `json:"parts"`
}

// uploadRecord is the record of an upload that has not completed.
type uploadRecord struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	Resource    string    `json:"resource,omitempty"`
	Started     time.Time `json:"started"`
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &v, nil
}
