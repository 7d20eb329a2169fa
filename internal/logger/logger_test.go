package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer and restores the
// previous output, level and format on cleanup.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.Lock()
	origOutput, origColor := output, useColor
	output, useColor = buf, false
	mu.Unlock()

	origLevel := GetLevel()
	origFormat, _ := currentFormat.Load().(string)
	reconfigure()

	t.Cleanup(func() {
		mu.Lock()
		output, useColor = origOutput, origColor
		mu.Unlock()
		SetLevel(origLevel.String())
		SetFormat(origFormat)
		reconfigure()
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		present []string
		absent  []string
	}{
		{"DEBUG", []string{"debug message", "info message", "warn message", "error message"}, nil},
		{"INFO", []string{"info message", "warn message", "error message"}, []string{"debug message"}},
		{"WARN", []string{"warn message", "error message"}, []string{"debug message", "info message"}},
		{"ERROR", []string{"error message"}, []string{"debug message", "info message", "warn message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := captureOutput(t)
			SetLevel(tt.level)

			Debug("debug message")
			Info("info message")
			Warn("warn message")
			Error("error message")

			out := buf.String()
			for _, s := range tt.present {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	captureOutput(t)

	SetLevel("WARN")
	SetLevel("verbose")
	assert.Equal(t, LevelWarn, GetLevel())

	SetLevel("warning")
	assert.Equal(t, LevelWarn, GetLevel())
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestTextFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	Info("connection acquired", KeyConnectionID, "c-1", KeyCached, false, "note", "two words")

	out := buf.String()
	assert.Contains(t, out, "INFO  connection acquired")
	assert.Contains(t, out, "connection_id=c-1")
	assert.Contains(t, out, "cached=false")
	assert.Contains(t, out, `note="two words"`)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestTextFormatGroupsAndAttrs(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	l := With(KeyTransferID, "t-1").WithGroup("pool")
	l.Info("worker started", "workers", 2, slog.Group("queue", "depth", 1))

	out := buf.String()
	assert.Contains(t, out, "transfer_id=t-1")
	assert.Contains(t, out, "pool.workers=2")
	assert.Contains(t, out, "pool.queue.depth=1")
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("json")

	Info("transfer complete", KeyBytes, int64(1024), KeyStreams, 4)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "transfer complete", entry["msg"])
	assert.Equal(t, float64(1024), entry["bytes"])
	assert.Equal(t, float64(4), entry["streams"])
}

func TestContextLogging(t *testing.T) {
	t.Run("LogContextInjectsFields", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")
		SetFormat("json")

		lc := NewLogContext("t-42", "put", "alice#tempZone@host:1247").WithStream(3).WithTrace("abc", "def")
		ctx := WithContext(context.Background(), lc)

		InfoCtx(ctx, "stream finished", "extra", "value")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
		assert.Equal(t, "abc", entry["trace_id"])
		assert.Equal(t, "def", entry["span_id"])
		assert.Equal(t, "t-42", entry["transfer_id"])
		assert.Equal(t, "put", entry["direction"])
		assert.Equal(t, "alice#tempZone@host:1247", entry["account"])
		assert.Equal(t, float64(3), entry["stream"])
		assert.Equal(t, "value", entry["extra"])
	})

	t.Run("StreamOmittedOutsideStreams", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")
		SetFormat("json")

		ctx := WithContext(context.Background(), NewLogContext("t-1", "get", ""))
		InfoCtx(ctx, "planned")

		assert.NotContains(t, buf.String(), `"stream"`)
		assert.NotContains(t, buf.String(), `"account"`)
	})

	t.Run("NilContextHandled", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("INFO")

		require.NotPanics(t, func() {
			InfoCtx(nil, "test message")
		})
		assert.Contains(t, buf.String(), "test message")
	})
}

func TestLogContextClone(t *testing.T) {
	lc := NewLogContext("t-1", "put", "acct")
	assert.Equal(t, -1, lc.Stream)
	assert.False(t, lc.StartTime.IsZero())

	s := lc.WithStream(2)
	assert.Equal(t, 2, s.Stream)
	assert.Equal(t, -1, lc.Stream)

	var nilLC *LogContext
	assert.Nil(t, nilLC.Clone())
	assert.Nil(t, nilLC.WithStream(1))
	assert.Zero(t, nilLC.DurationMs())
}

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, slog.Attr{}, Err(nil))

	attr := Err(assert.AnError)
	assert.Equal(t, KeyError, attr.Key)

	assert.Equal(t, KeyStream, Stream(1).Key)
	assert.Equal(t, int64(5), Offset(5).Value.Int64())
}

func TestConcurrentLogging(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				Info("concurrent", "g", i, "j", j)
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 16*50)
}

func TestInitWithFile(t *testing.T) {
	captureOutput(t)

	path := filepath.Join(t.TempDir(), "gorods.log")
	require.NoError(t, Init(Config{Level: "DEBUG", Format: "text", Output: path}))

	Debug("to file")
	assert.Equal(t, LevelDebug, GetLevel())

	assert.Error(t, Init(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")}))
}
