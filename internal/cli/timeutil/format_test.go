package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "850ms", FormatDuration(850*time.Millisecond))
	assert.Equal(t, "12.4s", FormatDuration(12400*time.Millisecond))
	assert.Equal(t, "3m 5s", FormatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h 0m 7s", FormatDuration(2*time.Hour+7*time.Second))
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "2.00 MiB/s", FormatRate(4<<20, 2*time.Second))
	assert.Equal(t, "-", FormatRate(1024, 0))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", FormatTime(time.Time{}))

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, ts.Local().Format(LocalTimeFormat), FormatTime(ts))
}
