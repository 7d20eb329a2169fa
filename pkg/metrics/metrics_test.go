package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var s *SessionMetrics
	var p *PoolMetrics
	var tr *TransferMetrics
	var s3 *S3Metrics

	assert.NotPanics(t, func() {
		s.RecordDial("success")
		s.RecordHit()
		s.RecordRelease("release", 1)
		p.RecordCreated()
		p.RecordTask("rejected")
		p.ObserveTask(time.Millisecond, nil)
		p.SetWorkers(1)
		p.SetQueued(1)
		tr.ObserveTransfer("put", 2, 10, time.Second, nil)
		tr.RecordStatusEvent("put")
		tr.StreamStarted()
		tr.StreamFinished()
		s3.ObserveOperation("PutObject", time.Millisecond, nil)
		s3.RecordBytes("GetObject", 1)
		s3.UploadStarted()
		s3.UploadFinished(true)
	})
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(reg)

	m.RecordDial("success")
	m.RecordDial("success")
	m.RecordDial("error")
	m.RecordHit()
	m.RecordRelease("release_all", 2)

	assert.Equal(t, float64(2), counterValue(t, m.Dials.WithLabelValues("success")))
	assert.Equal(t, float64(1), counterValue(t, m.Dials.WithLabelValues("error")))
	assert.Equal(t, float64(1), counterValue(t, m.Hits))
	assert.Equal(t, float64(0), gaugeValue(t, m.OpenConnections))
}

func TestRegisterOrReuseSharesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPoolMetrics(reg)
	b := NewPoolMetrics(reg)

	a.RecordCreated()
	b.RecordCreated()

	assert.Equal(t, float64(2), counterValue(t, a.Created))
}

func TestPoolMetricsObserveTask(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPoolMetrics(reg)

	m.ObserveTask(10*time.Millisecond, nil)
	m.ObserveTask(10*time.Millisecond, errors.New("boom"))
	m.SetWorkers(3)

	assert.Equal(t, float64(1), counterValue(t, m.Tasks.WithLabelValues("completed")))
	assert.Equal(t, float64(1), counterValue(t, m.Tasks.WithLabelValues("failed")))
	assert.Equal(t, float64(3), gaugeValue(t, m.Workers))
}

func TestRegistryLifecycle(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	assert.False(t, IsEnabled())
	assert.Nil(t, GetRegistry())

	InitRegistry()
	InitRegistry()
	assert.True(t, IsEnabled())
	assert.NotNil(t, GetRegistry())
	assert.NotNil(t, Gatherer())
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTransferMetrics(reg)
	m.ObserveTransfer("put", 4, 1024, time.Second, nil)

	srv := NewServer(0, reg)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `gorods_transfer_bytes_total{direction="put"} 1024`), body)
}
