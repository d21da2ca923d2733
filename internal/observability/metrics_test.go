package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMetrics registers on an isolated registry so tests do not collide
// with the global one.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestRecordRequest(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordRequest("GET", "/api/posts", 200, 20*time.Millisecond)
	m.RecordRequest("GET", "/api/posts", 200, 30*time.Millisecond)
	m.RecordRequest("POST", "/api/posts", 401, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/posts", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/posts", "401")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPRequestDuration))
}

func TestRealtimeMetrics(t *testing.T) {
	m := newTestMetrics(t)
	m.HandleOpened("comments")
	m.HandleOpened("comments")
	m.HandleClosed("comments")
	m.EventApplied("comments", "INSERT")
	m.EventDropped("comments", DropStale)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlesActive.WithLabelValues("comments")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsAppliedTotal.WithLabelValues("comments", "INSERT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDroppedTotal.WithLabelValues("comments", "stale")))
}

func TestCacheAndNotifyMetrics(t *testing.T) {
	m := newTestMetrics(t)
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.NotificationSent("twilio", nil)
	m.NotificationSent("twilio", errors.New("boom"))
	m.ConnectionOpened()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSentTotal.WithLabelValues("twilio", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebsocketConnections))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("GET", "/", 200, time.Millisecond)
		m.HandleOpened("x")
		m.EventDropped("x", DropUnknown)
		m.CacheHit()
		m.NotificationSent("log", nil)
		m.ConnectionClosed()
	})
}

func TestInitTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("campusnet-test", &buf)
	require.NoError(t, err)

	_, span := Tracer("test").Start(context.Background(), "unit-span")
	span.End()
	shutdown(context.Background())

	assert.Contains(t, buf.String(), "unit-span")
}
