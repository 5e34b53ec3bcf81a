package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordsStreams(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	done := c.StreamStarted()
	if got := testutil.ToFloat64(c.inProgress); got != 1 {
		t.Fatalf("expected 1 in progress, got %v", got)
	}
	c.FirstChunk(20 * time.Millisecond)
	c.ChunkRelayed()
	c.ChunkRelayed()
	done(OutcomeCompleted, time.Second)

	c.StreamStarted()(OutcomeClientDisconnected, time.Millisecond)
	c.UpstreamError("backend_unavailable")
	c.Rejected()

	if got := testutil.ToFloat64(c.inProgress); got != 0 {
		t.Fatalf("expected 0 in progress, got %v", got)
	}
	if got := testutil.ToFloat64(c.streams.WithLabelValues(OutcomeCompleted)); got != 1 {
		t.Fatalf("completed = %v", got)
	}
	if got := testutil.ToFloat64(c.streams.WithLabelValues(OutcomeClientDisconnected)); got != 1 {
		t.Fatalf("client_disconnected = %v", got)
	}
	if got := testutil.ToFloat64(c.streams.WithLabelValues(OutcomeRejected)); got != 1 {
		t.Fatalf("rejected = %v", got)
	}
	if got := testutil.ToFloat64(c.chunks); got != 2 {
		t.Fatalf("chunks = %v", got)
	}
	if got := testutil.ToFloat64(c.upstreamErrors.WithLabelValues("backend_unavailable")); got != 1 {
		t.Fatalf("upstream errors = %v", got)
	}
	if n := testutil.CollectAndCount(c.duration); n != 1 {
		t.Fatalf("expected one duration series, got %d", n)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.StreamStarted()(OutcomeFailed, 0)
	c.FirstChunk(time.Second)
	c.ChunkRelayed()
	c.UpstreamError("x")
	c.Rejected()
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	c := NewCollector(reg)
	c.ChunkRelayed()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "relay_chunks_relayed_total 1") {
		t.Fatalf("missing counter in output:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("missing runtime collector output")
	}
}
