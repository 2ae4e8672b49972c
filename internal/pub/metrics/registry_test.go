package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"asyncpub/internal/pub/metrics"
)

func TestRegistryRecordsPublisherMetrics(t *testing.T) {
	r := metrics.NewRegistry()

	r.RecordTransportPublish("orders", "", 10, time.Millisecond, nil)
	r.RecordTransportPublish("orders", "cust-1", 3, time.Millisecond, errors.New("unavailable"))
	r.RecordAccepted("orders", "added")
	r.RecordRejected("orders", "stopped")
	r.RecordCallback("orders", nil)
	r.RecordCallback("orders", nil)
	r.RecordKeyCanceled("orders")
	r.UpdateActiveBatches("orders", 3)
	r.UpdateFlowControl("orders", 5, 500)

	count, err := testutil.GatherAndCount(r.Gatherer(),
		"pub_transport_publish_total",
		"pub_publisher_callbacks_total",
		"pub_publisher_active_batches",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	assert.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(`
# HELP pub_publisher_callbacks_total Total number of publish results delivered to callbacks
# TYPE pub_publisher_callbacks_total counter
pub_publisher_callbacks_total{status="success",topic="orders"} 2
`), "pub_publisher_callbacks_total"))

	assert.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(`
# HELP pub_transport_publish_total Total number of publish requests sent to the transport
# TYPE pub_transport_publish_total counter
pub_transport_publish_total{ordered="false",status="success",topic="orders"} 1
pub_transport_publish_total{ordered="true",status="error",topic="orders"} 1
`), "pub_transport_publish_total"))
}

func TestServerHandlers(t *testing.T) {
	r := metrics.NewRegistry()
	var ready atomic.Bool
	ready.Store(true)
	s := metrics.NewServer(metrics.ServerConfig{Port: 0, Timeout: time.Second}, r, zaptest.NewLogger(t), ready.Load)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "healthy")

	code, _ = get("/ready")
	assert.Equal(t, http.StatusOK, code)

	ready.Store(false)
	code, body = get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "stopping")

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "pub_start_time_seconds")
}
