package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(HTTPHandler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNoopMetrics(t *testing.T) {
	// runs before the prometheus provider is installed
	m := noopMetrics{}
	m.Counter("x").Add(1)
	m.CounterVec("x", []string{"a"}).AddWithLabel(1, map[string]string{"a": "b"})
	m.Gauge("x").Set(3)
	m.Histogram("x", BucketGas).Observe(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrometheusMetrics(t *testing.T) {
	InitializePrometheusMetrics()
	InitializePrometheusMetrics()

	lazy := LazyLoadCounterVec("test_calls_count", []string{"status"})
	lazy().AddWithLabel(2, map[string]string{"status": "success"})
	lazy().AddWithLabel(1, map[string]string{"status": "success"})
	LazyLoadGauge("test_depth")().Set(5)
	LazyLoadHistogram("test_gas", BucketGas)().Observe(1500)
	LazyLoadCounter("test_total")().Add(7)

	assert.Equal(t, lazy(), lazy())
	assert.Equal(t, Counter("test_total"), Counter("test_total"))

	body := scrape(t)
	assert.Contains(t, body, `avm_test_calls_count{status="success"} 3`)
	assert.Contains(t, body, "avm_test_depth 5")
	assert.Contains(t, body, `avm_test_gas_bucket{le="10000"} 1`)
	assert.Contains(t, body, "avm_test_total 7")
}
