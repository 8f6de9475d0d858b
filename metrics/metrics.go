package metrics

import (
	"net/http"
	"sync"
)

// metrics is the process-wide meter provider. It stays a noop until
// InitializePrometheusMetrics is called.
var (
	mu      sync.RWMutex
	metrics Metrics = noopMetrics{}
)

// Metrics creates or returns named meters.
type Metrics interface {
	Counter(name string) CountMeter
	CounterVec(name string, labels []string) CountVecMeter
	Gauge(name string) GaugeMeter
	Histogram(name string, buckets []int64) HistogramMeter
	Handler() http.Handler
}

func current() Metrics {
	mu.RLock()
	defer mu.RUnlock()
	return metrics
}

// HTTPHandler serves the collected metrics.
func HTTPHandler() http.Handler {
	return current().Handler()
}

// BucketGas covers gas used by a single invocation.
var BucketGas = []int64{100, 1_000, 10_000, 50_000, 100_000, 500_000, 1_000_000, 10_000_000}

// CountMeter only goes up.
type CountMeter interface {
	Add(int64)
}

type CountVecMeter interface {
	AddWithLabel(int64, map[string]string)
}

type GaugeMeter interface {
	Add(int64)
	Set(int64)
}

type HistogramMeter interface {
	Observe(int64)
}

func Counter(name string) CountMeter { return current().Counter(name) }

func CounterVec(name string, labels []string) CountVecMeter {
	return current().CounterVec(name, labels)
}

func Gauge(name string) GaugeMeter { return current().Gauge(name) }

func Histogram(name string, buckets []int64) HistogramMeter {
	return current().Histogram(name, buckets)
}

// LazyLoad defers creating a meter until first use, so package level meter
// vars pick up whichever provider is installed by then.
func LazyLoad[T any](f func() T) func() T {
	var (
		once   sync.Once
		result T
	)
	return func() T {
		once.Do(func() { result = f() })
		return result
	}
}

func LazyLoadCounter(name string) func() CountMeter {
	return LazyLoad(func() CountMeter { return Counter(name) })
}

func LazyLoadCounterVec(name string, labels []string) func() CountVecMeter {
	return LazyLoad(func() CountVecMeter { return CounterVec(name, labels) })
}

func LazyLoadGauge(name string) func() GaugeMeter {
	return LazyLoad(func() GaugeMeter { return Gauge(name) })
}

func LazyLoadHistogram(name string, buckets []int64) func() HistogramMeter {
	return LazyLoad(func() HistogramMeter { return Histogram(name, buckets) })
}

type noopMetrics struct{}

func (noopMetrics) Counter(string) CountMeter                 { return noopMeter{} }
func (noopMetrics) CounterVec(string, []string) CountVecMeter { return noopMeter{} }
func (noopMetrics) Gauge(string) GaugeMeter                   { return noopMeter{} }
func (noopMetrics) Histogram(string, []int64) HistogramMeter  { return noopMeter{} }
func (noopMetrics) Handler() http.Handler                     { return http.NotFoundHandler() }

type noopMeter struct{}

func (noopMeter) Add(int64)                             {}
func (noopMeter) Set(int64)                             {}
func (noopMeter) Observe(int64)                         {}
func (noopMeter) AddWithLabel(int64, map[string]string) {}
