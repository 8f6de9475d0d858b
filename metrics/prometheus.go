package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/colorfulnotion/avm/log"
)

const namespace = "avm"

// InitializePrometheusMetrics installs the Prometheus provider. Later calls
// keep the first registry.
func InitializePrometheusMetrics() {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := metrics.(*prometheusMetrics); !ok {
		metrics = newPrometheusMetrics()
	}
}

type prometheusMetrics struct {
	registry *prometheus.Registry
	meters   sync.Map // name -> meter
}

func newPrometheusMetrics() *prometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	return &prometheusMetrics{registry: reg}
}

func (p *prometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// getOrCreate registers the collector built by mk the first time name is seen.
func getOrCreate[T any](p *prometheusMetrics, name string, mk func() (prometheus.Collector, T)) T {
	if m, ok := p.meters.Load(name); ok {
		if meter, ok := m.(T); ok {
			return meter
		}
	}
	collector, meter := mk()
	if err := p.registry.Register(collector); err != nil {
		log.Warn(log.CLIMonitoring, "unable to register metric", "name", name, "err", err)
	}
	actual, _ := p.meters.LoadOrStore(name, meter)
	if m, ok := actual.(T); ok {
		return m
	}
	return meter
}

func (p *prometheusMetrics) Counter(name string) CountMeter {
	return getOrCreate(p, name, func() (prometheus.Collector, CountMeter) {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name})
		return c, promCounter{c}
	})
}

func (p *prometheusMetrics) CounterVec(name string, labels []string) CountVecMeter {
	return getOrCreate(p, name, func() (prometheus.Collector, CountVecMeter) {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name}, labels)
		return c, promCounterVec{c}
	})
}

func (p *prometheusMetrics) Gauge(name string) GaugeMeter {
	return getOrCreate(p, name, func() (prometheus.Collector, GaugeMeter) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name})
		return g, promGauge{g}
	})
}

func (p *prometheusMetrics) Histogram(name string, buckets []int64) HistogramMeter {
	return getOrCreate(p, name, func() (prometheus.Collector, HistogramMeter) {
		fb := make([]float64, len(buckets))
		for i, b := range buckets {
			fb[i] = float64(b)
		}
		h := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: name, Buckets: fb})
		return h, promHistogram{h}
	})
}

type promCounter struct{ c prometheus.Counter }

func (m promCounter) Add(i int64) { m.c.Add(float64(i)) }

type promCounterVec struct{ c *prometheus.CounterVec }

func (m promCounterVec) AddWithLabel(i int64, labels map[string]string) {
	m.c.With(labels).Add(float64(i))
}

type promGauge struct{ g prometheus.Gauge }

func (m promGauge) Add(i int64) { m.g.Add(float64(i)) }
func (m promGauge) Set(i int64) { m.g.Set(float64(i)) }

type promHistogram struct{ h prometheus.Histogram }

func (m promHistogram) Observe(i int64) { m.h.Observe(float64(i)) }
