package prometheus

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
)

// DefaultNamespace prefixes every metric emitted by this service.
const DefaultNamespace = "rxmi"

// MetricsCollector registers metrics against a private registry. Registration
// never fails from the caller's point of view: on conflict a no-op vector is
// returned and the conflict is logged, so instrumentation code stays linear.
type MetricsCollector interface {
	RegisterCounter(name, help string, labels ...string) CounterVec
	RegisterGauge(name, help string, labels ...string) GaugeVec
	RegisterHistogram(name, help string, buckets []float64, labels ...string) HistogramVec
	Handler() http.Handler
	MustRegister(collectors ...prometheus.Collector)
	Unregister(collector prometheus.Collector) bool
}

// CounterVec wraps prometheus.CounterVec.
type CounterVec interface {
	WithLabelValues(lvs ...string) Counter
	With(labels map[string]string) Counter
}

// Counter wraps prometheus.Counter.
type Counter interface {
	Inc()
	Add(delta float64)
}

// GaugeVec wraps prometheus.GaugeVec.
type GaugeVec interface {
	WithLabelValues(lvs ...string) Gauge
	With(labels map[string]string) Gauge
}

// Gauge wraps prometheus.Gauge.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
}

// HistogramVec wraps prometheus.HistogramVec.
type HistogramVec interface {
	WithLabelValues(lvs ...string) Histogram
	With(labels map[string]string) Histogram
}

// Histogram wraps prometheus.Histogram.
type Histogram interface {
	Observe(value float64)
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Namespace               string
	Subsystem               string
	EnableProcessMetrics    bool
	EnableGoMetrics         bool
	DefaultHistogramBuckets []float64
	ConstLabels             map[string]string
}

type prometheusCollector struct {
	registry          *prometheus.Registry
	config            CollectorConfig
	registeredMetrics map[string]prometheus.Collector
	mu                sync.Mutex
	logger            logging.Logger
}

// NewMetricsCollector creates a collector backed by a fresh registry.
// An empty namespace falls back to DefaultNamespace, a nil logger to a no-op
// logger, so the zero CollectorConfig is usable in tests.
func NewMetricsCollector(cfg CollectorConfig, logger logging.Logger) MetricsCollector {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.DefaultHistogramBuckets == nil {
		cfg.DefaultHistogramBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	registry := prometheus.NewRegistry()
	if cfg.EnableProcessMetrics {
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{
			Namespace: cfg.Namespace,
		}))
	}
	if cfg.EnableGoMetrics {
		registry.MustRegister(prometheus.NewGoCollector())
	}

	return &prometheusCollector{
		registry:          registry,
		config:            cfg,
		registeredMetrics: make(map[string]prometheus.Collector),
		logger:            logger.Named("metrics"),
	}
}

func (c *prometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (c *prometheusCollector) MustRegister(collectors ...prometheus.Collector) {
	c.registry.MustRegister(collectors...)
}

func (c *prometheusCollector) Unregister(collector prometheus.Collector) bool {
	return c.registry.Unregister(collector)
}

// register deduplicates by fully qualified name so repeated registrations of
// the same metric return the original collector instead of erroring.
func (c *prometheusCollector) register(name string, collector prometheus.Collector) (prometheus.Collector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fqName := prometheus.BuildFQName(c.config.Namespace, c.config.Subsystem, name)
	if existing, ok := c.registeredMetrics[fqName]; ok {
		return existing, nil
	}
	if err := c.registry.Register(collector); err != nil {
		return nil, err
	}
	c.registeredMetrics[fqName] = collector
	return collector, nil
}

func (c *prometheusCollector) RegisterCounter(name, help string, labels ...string) CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.config.ConstLabels,
	}, labels)

	registered, err := c.register(name, vec)
	if err != nil {
		c.logger.Error("failed to register counter", logging.String("name", name), logging.Err(err))
		return &noopCounterVec{}
	}
	if v, ok := registered.(*prometheus.CounterVec); ok {
		return &promCounterVec{vec: v}
	}
	c.logger.Warn("metric already registered with a different type",
		logging.String("name", name), logging.String("want", "counter"))
	return &noopCounterVec{}
}

func (c *prometheusCollector) RegisterGauge(name, help string, labels ...string) GaugeVec {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.config.ConstLabels,
	}, labels)

	registered, err := c.register(name, vec)
	if err != nil {
		c.logger.Error("failed to register gauge", logging.String("name", name), logging.Err(err))
		return &noopGaugeVec{}
	}
	if v, ok := registered.(*prometheus.GaugeVec); ok {
		return &promGaugeVec{vec: v}
	}
	c.logger.Warn("metric already registered with a different type",
		logging.String("name", name), logging.String("want", "gauge"))
	return &noopGaugeVec{}
}

func (c *prometheusCollector) RegisterHistogram(name, help string, buckets []float64, labels ...string) HistogramVec {
	if buckets == nil {
		buckets = c.config.DefaultHistogramBuckets
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.config.ConstLabels,
		Buckets:     buckets,
	}, labels)

	registered, err := c.register(name, vec)
	if err != nil {
		c.logger.Error("failed to register histogram", logging.String("name", name), logging.Err(err))
		return &noopHistogramVec{}
	}
	if v, ok := registered.(*prometheus.HistogramVec); ok {
		return &promHistogramVec{vec: v}
	}
	c.logger.Warn("metric already registered with a different type",
		logging.String("name", name), logging.String("want", "histogram"))
	return &noopHistogramVec{}
}

// Prometheus-backed wrappers

type promCounterVec struct{ vec *prometheus.CounterVec }

func (v *promCounterVec) WithLabelValues(lvs ...string) Counter {
	return &promCounter{c: v.vec.WithLabelValues(lvs...)}
}

func (v *promCounterVec) With(labels map[string]string) Counter {
	return &promCounter{c: v.vec.With(labels)}
}

type promCounter struct{ c prometheus.Counter }

func (c *promCounter) Inc()              { c.c.Inc() }
func (c *promCounter) Add(delta float64) { c.c.Add(delta) }

type promGaugeVec struct{ vec *prometheus.GaugeVec }

func (v *promGaugeVec) WithLabelValues(lvs ...string) Gauge {
	return &promGauge{g: v.vec.WithLabelValues(lvs...)}
}

func (v *promGaugeVec) With(labels map[string]string) Gauge {
	return &promGauge{g: v.vec.With(labels)}
}

type promGauge struct{ g prometheus.Gauge }

func (g *promGauge) Set(value float64) { g.g.Set(value) }
func (g *promGauge) Inc()              { g.g.Inc() }
func (g *promGauge) Dec()              { g.g.Dec() }
func (g *promGauge) Add(delta float64) { g.g.Add(delta) }
func (g *promGauge) Sub(delta float64) { g.g.Sub(delta) }

type promHistogramVec struct{ vec *prometheus.HistogramVec }

func (v *promHistogramVec) WithLabelValues(lvs ...string) Histogram {
	return &promHistogram{h: v.vec.WithLabelValues(lvs...)}
}

func (v *promHistogramVec) With(labels map[string]string) Histogram {
	return &promHistogram{h: v.vec.With(labels)}
}

type promHistogram struct{ h prometheus.Observer }

func (h *promHistogram) Observe(value float64) { h.h.Observe(value) }

// No-op fallbacks returned on registration conflicts

type noopCounterVec struct{}

func (v *noopCounterVec) WithLabelValues(lvs ...string) Counter { return &noopCounter{} }
func (v *noopCounterVec) With(labels map[string]string) Counter { return &noopCounter{} }

type noopCounter struct{}

func (c *noopCounter) Inc()              {}
func (c *noopCounter) Add(delta float64) {}

type noopGaugeVec struct{}

func (v *noopGaugeVec) WithLabelValues(lvs ...string) Gauge { return &noopGauge{} }
func (v *noopGaugeVec) With(labels map[string]string) Gauge { return &noopGauge{} }

type noopGauge struct{}

func (g *noopGauge) Set(value float64) {}
func (g *noopGauge) Inc()              {}
func (g *noopGauge) Dec()              {}
func (g *noopGauge) Add(delta float64) {}
func (g *noopGauge) Sub(delta float64) {}

type noopHistogramVec struct{}

func (v *noopHistogramVec) WithLabelValues(lvs ...string) Histogram { return &noopHistogram{} }
func (v *noopHistogramVec) With(labels map[string]string) Histogram { return &noopHistogram{} }

type noopHistogram struct{}

func (h *noopHistogram) Observe(value float64) {}

// Timer observes the elapsed time since its creation into a histogram.
type Timer struct {
	histogram Histogram
	start     time.Time
}

func NewTimer(histogram Histogram) *Timer {
	return &Timer{histogram: histogram, start: time.Now()}
}

func (t *Timer) ObserveDuration() {
	if t.histogram == nil {
		return
	}
	t.histogram.Observe(time.Since(t.start).Seconds())
}
