package telemetry

import (
	"net/http"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/device"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/perfstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peripheralpm"

// Metrics is the prometheus Recorder. Its collectors live on a private
// registry so that several instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	pollDuration    *prometheus.HistogramVec
	samples         *prometheus.CounterVec
	readFailures    *prometheus.CounterVec
	trackedDevices  *prometheus.GaugeVec
	tickDuration    prometheus.Histogram
	publishDuration prometheus.Histogram
	publishes       *prometheus.CounterVec
	publishedAt     prometheus.Gauge
}

// NewMetrics creates and registers every collector, together with the Go
// runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of one poll cycle by device category.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"category"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Attribute readings folded into the windowed statistics.",
		}, []string{"category"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failures_total",
			Help:      "Attribute reads skipped for a cycle, by category, attribute and reason.",
		}, []string{"category", "attribute", "reason"}),
		trackedDevices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_devices",
			Help:      "Devices currently tracked by category.",
		}, []string{"category"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one complete scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Duration of one publication to the state store.",
			Buckets:   prometheus.DefBuckets,
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publications to the state store by result.",
		}, []string{"result"}),
		publishedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last successful publication.",
		}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pollDuration,
		m.samples,
		m.readFailures,
		m.trackedDevices,
		m.tickDuration,
		m.publishDuration,
		m.publishes,
		m.publishedAt,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, errors.New().Wrap(ErrRegisterFailed, err)
		}
	}

	return m, nil
}

func (m *Metrics) ObservePoll(category device.Category, report perfstats.PollReport, elapsed time.Duration) {
	cat := string(category)

	m.pollDuration.WithLabelValues(cat).Observe(elapsed.Seconds())
	m.samples.WithLabelValues(cat).Add(float64(report.Sampled))

	for _, f := range report.Failures {
		m.readFailures.WithLabelValues(cat, string(f.Attribute), failureReason(f.Err)).Inc()
	}
}

func (m *Metrics) ObserveTick(elapsed time.Duration) {
	m.tickDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePublish(_ int, elapsed time.Duration, err error) {
	m.publishDuration.Observe(elapsed.Seconds())

	if err != nil {
		m.publishes.WithLabelValues("failure").Inc()
		return
	}

	m.publishes.WithLabelValues("success").Inc()
	m.publishedAt.SetToCurrentTime()
}

func (m *Metrics) SetTrackedDevices(category device.Category, n int) {
	m.trackedDevices.WithLabelValues(string(category)).Set(float64(n))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func failureReason(err error) string {
	switch {
	case device.IsNotPresent(err):
		return "not_present"
	case errors.HasCode(err, device.ErrReadTimeout):
		return "timeout"
	case errors.HasCode(err, device.ErrUnsupportedAttribute):
		return "unsupported"
	default:
		return "read_failed"
	}
}
