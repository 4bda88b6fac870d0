package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "ucb_deployer"

	// ResultSuccess labels finished ingestions.
	ResultSuccess = "success"
	// ResultFailure labels failed ingestions.
	ResultFailure = "failure"
)

//nolint:gochecknoglobals // Bucket layout shared by every histogram.
var (
	requestBuckets   = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}
	ingestionBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}
)

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	webhookRequests   *prometheus.CounterVec
	webhookLatency    *prometheus.HistogramVec
	ingestions        *prometheus.CounterVec
	ingestionDuration *prometheus.HistogramVec
	downloadedBytes   prometheus.Counter
	archives          prometheus.Counter
	queueDepth        prometheus.Gauge
	inFlight          prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Webhook deliveries by HTTP status.",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "request_duration_seconds",
			Help:      "Time to answer a webhook delivery.",
			Buckets:   requestBuckets,
		}, []string{"status"}),
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Finished ingestions by result and failed stage.",
		}, []string{"result", "stage"}),
		ingestionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of an ingestion from dequeue to completion.",
			Buckets:   ingestionBuckets,
		}, []string{"result"}),
		downloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "downloaded_bytes_total",
			Help:      "Artifact bytes downloaded.",
		}),
		archives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "archives_total",
			Help:      "Snapshots written of replaced builds.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Ingestions waiting for a worker.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "in_flight",
			Help:      "Ingestions being processed.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhookRequests,
		m.webhookLatency,
		m.ingestions,
		m.ingestionDuration,
		m.downloadedBytes,
		m.archives,
		m.queueDepth,
		m.inFlight,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one answered webhook delivery.
func (m *Metrics) ObserveRequest(status int, took time.Duration) {
	if m == nil {
		return
	}

	code := strconv.Itoa(status)
	m.webhookRequests.WithLabelValues(code).Inc()
	m.webhookLatency.WithLabelValues(code).Observe(took.Seconds())
}

// ObserveIngestion records a finished ingestion. stage is empty on success.
func (m *Metrics) ObserveIngestion(stage string, err error, took time.Duration) {
	if m == nil {
		return
	}

	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}

	m.ingestions.WithLabelValues(result, stage).Inc()
	m.ingestionDuration.WithLabelValues(result).Observe(took.Seconds())
}

// AddDownloaded counts downloaded artifact bytes.
func (m *Metrics) AddDownloaded(n int64) {
	if m == nil || n <= 0 {
		return
	}

	m.downloadedBytes.Add(float64(n))
}

// IncArchives counts a written snapshot.
func (m *Metrics) IncArchives() {
	if m == nil {
		return
	}

	m.archives.Inc()
}

// SetQueueDepth reports queued ingestions.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}

	m.queueDepth.Set(float64(n))
}

// AddInFlight adjusts the number of running ingestions.
func (m *Metrics) AddInFlight(delta int) {
	if m == nil {
		return
	}

	m.inFlight.Add(float64(delta))
}
