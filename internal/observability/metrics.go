package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sensebox"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// collector and analytics processes.
type Metrics struct {
	// Ingestion metrics.
	MeasurementsIngested *prometheus.CounterVec // labels: source={latest,historical}
	APIRequests          *prometheus.CounterVec // labels: endpoint={box,data}, outcome={success,error}
	APIRequestDuration   *prometheus.HistogramVec
	PollCycles           prometheus.Counter
	PollFailures         prometheus.Counter
	CollectorRunning     prometheus.Gauge

	// Storage gate.
	StorageProbeAttempts prometheus.Counter

	// Analytics metrics.
	TrainingRuns     *prometheus.CounterVec // labels: model={forecast,anomaly}, outcome={trained,empty,error}
	TrainingDuration *prometheus.HistogramVec
	ForecastMSE      prometheus.Gauge
	TrainingOutliers prometheus.Gauge
	Detections       *prometheus.CounterVec // labels: label={normal,anomaly}
	DetectionErrors  prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		MeasurementsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_ingested_total",
			Help:      "Measurements written to the store by source.",
		}, []string{"source"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "openSenseMap API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "openSenseMap API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"endpoint"}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Live poll iterations started.",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Live poll iterations that failed and were skipped.",
		}),
		CollectorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collector_running",
			Help:      "1 while the live poll loop is active.",
		}),
		StorageProbeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_probe_attempts_total",
			Help:      "Storage readiness probes performed at startup.",
		}),
		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Model training runs by model and outcome.",
		}, []string{"model", "outcome"}),
		TrainingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Duration of a training run including window load and artifact save.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"model"}),
		ForecastMSE: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forecast_training_mse",
			Help:      "Mean squared error of the last forecast fit on its training window.",
		}),
		TrainingOutliers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomaly_training_outliers",
			Help:      "Points flagged as outliers in the last anomaly training window.",
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Latest-value classifications by label.",
		}, []string{"label"}),
		DetectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_errors_total",
			Help:      "Detection iterations that failed.",
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MeasurementsIngested,
		m.APIRequests,
		m.APIRequestDuration,
		m.PollCycles,
		m.PollFailures,
		m.CollectorRunning,
		m.StorageProbeAttempts,
		m.TrainingRuns,
		m.TrainingDuration,
		m.ForecastMSE,
		m.TrainingOutliers,
		m.Detections,
		m.DetectionErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
