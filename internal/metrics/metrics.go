package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "safevision"

var (
	// FramesSubmitted counts ingestion outcomes.
	// Labels: result: "accepted", "dropped", "invalid"
	FramesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_submitted_total",
			Help:      "Frames offered to the incoming queue by outcome",
		},
		[]string{"result"},
	)

	// FramesDropped counts frames lost to a full queue.
	// Labels: queue: "incoming", "outgoing"
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a pipeline queue was full",
		},
		[]string{"queue"},
	)

	FramesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames that went through analysis",
		},
	)

	AnalysisFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_failures_total",
			Help:      "Frames whose analysis failed and were treated as no detection",
		},
	)

	InferenceSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_seconds",
			Help:      "Time spent in the analysis capability per frame",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// QueueDepth is the current depth of each pipeline queue.
	// Labels: queue: "incoming", "outgoing"
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of frames in a pipeline queue",
		},
		[]string{"queue"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Connected streaming clients",
		},
	)

	// AlertsTotal counts raised alerts.
	// Labels: type, severity, outcome: "dispatched", "suppressed"
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by type, severity and dedup outcome",
		},
		[]string{"type", "severity", "outcome"},
	)

	RecordingsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recordings_active",
			Help:      "Recordings currently being written",
		},
	)

	// WorkerRunning is 1 while the inference worker loop is running.
	WorkerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_running",
			Help:      "Whether the inference worker is running (1=running, 0=stopped)",
		},
	)
)
