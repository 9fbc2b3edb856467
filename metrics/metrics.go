package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ReadingsIngestedTotal counts accepted telemetry readings by source.
	ReadingsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellpipe",
		Subsystem: "ingest",
		Name:      "readings_ingested_total",
		Help:      "Total number of telemetry readings accepted by the ingestor, labeled by source.",
	}, []string{"source"})

	// ReadingsRejectedTotal counts rejected samples by rejection kind.
	ReadingsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellpipe",
		Subsystem: "ingest",
		Name:      "readings_rejected_total",
		Help:      "Total number of telemetry samples rejected during validation, labeled by rejection kind.",
	}, []string{"kind"})

	// AnomaliesDetectedTotal counts recorded anomalies by parameter.
	AnomaliesDetectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellpipe",
		Subsystem: "anomaly",
		Name:      "detected_total",
		Help:      "Total number of anomalies recorded, labeled by parameter.",
	}, []string{"parameter"})

	// AlertsRaisedTotal counts alerts raised by type and severity.
	AlertsRaisedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellpipe",
		Subsystem: "alerts",
		Name:      "raised_total",
		Help:      "Total number of alerts raised, labeled by type and severity.",
	}, []string{"type", "severity"})

	// ReportGenerationsTotal counts report generation runs by result.
	ReportGenerationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellpipe",
		Subsystem: "report",
		Name:      "generations_total",
		Help:      "Total number of report generation runs, labeled by result.",
	}, []string{"result"})

	// ReportUploadsTotal counts upload attempts by result.
	ReportUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wellpipe",
		Subsystem: "report",
		Name:      "uploads_total",
		Help:      "Total number of report upload attempts, labeled by result.",
	}, []string{"result"})

	// UploadDurationSeconds is end-to-end time per delivery attempt.
	UploadDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wellpipe",
		Subsystem: "report",
		Name:      "upload_duration_seconds",
		Help:      "End-to-end time of one report delivery attempt.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60, 120},
	})
)

// Register registers wellpipe metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ReadingsIngestedTotal,
			ReadingsRejectedTotal,
			AnomaliesDetectedTotal,
			AlertsRaisedTotal,
			ReportGenerationsTotal,
			ReportUploadsTotal,
			UploadDurationSeconds,
		)
	})
}
