package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)

	AnalysisPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysis_phase_duration_seconds",
			Help:    "Duration of one analysis phase in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"phase", "status"},
	)
	ExportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "export_duration_seconds",
			Help:    "Duration of an export render in seconds",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	ReasonerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasoner_requests_total",
			Help: "Total number of risk reasoner calls by outcome",
		},
		[]string{"outcome"},
	)
	ReasonerRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reasoner_request_duration_seconds",
			Help:    "Risk reasoner call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	SSEConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections",
			Help: "Number of open progress event streams",
		},
	)

	QueueRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_records_total",
			Help: "Total number of queue records processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	DLQMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of dead-lettered tasks",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(AnalysisPhaseDuration)
	prometheus.MustRegister(ExportDuration)
	prometheus.MustRegister(ReasonerRequestsTotal)
	prometheus.MustRegister(ReasonerRequestDuration)
	prometheus.MustRegister(SSEConnections)
	prometheus.MustRegister(QueueRecordsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}

// ObservePhase records the wall time one perceptual or risk phase took.
func ObservePhase(phase, status string, d time.Duration) {
	AnalysisPhaseDuration.WithLabelValues(phase, status).Observe(d.Seconds())
}
