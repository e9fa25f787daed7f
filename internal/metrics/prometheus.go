package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"method", "route"},
	)

	// External collaborators
	externalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_external_calls_total",
			Help: "Outbound calls to external services by outcome",
		},
		[]string{"service", "outcome"},
	)

	externalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_external_call_duration_seconds",
			Help:    "Outbound call latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
		},
		[]string{"service"},
	)

	rateLimitWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_rate_limit_waits_total",
			Help: "Acquisitions that had to wait for a free slot",
		},
		[]string{"limiter"},
	)

	cacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_cache_requests_total",
			Help: "Cache lookups by result",
		},
		[]string{"namespace", "result"},
	)

	// Pipeline metrics
	drugsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_drugs_processed_total",
			Help: "Per-drug pipeline terminations by outcome",
		},
		[]string{"outcome"},
	)

	degradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_degradations_total",
			Help: "Stages that fell back to a placeholder result",
		},
		[]string{"stage"},
	)

	documentsAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_documents_total",
			Help: "Documents analyzed by outcome",
		},
		[]string{"outcome"},
	)

	evidenceGrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_evidence_grades_total",
			Help: "Evidence grades assigned, labelled by the parse path that produced them",
		},
		[]string{"grade", "path"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordExternalCall(service, outcome string, duration time.Duration) {
	externalCallsTotal.WithLabelValues(service, outcome).Inc()
	externalCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func RecordRateLimitWait(limiter string) {
	rateLimitWaits.WithLabelValues(limiter).Inc()
}

func RecordCacheLookup(namespace, result string) {
	cacheRequests.WithLabelValues(namespace, result).Inc()
}

func RecordDrugOutcome(outcome string) {
	drugsProcessed.WithLabelValues(outcome).Inc()
}

func RecordDegradation(stage string) {
	degradations.WithLabelValues(stage).Inc()
}

func RecordDocument(outcome string) {
	documentsAnalyzed.WithLabelValues(outcome).Inc()
}

func RecordEvidenceGrade(grade, path string) {
	evidenceGrades.WithLabelValues(grade, path).Inc()
}
