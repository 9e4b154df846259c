package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	submissionsReceivedTotal    *prometheus.CounterVec
	gradesPostedTotal           prometheus.Counter
	mergeFailuresTotal          prometheus.Counter
	notificationsPublishedTotal *prometheus.CounterVec
	emailsSentTotal             *prometheus.CounterVec
	sseClientsActive            prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursework_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursework_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursework_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		submissionsReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursework_submissions_received_total",
			Help: "Submission attempts by outcome (created, replaced, rejected).",
		}, []string{"outcome"})

		gradesPostedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursework_grades_posted_total",
			Help: "Total number of grading transitions, regrades included.",
		})

		mergeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursework_merge_failures_total",
			Help: "Annotation merges that failed or timed out.",
		})

		notificationsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursework_notifications_published_total",
			Help: "Durable notifications created, labelled by event kind.",
		}, []string{"kind"})

		emailsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursework_emails_sent_total",
			Help: "Email dispatch attempts by status.",
		}, []string{"status"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coursework_sse_clients_active",
			Help: "Currently connected notification stream clients.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			submissionsReceivedTotal,
			gradesPostedTotal,
			mergeFailuresTotal,
			notificationsPublishedTotal,
			emailsSentTotal,
			sseClientsActive,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the error counter.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// SubmissionsReceived exposes the submission outcome counter.
func SubmissionsReceived() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsReceivedTotal
}

// GradesPosted exposes the grading counter.
func GradesPosted() prometheus.Counter {
	RegisterMetrics()
	return gradesPostedTotal
}

// MergeFailures exposes the merge failure counter.
func MergeFailures() prometheus.Counter {
	RegisterMetrics()
	return mergeFailuresTotal
}

// NotificationsPublished exposes the notification counter.
func NotificationsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublishedTotal
}

// EmailsSent exposes the email dispatch counter.
func EmailsSent() *prometheus.CounterVec {
	RegisterMetrics()
	return emailsSentTotal
}

// SSEClientsActive exposes the live stream client gauge.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}
