package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Unauthorized         = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_unauthorized_total", Help: "Requests rejected for a missing or unknown token"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	JobsAssigned         = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_jobs_assigned_total", Help: "Jobs handed to an agent"})
	AssignMisses         = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_assign_misses_total", Help: "Assignment attempts on jobs already taken or unknown"})
	ResultsSaved         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dispatch_results_saved_total", Help: "Result submissions persisted, by terminal status"}, []string{"status"})
	ResultsRejected      = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_results_rejected_total", Help: "Result submissions rejected before persistence"})
	EmptySubmissions     = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_empty_submissions_total", Help: "Submissions reporting no results"})
	NotificationsSent    = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_notifications_sent_total", Help: "Completion emails handed to the mail relay"})
	NotificationFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_notification_failures_total", Help: "Completion emails that could not be sent"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Unauthorized,
			RateLimitRejects,
			JobsAssigned,
			AssignMisses,
			ResultsSaved,
			ResultsRejected,
			EmptySubmissions,
			NotificationsSent,
			NotificationFailures,
		)
	})
	return promhttp.Handler()
}
