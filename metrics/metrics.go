package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Session results used as the "result" label.
const (
	ResultRejected         = "rejected"
	ResultUpstreamRejected = "upstream_rejected"
	ResultCompleted        = "completed"
	ResultUpstreamFailed   = "upstream_failed"
	ResultDisconnected     = "disconnected"
	ResultRateLimited      = "rate_limited"
)

var (
	once sync.Once

	// SessionsTotal counts chat requests by outcome.
	SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_relay",
		Subsystem: "relay",
		Name:      "sessions_total",
		Help:      "Total number of chat relay requests, labeled by result.",
	}, []string{"result"})

	// SessionsInFlight is the number of sessions currently streaming.
	SessionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat_relay",
		Subsystem: "relay",
		Name:      "sessions_in_flight",
		Help:      "Current number of sessions with an open upstream stream.",
	})

	FragmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chat_relay",
		Subsystem: "relay",
		Name:      "fragments_total",
		Help:      "Total number of text fragments forwarded to callers.",
	})

	// UpstreamOpenSeconds is the time from a valid request to the upstream accepting it.
	UpstreamOpenSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chat_relay",
		Subsystem: "upstream",
		Name:      "open_duration_seconds",
		Help:      "Time until the upstream provider accepted or rejected a streaming call.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// TimeToFirstFragmentSeconds is measured from the start of the session.
	TimeToFirstFragmentSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chat_relay",
		Subsystem: "relay",
		Name:      "time_to_first_fragment_seconds",
		Help:      "Time from request to the first forwarded fragment.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	SessionDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chat_relay",
		Subsystem: "relay",
		Name:      "session_duration_seconds",
		Help:      "End-to-end session time, labeled by result.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60, 120},
	}, []string{"result"})
)

// Register registers relay metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SessionsTotal,
			SessionsInFlight,
			FragmentsTotal,
			UpstreamOpenSeconds,
			TimeToFirstFragmentSeconds,
			SessionDurationSeconds,
		)
	})
}
