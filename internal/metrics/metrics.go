package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clubhall",
			Name:      "booking_created_total",
			Help:      "Count of hall bookings created by status.",
		},
		[]string{"status"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clubhall",
			Name:      "booking_transition_total",
			Help:      "Count of hall booking state changes by action.",
		},
		[]string{"action"},
	)

	bookingRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clubhall",
			Name:      "booking_rejected_total",
			Help:      "Count of rejected booking operations by error kind.",
		},
		[]string{"kind"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clubhall",
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	engineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clubhall",
			Name:      "engine_decision_seconds",
			Help:      "Latency of booking engine decisions including persistence.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingCreated, bookingTransitions, bookingRejected, httpRequests, engineDuration)
	})
}

func IncBookingCreated(status string) {
	bookingCreated.WithLabelValues(status).Inc()
}

// IncTransition counts confirm, cancel, refund and complete actions.
func IncTransition(action string) {
	bookingTransitions.WithLabelValues(action).Inc()
}

func IncRejected(kind string) {
	bookingRejected.WithLabelValues(kind).Inc()
}

func IncHTTP(endpoint string, code int) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// ObserveEngine records time spent since start for the operation.
func ObserveEngine(operation string, start time.Time) {
	engineDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
