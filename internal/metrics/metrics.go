// Package metrics exposes Prometheus instrumentation for the chat core.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "halodesk_sessions_started_total",
			Help: "Total number of chat sessions created",
		},
		[]string{"participant"},
	)

	sessionsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "halodesk_sessions_claimed_total",
			Help: "Total number of sessions claimed by agents",
		},
	)

	sessionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "halodesk_sessions_closed_total",
			Help: "Total number of sessions closed",
		},
	)

	claimConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "halodesk_claim_conflicts_total",
			Help: "Total number of claim attempts that lost the race",
		},
	)

	messagesAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "halodesk_messages_total",
			Help: "Total number of messages appended",
		},
		[]string{"sender"},
	)

	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "halodesk_session_duration_seconds",
			Help:    "Time from session creation to close",
			Buckets: prometheus.ExponentialBuckets(30, 2, 12),
		},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionsStarted,
			sessionsClaimed,
			sessionsClosed,
			claimConflicts,
			messagesAppended,
			sessionDuration,
		)
	})
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionStarted counts a new session by participant kind
// ("user" or "guest").
func RecordSessionStarted(participant string) {
	sessionsStarted.WithLabelValues(participant).Inc()
}

// RecordSessionClaimed counts a successful claim.
func RecordSessionClaimed() {
	sessionsClaimed.Inc()
}

// RecordSessionClosed counts a close and observes the session's
// lifetime in seconds.
func RecordSessionClosed(durationSeconds float64) {
	sessionsClosed.Inc()
	sessionDuration.Observe(durationSeconds)
}

// RecordClaimConflict counts a claim attempt that lost the race.
func RecordClaimConflict() {
	claimConflicts.Inc()
}

// RecordMessage counts an appended message by sender kind.
func RecordMessage(sender string) {
	messagesAppended.WithLabelValues(sender).Inc()
}
