package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ProcessedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mutualaid_sync_processed_total", Help: "Outbox events indexed into the dashboard"},
	)
	FailedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mutualaid_sync_failed_total", Help: "Outbox events that failed to index"},
	)
	DLQEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mutualaid_sync_dlq_total", Help: "Outbox events inserted into the DLQ"},
	)

	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mutualaid_submissions_total", Help: "Public submissions by category and outcome"},
		[]string{"category", "outcome"},
	)
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mutualaid_transitions_total", Help: "Request state transitions by target status"},
		[]string{"to"},
	)
	Claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mutualaid_claims_total", Help: "Claim attempts by slot and outcome"},
		[]string{"slot", "outcome"},
	)
	LotterySelected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mutualaid_lottery_selected_total", Help: "Requests selected by the lottery"},
		[]string{"category"},
	)
	NotificationsSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mutualaid_notifications_sent_total", Help: "Notifications delivered"},
	)
	NotificationsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mutualaid_notifications_failed_total", Help: "Notifications that exhausted their retries"},
	)
	Regeocoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mutualaid_regeocode_total", Help: "Background re-geocoding attempts by outcome"},
		[]string{"outcome"},
	)
)

// Register adds every collector to the default registry. Counters are usable
// before registration, so tests never call it.
func Register() {
	prometheus.MustRegister(
		ProcessedEvents, FailedEvents, DLQEvents,
		Submissions, Transitions, Claims, LotterySelected,
		NotificationsSent, NotificationsFailed, Regeocoded,
	)
}
