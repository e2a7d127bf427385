// Package metrics holds the Prometheus collectors shared by the webhook
// endpoint, the notifier and the subscription store.
//
// Label values are drawn from closed sets (event kinds, fixed outcomes,
// store operations) so cardinality stays bounded. Source tokens and chat ids
// are never used as labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeUnauthorized = "unauthorized"
	OutcomeUnknownKind  = "unknown_kind"
	OutcomeMalformed    = "malformed"
	OutcomeFailed       = "failed"
)

// Notification actions.
const (
	ActionSend = "send"
	ActionEdit = "edit"
	ActionSkip = "skip"
)

var (
	// webhooks counts inbound webhook requests by event kind and outcome.
	webhooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitlab_webhooks_total",
			Help: "Total number of GitLab webhook requests.",
		},
		[]string{"kind", "outcome"},
	)

	// notifications counts per-chat platform actions.
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_notifications_total",
			Help: "Per-chat notification actions by event kind, action and result.",
		},
		[]string{"kind", "action", "result"},
	)

	// chunks counts messages sent to Telegram after splitting.
	chunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telegram_message_chunks_total",
			Help: "Total number of message chunks sent to Telegram.",
		},
	)

	// persistErrors counts failed writes of the subscription store.
	persistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_persist_errors_total",
			Help: "Failed persistence writes by store operation.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(webhooks, notifications, chunks, persistErrors)
}

// Webhook records one inbound webhook request.
func Webhook(kind, outcome string) {
	if kind == "" {
		kind = "unknown"
	}
	webhooks.WithLabelValues(kind, outcome).Inc()
}

// Notification records one per-chat action. err selects the result label.
func Notification(kind, action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notifications.WithLabelValues(kind, action, result).Inc()
}

// Chunk records one message chunk sent.
func Chunk() {
	chunks.Inc()
}

// PersistError records a failed store write.
func PersistError(op string) {
	persistErrors.WithLabelValues(op).Inc()
}
