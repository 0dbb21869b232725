package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics covers checkout numbering, status transitions and payment webhooks.
type OrderMetrics struct {
	checkoutAttempts *prometheus.HistogramVec
	checkouts        *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	webhooks         *prometheus.CounterVec
	resets           *prometheus.CounterVec
}

// NewOrderMetrics registers the order metrics on the provided registerer.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	attempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_transaction_attempts",
		Help:    "Transaction attempts needed per checkout.",
		Buckets: []float64{1, 2, 3, 4, 5, 8},
	}, []string{"channel"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_total",
		Help: "Checkout outcomes by channel.",
	}, []string{"channel", "result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Applied order status transitions.",
	}, []string{"from", "to", "source"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Payment webhook deliveries by outcome.",
	}, []string{"provider", "outcome"})
	resets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "period_resets_total",
		Help: "End-of-period resets by trigger.",
	}, []string{"trigger"})
	reg.MustRegister(attempts, checkouts, transitions, webhooks, resets)
	return &OrderMetrics{
		checkoutAttempts: attempts,
		checkouts:        checkouts,
		transitions:      transitions,
		webhooks:         webhooks,
		resets:           resets,
	}
}

// ObserveCheckout records one checkout and the attempts it took.
func (m *OrderMetrics) ObserveCheckout(channel, result string, attempts int) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(channel), normalizeLabel(result)).Inc()
	if attempts > 0 {
		m.checkoutAttempts.WithLabelValues(normalizeLabel(channel)).Observe(float64(attempts))
	}
}

func (m *OrderMetrics) ObserveTransition(from, to, source string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), normalizeLabel(source)).Inc()
}

func (m *OrderMetrics) ObserveWebhook(provider, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (m *OrderMetrics) ObserveReset(trigger string) {
	if m == nil || m.resets == nil {
		return
	}
	m.resets.WithLabelValues(normalizeLabel(trigger)).Inc()
}
