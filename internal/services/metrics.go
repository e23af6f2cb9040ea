package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts deal engine outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	joins         *prometheus.CounterVec
	finalized     *prometheus.CounterVec
	activated     prometheus.Counter
	notifications *prometheus.CounterVec
}

// NewMetrics registers the deal counters on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "deal_joins_total",
			Help:      "Join attempts by outcome code.",
		}, []string{"outcome"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "deals_finalized_total",
			Help:      "Deals moved out of active by the sweeper, by final status.",
		}, []string{"status"}),
		activated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "deals_activated_total",
			Help:      "Scheduled deals moved to active.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupbuy",
			Name:      "notifications_total",
			Help:      "Outbound chat messages by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(m.joins, m.finalized, m.activated, m.notifications)
	return m
}

func (m *Metrics) observeJoin(outcome string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeFinalized(status string) {
	if m == nil {
		return
	}
	m.finalized.WithLabelValues(status).Inc()
}

func (m *Metrics) observeActivated() {
	if m == nil {
		return
	}
	m.activated.Inc()
}

func (m *Metrics) observeNotification(kind string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}
