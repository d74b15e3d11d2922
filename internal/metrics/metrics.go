package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "menu_stock"

// Stock holds the counters of the stock engine. A nil *Stock records nothing.
type Stock struct {
	deductions    *prometheus.CounterVec
	crossings     *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New registers the stock counters on reg.
func New(reg prometheus.Registerer) *Stock {
	m := &Stock{
		deductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deductions_total",
			Help:      "Stock deductions by outcome.",
		}, []string{"outcome"}),
		crossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_crossings_total",
			Help:      "Committed low-stock threshold crossings.",
		}, []string{"threshold"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Low-stock notification handoffs and deliveries by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.deductions, m.crossings, m.notifications)
	return m
}

func (m *Stock) Deduction(outcome string) {
	if m == nil {
		return
	}
	m.deductions.WithLabelValues(outcome).Inc()
}

func (m *Stock) Crossing(threshold int) {
	if m == nil {
		return
	}
	m.crossings.WithLabelValues(strconv.Itoa(threshold)).Inc()
}

func (m *Stock) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}
