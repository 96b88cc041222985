// Package metrics содержит счётчики Prometheus сервиса переводов.
// Все методы безопасно вызывать у nil-получателя: метрики можно не подключать.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics: набор счётчиков жизненного цикла заказов, кассы и курсов.
type Metrics struct {
	transitions     *prometheus.CounterVec
	movements       *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	rateResolutions *prometheus.CounterVec
	rateRefreshes   *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// New регистрирует счётчики в registerer. При nil используется регистратор по умолчанию.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remittance_transitions_total",
			Help: "Committed remittance state transitions.",
		},
		[]string{"from", "to"},
	)

	movements := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remittance_cash_movements_total",
			Help: "Committed courier cash movements.",
		},
		[]string{"kind", "currency"},
	)

	rejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remittance_rejections_total",
			Help: "Rejected mutations by operation and error kind.",
		},
		[]string{"operation", "kind"},
	)

	rateResolutions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remittance_rate_resolutions_total",
			Help: "Exchange rate resolutions by pair and winning source.",
		},
		[]string{"pair", "source"},
	)

	rateRefreshes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remittance_rate_refreshes_total",
			Help: "External rate fetches by provider and result.",
		},
		[]string{"provider", "result"}, // updated | unchanged | failed
	)

	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remittance_notifications_total",
			Help: "Post-commit notifications by result.",
		},
		[]string{"result"}, // published | failed | dropped
	)

	registerer.MustRegister(transitions, movements, rejections, rateResolutions, rateRefreshes, notifications)

	return &Metrics{
		transitions:     transitions,
		movements:       movements,
		rejections:      rejections,
		rateResolutions: rateResolutions,
		rateRefreshes:   rateRefreshes,
		notifications:   notifications,
	}
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncMovement(kind, currency string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(kind, currency).Inc()
}

func (m *Metrics) IncRejection(operation, kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, kind).Inc()
}

func (m *Metrics) IncRateResolution(pair, source string) {
	if m == nil {
		return
	}
	m.rateResolutions.WithLabelValues(pair, source).Inc()
}

func (m *Metrics) IncRateRefresh(provider, result string) {
	if m == nil {
		return
	}
	m.rateRefreshes.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) IncNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
