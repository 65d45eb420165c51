// Package metrics содержит Prometheus-метрики сервиса выдачи книг.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmeshcher/library-circulation/internal/model"
)

// Metrics объединяет счётчики операций выдачи и фоновой сверки.
type Metrics struct {
	Operations          *prometheus.CounterVec // op=borrow|return|extend|reserve|cancel|update_reservation, result=ok|<kind>|error
	OverdueMarked       prometheus.Counter
	ReservationsExpired prometheus.Counter
	InventoryWarnings   prometheus.Counter
	SweepDuration       prometheus.Histogram
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circulation_operations_total",
				Help: "Circulation operations by result",
			},
			[]string{"op", "result"},
		),
		OverdueMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "circulation_overdue_marked_total",
			Help: "Loans promoted from Borrowed to Overdue by the sweeper",
		}),
		ReservationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "circulation_reservations_expired_total",
			Help: "Reservations expired after their hold window",
		}),
		InventoryWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "circulation_inventory_warnings_total",
			Help: "Returns whose inventory increment failed",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "circulation_sweep_duration_seconds",
			Help:    "Duration of one overdue and expiry sweep",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.Operations,
		m.OverdueMarked,
		m.ReservationsExpired,
		m.InventoryWarnings,
		m.SweepDuration,
	)

	return m
}

// ObserveOperation учитывает результат операции. Безопасен для nil.
func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := model.KindOf(err); kind != "" {
		return kind
	}
	return "error"
}
