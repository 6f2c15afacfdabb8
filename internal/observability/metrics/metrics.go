package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for booking flows.
type BookingMetrics struct {
	confirmTotal    *prometheus.CounterVec
	cancelTotal     *prometheus.CounterVec
	deleteTotal     *prometheus.CounterVec
	partialFailures *prometheus.CounterVec
	slotComputation prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		confirmTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servly",
			Subsystem: "bookings",
			Name:      "confirm_total",
			Help:      "Total booking confirm attempts",
		}, []string{"outcome"}),
		cancelTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servly",
			Subsystem: "bookings",
			Name:      "cancel_total",
			Help:      "Total cancellation attempts",
		}, []string{"outcome"}),
		deleteTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servly",
			Subsystem: "bookings",
			Name:      "delete_total",
			Help:      "Total deletion attempts",
		}, []string{"outcome"}),
		partialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servly",
			Subsystem: "bookings",
			Name:      "partial_failure_total",
			Help:      "Flows where one of the two dependent writes failed",
		}, []string{"flow"}),
		slotComputation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "servly",
			Subsystem: "availability",
			Name:      "slot_computation_seconds",
			Help:      "Latency of per-date slot computation including the template load",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.confirmTotal, m.cancelTotal, m.deleteTotal, m.partialFailures, m.slotComputation)
	return m
}

func (m *BookingMetrics) ObserveConfirm(outcome string) {
	if m == nil {
		return
	}
	m.confirmTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCancel(outcome string) {
	if m == nil {
		return
	}
	m.cancelTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveDelete(outcome string) {
	if m == nil {
		return
	}
	m.deleteTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObservePartialFailure(flow string) {
	if m == nil {
		return
	}
	m.partialFailures.WithLabelValues(flow).Inc()
}

func (m *BookingMetrics) ObserveSlotComputation(seconds float64) {
	if m == nil {
		return
	}
	m.slotComputation.Observe(seconds)
}
