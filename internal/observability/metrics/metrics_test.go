package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveConfirm("booked")
	m.ObserveCancel("cancelled")
	m.ObserveDelete("deleted")
	m.ObservePartialFailure("booking")
	m.ObserveSlotComputation(0.02)
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveConfirm("booked")
	m.ObserveCancel("failed")
	m.ObserveDelete("failed")
	m.ObservePartialFailure("cancellation")
	m.ObserveSlotComputation(0.1)
}
