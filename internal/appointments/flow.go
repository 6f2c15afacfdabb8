package appointments

import (
	"fmt"
	"time"

	"github.com/servly/servly-platform/internal/availability"
)

// FlowState is a phase of one booking attempt.
type FlowState string

const (
	StateIdle         FlowState = "idle"
	StateDateSelected FlowState = "date_selected"
	StateSlotsListed  FlowState = "slots_listed"
	StateSlotSelected FlowState = "slot_selected"
	StateConfirming   FlowState = "confirming"
	StateBooked       FlowState = "booked"
	StateFailed       FlowState = "failed"
)

// BookingFlow drives a single booking attempt through its linear state
// sequence. It holds no persistent state; every transition acts on the
// template snapshot loaded when the flow was created. Rejected transitions
// leave the state unchanged.
type BookingFlow struct {
	state      FlowState
	providerID string
	templates  []availability.Template
	date       time.Time
	slots      []availability.Slot
	selected   *availability.Slot
	now        func() time.Time
}

// NewBookingFlow starts an idle flow over the provider's templates.
func NewBookingFlow(providerID string, templates []availability.Template) *BookingFlow {
	return &BookingFlow{
		state:      StateIdle,
		providerID: providerID,
		templates:  templates,
		now:        time.Now,
	}
}

// WithClock overrides the flow's clock. Tests use it to pin "today".
func (f *BookingFlow) WithClock(now func() time.Time) *BookingFlow {
	f.now = now
	return f
}

// State returns the current flow state.
func (f *BookingFlow) State() FlowState { return f.state }

// Date returns the selected date.
func (f *BookingFlow) Date() time.Time { return f.date }

// Slots returns the slot list computed on date selection.
func (f *BookingFlow) Slots() []availability.Slot { return f.slots }

// Selected returns the chosen slot, or nil before selection.
func (f *BookingFlow) Selected() *availability.Slot { return f.selected }

// SelectDate accepts a calendar date that is not in the past and has at
// least one free slot, then lists the slots for it. Listing follows
// selection unconditionally, so the flow lands in StateSlotsListed.
func (f *BookingFlow) SelectDate(date time.Time) error {
	if f.state != StateIdle {
		return fmt.Errorf("appointments: cannot select date in state %s", f.state)
	}
	if beforeToday(date, f.now()) {
		return ErrDateInPast
	}
	if !availability.DateBookable(date, f.templates) {
		return availability.ErrSlotUnavailable
	}
	f.date = date
	f.slots = availability.SlotsForDate(date, f.templates)
	f.state = StateSlotsListed
	return nil
}

// SelectSlot picks a free slot from the listed set. Picking a booked slot
// is a no-op: the state does not change and no error is returned, matching
// a disabled row in the slot list.
func (f *BookingFlow) SelectSlot(templateID string) error {
	if f.state != StateSlotsListed && f.state != StateFailed {
		return fmt.Errorf("appointments: cannot select slot in state %s", f.state)
	}
	for i := range f.slots {
		if f.slots[i].TemplateID != templateID {
			continue
		}
		if f.slots[i].IsBooked {
			return nil
		}
		f.selected = &f.slots[i]
		f.state = StateSlotSelected
		return nil
	}
	return fmt.Errorf("appointments: slot %s not in listed set", templateID)
}

// BeginConfirm moves the flow into Confirming. It re-checks the date gate:
// a UI left open past midnight must not confirm yesterday's slot.
func (f *BookingFlow) BeginConfirm() error {
	if f.state == StateConfirming {
		return ErrConfirmInFlight
	}
	if f.state != StateSlotSelected {
		return fmt.Errorf("appointments: cannot confirm in state %s", f.state)
	}
	if beforeToday(f.date, f.now()) {
		return ErrDateInPast
	}
	f.state = StateConfirming
	return nil
}

// Complete marks the attempt booked. Terminal.
func (f *BookingFlow) Complete() {
	if f.state == StateConfirming {
		f.state = StateBooked
	}
}

// Fail marks the attempt failed. The flow can be re-entered at the slot
// selection step via Retry.
func (f *BookingFlow) Fail() {
	if f.state == StateConfirming {
		f.state = StateFailed
	}
}

// Retry returns a failed flow to SlotSelected for another confirm attempt.
func (f *BookingFlow) Retry() error {
	if f.state != StateFailed {
		return fmt.Errorf("appointments: cannot retry in state %s", f.state)
	}
	if f.selected == nil {
		return fmt.Errorf("appointments: no slot selected to retry")
	}
	f.state = StateSlotSelected
	return nil
}

// beforeToday compares calendar dates, ignoring time of day.
func beforeToday(date, now time.Time) bool {
	return availability.DateKey(date) < availability.DateKey(now)
}
