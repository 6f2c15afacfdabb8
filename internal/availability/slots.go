package availability

import (
	"errors"
	"sort"
	"time"
)

// ErrSlotUnavailable indicates an attempted booking of a slot already marked
// booked for that date.
var ErrSlotUnavailable = errors.New("availability: slot already booked for date")

// SlotsForDate computes the bookable slots a provider offers on one calendar
// date. Time of day on date is ignored. The result contains exactly the
// templates whose weekday matches the date, sorted by start time with
// template id as the tie-break so output is deterministic.
func SlotsForDate(date time.Time, templates []Template) []Slot {
	weekday := date.Weekday().String()
	key := DateKey(date)

	slots := make([]Slot, 0, len(templates))
	for _, tpl := range templates {
		if tpl.DayOfWeek != weekday {
			continue
		}
		slots = append(slots, Slot{
			TemplateID: tpl.ID,
			StartTime:  tpl.StartTime,
			EndTime:    tpl.EndTime,
			IsBooked:   bookedOn(tpl, key),
		})
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].StartTime != slots[j].StartTime {
			return slots[i].StartTime < slots[j].StartTime
		}
		return slots[i].TemplateID < slots[j].TemplateID
	})
	return slots
}

// DateBookable reports whether at least one slot on the date is still free.
// Calendar UIs use it to decorate selectable days.
func DateBookable(date time.Time, templates []Template) bool {
	for _, slot := range SlotsForDate(date, templates) {
		if !slot.IsBooked {
			return true
		}
	}
	return false
}

// ApplyBooking returns a copy of the template with the date marked booked.
// The input template is never mutated. Booking an already-booked date fails
// with ErrSlotUnavailable.
func ApplyBooking(tpl Template, date time.Time) (Template, error) {
	key := DateKey(date)
	if bookedOn(tpl, key) {
		return Template{}, ErrSlotUnavailable
	}

	updated := tpl
	updated.BookedDates = make([]DateOverride, 0, len(tpl.BookedDates)+1)
	found := false
	for _, o := range tpl.BookedDates {
		if o.Date == key {
			// Reuse the freed entry left behind by a cancellation.
			o.IsBooked = true
			found = true
		}
		updated.BookedDates = append(updated.BookedDates, o)
	}
	if !found {
		updated.BookedDates = append(updated.BookedDates, DateOverride{Date: key, IsBooked: true})
	}
	return updated, nil
}

// ApplyCancellation returns a copy of the template with the date freed. The
// override entry is retained with isBooked false rather than removed, so the
// override history survives; SlotsForDate treats a retained false entry and
// a missing entry identically. Cancelling an unbooked date is a no-op.
func ApplyCancellation(tpl Template, date time.Time) Template {
	key := DateKey(date)

	updated := tpl
	updated.BookedDates = make([]DateOverride, len(tpl.BookedDates))
	for i, o := range tpl.BookedDates {
		if o.Date == key {
			o.IsBooked = false
		}
		updated.BookedDates[i] = o
	}
	return updated
}

func bookedOn(tpl Template, dateKey string) bool {
	for _, o := range tpl.BookedDates {
		if o.Date == dateKey && o.IsBooked {
			return true
		}
	}
	return false
}
