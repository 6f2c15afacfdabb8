package availability

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date form used for override entries and query
// parameters.
const DateLayout = "2006-01-02"

// clockLayout is the wall-clock form for slot boundaries, minute precision,
// interpreted in the provider's local time.
const clockLayout = "15:04"

// DateOverride marks a single calendar date of a recurring template as
// booked or freed again.
type DateOverride struct {
	Date     string `dynamodbav:"date" json:"date"`
	IsBooked bool   `dynamodbav:"isBooked" json:"isBooked"`
}

// Template is a recurring weekly open slot for one provider. It recurs
// indefinitely until deleted; per-date state lives in BookedDates.
type Template struct {
	ID          string         `json:"id"`
	ProviderID  string         `json:"providerId"`
	DayOfWeek   string         `json:"dayOfWeek"`
	StartTime   string         `json:"startTime"`
	EndTime     string         `json:"endTime"`
	BookedDates []DateOverride `json:"bookedDates,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Slot is a template instantiated against a concrete date.
type Slot struct {
	TemplateID string `json:"templateId"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
	IsBooked   bool   `json:"isBooked"`
}

// ValidationError reports malformed template input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("availability: invalid %s: %s", e.Field, e.Reason)
}

var weekdayNames = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

// NormalizeWeekday canonicalizes a weekday name ("monday" -> "Monday").
func NormalizeWeekday(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}
	canonical := strings.ToUpper(trimmed[:1]) + strings.ToLower(trimmed[1:])
	_, ok := weekdayNames[canonical]
	return canonical, ok
}

// Validate checks the template invariants: a known weekday and
// startTime < endTime.
func (t *Template) Validate() error {
	if t.ProviderID == "" {
		return &ValidationError{Field: "providerId", Reason: "required"}
	}
	day, ok := NormalizeWeekday(t.DayOfWeek)
	if !ok {
		return &ValidationError{Field: "dayOfWeek", Reason: "must be a weekday name"}
	}
	t.DayOfWeek = day

	start, err := parseClock(t.StartTime)
	if err != nil {
		return &ValidationError{Field: "startTime", Reason: "must be HH:MM"}
	}
	end, err := parseClock(t.EndTime)
	if err != nil {
		return &ValidationError{Field: "endTime", Reason: "must be HH:MM"}
	}
	if start >= end {
		return &ValidationError{Field: "endTime", Reason: "must be after startTime"}
	}
	return nil
}

// parseClock converts "HH:MM" to minutes past midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ParseDate parses a calendar date in DateLayout.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	return d, nil
}

// DateKey renders a timestamp as its calendar date, dropping time of day.
func DateKey(date time.Time) string {
	return date.Format(DateLayout)
}
