package appointments

import "time"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusCancelled Status = "cancelled"
)

// Appointment is one concrete booking of a provider's slot on a specific
// date. Service carries a denormalized copy of the provider's service label
// so the record survives provider edits.
type Appointment struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"providerId"`
	UserID     string    `json:"userId"`
	TemplateID string    `json:"templateId"`
	Date       time.Time `json:"date"`
	Service    string    `json:"service"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}
