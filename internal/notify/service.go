package notify

import (
	"context"
	"fmt"

	"github.com/servly/servly-platform/internal/appointments"
	"github.com/servly/servly-platform/internal/availability"
	"github.com/servly/servly-platform/pkg/logging"
)

// Contact is a resolvable notification address for a user.
type Contact struct {
	Email string
	Name  string
}

// Directory resolves user IDs to contact details. The platform's user
// store lives in the managed backend, so the directory is pluggable and
// optional. Without one, only push events go out.
type Directory interface {
	Lookup(ctx context.Context, userID string) (Contact, error)
}

// Service fans booking and messaging events out to push and email.
// Every method is best effort. Failures are logged, never returned to
// the flows that triggered them.
type Service struct {
	push   PushGateway
	email  EmailSender
	dir    Directory
	logger *logging.Logger
}

// NewService creates a notification service. Any dependency may be nil.
func NewService(push PushGateway, email EmailSender, dir Directory, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{push: push, email: email, dir: dir, logger: logger}
}

// BookingConfirmed notifies the client that their booking went through.
func (s *Service) BookingConfirmed(ctx context.Context, appt appointments.Appointment) {
	date := availability.DateKey(appt.Date)
	s.send(ctx, appt.UserID, PushEvent{
		Type:   "booking.confirmed",
		UserID: appt.UserID,
		Title:  "Booking confirmed",
		Body:   fmt.Sprintf("Your appointment on %s is confirmed.", date),
		Data: map[string]string{
			"appointmentId": appt.ID,
			"providerId":    appt.ProviderID,
			"date":          date,
		},
	}, "Booking confirmed", fmt.Sprintf("Your appointment on %s is confirmed. See the app for details.", date))
}

// BookingCancelled notifies the client that their booking was cancelled.
func (s *Service) BookingCancelled(ctx context.Context, appt appointments.Appointment) {
	date := availability.DateKey(appt.Date)
	s.send(ctx, appt.UserID, PushEvent{
		Type:   "booking.cancelled",
		UserID: appt.UserID,
		Title:  "Booking cancelled",
		Body:   fmt.Sprintf("Your appointment on %s was cancelled.", date),
		Data: map[string]string{
			"appointmentId": appt.ID,
			"providerId":    appt.ProviderID,
			"date":          date,
		},
	}, "Booking cancelled", fmt.Sprintf("Your appointment on %s was cancelled.", date))
}

// MessageReceived notifies a chat participant about a new message.
func (s *Service) MessageReceived(ctx context.Context, recipientID, senderName, preview, threadID string) {
	if senderName == "" {
		senderName = "New message"
	}
	s.send(ctx, recipientID, PushEvent{
		Type:   "message.received",
		UserID: recipientID,
		Title:  senderName,
		Body:   preview,
		Data:   map[string]string{"threadId": threadID},
	}, "", "")
}

func (s *Service) send(ctx context.Context, userID string, event PushEvent, emailSubject, emailBody string) {
	if s.push != nil {
		if err := s.push.Push(ctx, event); err != nil {
			s.logger.Warn("push notification failed", "error", err, "type", event.Type, "user_id", userID)
		}
	}

	if s.email == nil || s.dir == nil || emailSubject == "" {
		return
	}
	contact, err := s.dir.Lookup(ctx, userID)
	if err != nil || contact.Email == "" {
		s.logger.Debug("no email contact for user", "user_id", userID)
		return
	}
	msg := EmailMessage{To: contact.Email, ToName: contact.Name, Subject: emailSubject, Body: emailBody}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Warn("email notification failed", "error", err, "user_id", userID)
	}
}
