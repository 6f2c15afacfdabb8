package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/servly/servly-platform/internal/availability"
	"github.com/servly/servly-platform/internal/identity"
	"github.com/servly/servly-platform/internal/observability/metrics"
	"github.com/servly/servly-platform/pkg/logging"
)

// TemplateStore is the slice of the availability repository the booking
// flows need.
type TemplateStore interface {
	Get(ctx context.Context, id string) (*availability.Template, error)
	ListByProvider(ctx context.Context, providerID string) ([]availability.Template, error)
	SaveOverrides(ctx context.Context, id string, overrides []availability.DateOverride) error
}

// AppointmentStore persists appointment records.
type AppointmentStore interface {
	Create(ctx context.Context, appt *Appointment) error
	Get(ctx context.Context, id string) (*Appointment, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]Appointment, error)
	ListByProvider(ctx context.Context, providerID string) ([]Appointment, error)
}

// ConfirmGuard keeps a second confirm from starting while one is in flight
// for the same slot attempt.
type ConfirmGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

// Notifier receives best-effort booking lifecycle notifications.
type Notifier interface {
	BookingConfirmed(ctx context.Context, appt Appointment)
	BookingCancelled(ctx context.Context, appt Appointment)
}

// ConfirmRequest describes one confirm action.
type ConfirmRequest struct {
	ProviderID string
	TemplateID string
	Date       time.Time
	Service    string
}

// Service orchestrates the booking, cancellation, and deletion flows. The
// two dependent writes of each flow (appointment record, availability
// override) are issued strictly sequentially; a failure between them is
// surfaced as *PartialFailureError, never collapsed into a generic one.
type Service struct {
	templates TemplateStore
	store     AppointmentStore
	ident     identity.Provider
	guard     ConfirmGuard
	notifier  Notifier
	metrics   *metrics.BookingMetrics
	now       func() time.Time
	logger    *logging.Logger
}

// NewService wires the booking controller. The identity provider is an
// explicit dependency: the service never reads ambient auth state. guard,
// notifier, and metrics may be nil.
func NewService(templates TemplateStore, store AppointmentStore, ident identity.Provider, logger *logging.Logger) *Service {
	if templates == nil {
		panic("appointments: template store required")
	}
	if store == nil {
		panic("appointments: appointment store required")
	}
	if ident == nil {
		panic("appointments: identity provider required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		templates: templates,
		store:     store,
		ident:     ident,
		now:       time.Now,
		logger:    logger,
	}
}

// WithGuard installs the in-flight confirm guard.
func (s *Service) WithGuard(guard ConfirmGuard) *Service {
	s.guard = guard
	return s
}

// WithNotifier installs the booking notification sink.
func (s *Service) WithNotifier(notifier Notifier) *Service {
	s.notifier = notifier
	return s
}

// WithMetrics installs booking metrics.
func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Confirm executes the terminal step of a booking attempt: create the
// appointment record, then mark the template's date booked. The override
// update must come second so a partial failure always leaves an appointment
// record to report.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*Appointment, error) {
	userID, ok := s.ident.CurrentUserID(ctx)
	if !ok {
		s.metrics.ObserveConfirm("unauthenticated")
		return nil, ErrUnauthenticated
	}

	// Re-check the date gate at confirm time: a stale UI left open past
	// midnight must not book yesterday.
	if beforeToday(req.Date, s.now()) {
		s.metrics.ObserveConfirm("date_in_past")
		return nil, ErrDateInPast
	}

	tpl, err := s.templates.Get(ctx, req.TemplateID)
	if err != nil {
		if errors.Is(err, availability.ErrTemplateNotFound) {
			s.metrics.ObserveConfirm("not_found")
			return nil, err
		}
		s.metrics.ObserveConfirm("transient")
		return nil, &TransientError{Err: err}
	}
	if tpl.ProviderID != req.ProviderID {
		s.metrics.ObserveConfirm("not_found")
		return nil, availability.ErrTemplateNotFound
	}
	if tpl.DayOfWeek != req.Date.Weekday().String() {
		s.metrics.ObserveConfirm("validation")
		return nil, &availability.ValidationError{Field: "date", Reason: "weekday does not match slot"}
	}

	updated, err := availability.ApplyBooking(*tpl, req.Date)
	if err != nil {
		s.metrics.ObserveConfirm("slot_unavailable")
		return nil, err
	}

	if s.guard != nil {
		key := confirmKey(req.TemplateID, req.Date)
		acquired, err := s.guard.Acquire(ctx, key)
		if err != nil {
			s.logger.Warn("confirm guard unavailable, proceeding unguarded", "error", err)
		} else if !acquired {
			s.metrics.ObserveConfirm("in_flight")
			return nil, ErrConfirmInFlight
		} else {
			defer s.guard.Release(ctx, key)
		}
	}

	appt := &Appointment{
		ProviderID: req.ProviderID,
		UserID:     userID,
		TemplateID: req.TemplateID,
		Date:       req.Date,
		Service:    req.Service,
		Status:     StatusReserved,
	}
	if err := s.store.Create(ctx, appt); err != nil {
		// Nothing was written: clean failure, safe to retry.
		s.metrics.ObserveConfirm("transient")
		return nil, &TransientError{Err: err}
	}

	if err := s.templates.SaveOverrides(ctx, req.TemplateID, updated.BookedDates); err != nil {
		s.metrics.ObserveConfirm("partial_failure")
		s.metrics.ObservePartialFailure("booking")
		s.logger.Error("booking left inconsistent: appointment reserved but slot not marked",
			"appointment_id", appt.ID, "template_id", req.TemplateID, "error", err)
		return appt, &PartialFailureError{
			Flow:          "booking",
			Step:          "availability-update",
			AppointmentID: appt.ID,
			Err:           err,
		}
	}

	s.metrics.ObserveConfirm("booked")
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID, "provider_id", appt.ProviderID, "date", availability.DateKey(appt.Date))
	if s.notifier != nil {
		s.notifier.BookingConfirmed(ctx, *appt)
	}
	return appt, nil
}

// Cancel soft-cancels an appointment, then frees the availability override.
func (s *Service) Cancel(ctx context.Context, appointmentID string) error {
	appt, err := s.authorize(ctx, appointmentID)
	if err != nil {
		s.metrics.ObserveCancel(outcomeFor(err))
		return err
	}
	if appt.Status == StatusCancelled {
		// Cancellation is idempotent.
		s.metrics.ObserveCancel("cancelled")
		return nil
	}

	if err := s.store.UpdateStatus(ctx, appointmentID, StatusCancelled); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			s.metrics.ObserveCancel("not_found")
			return err
		}
		s.metrics.ObserveCancel("transient")
		return &TransientError{Err: err}
	}
	appt.Status = StatusCancelled

	if err := s.freeSlot(ctx, appt); err != nil {
		s.metrics.ObserveCancel("partial_failure")
		s.metrics.ObservePartialFailure("cancellation")
		s.logger.Error("cancellation left inconsistent: appointment cancelled but slot still marked",
			"appointment_id", appointmentID, "error", err)
		return &PartialFailureError{
			Flow:          "cancellation",
			Step:          "availability-update",
			AppointmentID: appointmentID,
			Err:           err,
		}
	}

	s.metrics.ObserveCancel("cancelled")
	s.logger.Info("appointment cancelled", "appointment_id", appointmentID)
	if s.notifier != nil {
		s.notifier.BookingCancelled(ctx, *appt)
	}
	return nil
}

// Delete hard-deletes an appointment record. The slot is freed first; if
// freeing fails the record is kept, so a still-blocked slot never loses its
// appointment.
func (s *Service) Delete(ctx context.Context, appointmentID string) error {
	appt, err := s.authorize(ctx, appointmentID)
	if err != nil {
		s.metrics.ObserveDelete(outcomeFor(err))
		return err
	}

	if appt.Status == StatusReserved {
		if err := s.freeSlot(ctx, appt); err != nil {
			s.metrics.ObserveDelete("transient")
			return &TransientError{Err: err}
		}
	}

	if err := s.store.Delete(ctx, appointmentID); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			s.metrics.ObserveDelete("not_found")
			return err
		}
		s.metrics.ObserveDelete("partial_failure")
		s.metrics.ObservePartialFailure("deletion")
		return &PartialFailureError{
			Flow:          "deletion",
			Step:          "appointment-delete",
			AppointmentID: appointmentID,
			Err:           err,
		}
	}

	s.metrics.ObserveDelete("deleted")
	s.logger.Info("appointment deleted", "appointment_id", appointmentID)
	return nil
}

// ListMine returns the calling user's appointments.
func (s *Service) ListMine(ctx context.Context) ([]Appointment, error) {
	userID, ok := s.ident.CurrentUserID(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	appts, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	return appts, nil
}

// Get returns one appointment visible to the calling user.
func (s *Service) Get(ctx context.Context, appointmentID string) (*Appointment, error) {
	return s.authorize(ctx, appointmentID)
}

// freeSlot reverses the booking override for the appointment's date. A
// deleted template means the override vanished with it; that is not an
// error, historical appointments outlive their templates.
func (s *Service) freeSlot(ctx context.Context, appt *Appointment) error {
	tpl, err := s.templates.Get(ctx, appt.TemplateID)
	if err != nil {
		if errors.Is(err, availability.ErrTemplateNotFound) {
			s.logger.Warn("template gone, nothing to free",
				"appointment_id", appt.ID, "template_id", appt.TemplateID)
			return nil
		}
		return err
	}

	freed := availability.ApplyCancellation(*tpl, appt.Date)
	return s.templates.SaveOverrides(ctx, tpl.ID, freed.BookedDates)
}

func (s *Service) authorize(ctx context.Context, appointmentID string) (*Appointment, error) {
	userID, ok := s.ident.CurrentUserID(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	appt, err := s.store.Get(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, &TransientError{Err: err}
	}
	if appt.UserID != userID {
		return nil, ErrForbidden
	}
	return appt, nil
}

func confirmKey(templateID string, date time.Time) string {
	return fmt.Sprintf("confirm:%s:%s", templateID, availability.DateKey(date))
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "transient"
	}
}
