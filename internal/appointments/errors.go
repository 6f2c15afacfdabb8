package appointments

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated indicates the flow requires a signed-in identity
	// that is absent.
	ErrUnauthenticated = errors.New("appointments: authentication required")

	// ErrAppointmentNotFound indicates the referenced appointment no longer
	// exists.
	ErrAppointmentNotFound = errors.New("appointments: appointment not found")

	// ErrForbidden indicates the caller is signed in but does not own the
	// appointment.
	ErrForbidden = errors.New("appointments: not allowed")

	// ErrDateInPast indicates the requested date is before today in the
	// local calendar. Checked on selection and re-checked at confirm time.
	ErrDateInPast = errors.New("appointments: date is in the past")

	// ErrConfirmInFlight indicates a confirm for the same slot attempt is
	// already running; the caller should wait for its outcome.
	ErrConfirmInFlight = errors.New("appointments: confirm already in flight")
)

// PartialFailureError reports that one of the two dependent writes of a
// booking, cancellation, or deletion flow succeeded while the other failed,
// leaving the appointment record and the availability override out of sync.
// Callers must not collapse it into a generic failure: recovery means
// retrying the named step or manually reconciling, not re-running the flow.
type PartialFailureError struct {
	Flow          string // "booking", "cancellation", "deletion"
	Step          string // the write that failed
	AppointmentID string
	Err           error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("appointments: partial %s failure at %s for appointment %s: %v",
		e.Flow, e.Step, e.AppointmentID, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// TransientError wraps a store failure observed before any write took
// effect. The flow left no partial state behind and is safe to retry as a
// whole.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("appointments: transient store failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
