package appointments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servly/servly-platform/internal/availability"
	"github.com/servly/servly-platform/pkg/logging"
)

// 2024-06-03 is a Monday.
var svcMonday = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

type fakeIdentity struct {
	userID string
}

func (f fakeIdentity) CurrentUserID(ctx context.Context) (string, bool) {
	return f.userID, f.userID != ""
}

type fakeTemplateStore struct {
	templates map[string]*availability.Template
	saveErr   error
	saved     map[string][]availability.DateOverride
}

func newFakeTemplateStore(templates ...availability.Template) *fakeTemplateStore {
	s := &fakeTemplateStore{
		templates: make(map[string]*availability.Template),
		saved:     make(map[string][]availability.DateOverride),
	}
	for i := range templates {
		tpl := templates[i]
		s.templates[tpl.ID] = &tpl
	}
	return s
}

func (s *fakeTemplateStore) Get(ctx context.Context, id string) (*availability.Template, error) {
	tpl, ok := s.templates[id]
	if !ok {
		return nil, availability.ErrTemplateNotFound
	}
	copied := *tpl
	return &copied, nil
}

func (s *fakeTemplateStore) ListByProvider(ctx context.Context, providerID string) ([]availability.Template, error) {
	var out []availability.Template
	for _, tpl := range s.templates {
		if tpl.ProviderID == providerID {
			out = append(out, *tpl)
		}
	}
	return out, nil
}

func (s *fakeTemplateStore) SaveOverrides(ctx context.Context, id string, overrides []availability.DateOverride) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	tpl, ok := s.templates[id]
	if !ok {
		return availability.ErrTemplateNotFound
	}
	tpl.BookedDates = overrides
	s.saved[id] = overrides
	return nil
}

type fakeAppointmentStore struct {
	appts     map[string]*Appointment
	seq       int
	createErr error
	updateErr error
	deleteErr error
}

func newFakeAppointmentStore() *fakeAppointmentStore {
	return &fakeAppointmentStore{appts: make(map[string]*Appointment)}
}

func (s *fakeAppointmentStore) Create(ctx context.Context, appt *Appointment) error {
	if s.createErr != nil {
		return s.createErr
	}
	if appt.ID == "" {
		s.seq++
		appt.ID = fmt.Sprintf("appt-%d", s.seq)
	}
	appt.CreatedAt = time.Now().UTC()
	copied := *appt
	s.appts[appt.ID] = &copied
	return nil
}

func (s *fakeAppointmentStore) Get(ctx context.Context, id string) (*Appointment, error) {
	appt, ok := s.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	copied := *appt
	return &copied, nil
}

func (s *fakeAppointmentStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	appt, ok := s.appts[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	appt.Status = status
	return nil
}

func (s *fakeAppointmentStore) Delete(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(s.appts, id)
	return nil
}

func (s *fakeAppointmentStore) ListByUser(ctx context.Context, userID string) ([]Appointment, error) {
	var out []Appointment
	for _, appt := range s.appts {
		if appt.UserID == userID {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (s *fakeAppointmentStore) ListByProvider(ctx context.Context, providerID string) ([]Appointment, error) {
	var out []Appointment
	for _, appt := range s.appts {
		if appt.ProviderID == providerID {
			out = append(out, *appt)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	confirmed []Appointment
	cancelled []Appointment
}

func (n *recordingNotifier) BookingConfirmed(ctx context.Context, appt Appointment) {
	n.confirmed = append(n.confirmed, appt)
}

func (n *recordingNotifier) BookingCancelled(ctx context.Context, appt Appointment) {
	n.cancelled = append(n.cancelled, appt)
}

func svcTemplate() availability.Template {
	return availability.Template{
		ID:         "tpl-1",
		ProviderID: "provider-1",
		DayOfWeek:  "Monday",
		StartTime:  "09:00",
		EndTime:    "10:00",
	}
}

func newTestService(templates *fakeTemplateStore, store *fakeAppointmentStore, userID string) *Service {
	return NewService(templates, store, fakeIdentity{userID: userID}, logging.Default()).
		WithClock(func() time.Time { return svcMonday })
}

func confirmReq() ConfirmRequest {
	return ConfirmRequest{
		ProviderID: "provider-1",
		TemplateID: "tpl-1",
		Date:       svcMonday,
		Service:    "Haircut",
	}
}

func TestConfirmHappyPath(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	notifier := &recordingNotifier{}
	svc := newTestService(templates, store, "user-1").WithNotifier(notifier)

	appt, err := svc.Confirm(context.Background(), confirmReq())
	require.NoError(t, err)
	require.NotNil(t, appt)

	assert.Equal(t, StatusReserved, appt.Status)
	assert.Equal(t, "user-1", appt.UserID)
	assert.Equal(t, "Haircut", appt.Service)

	// The override landed on the template.
	overrides := templates.saved["tpl-1"]
	require.Len(t, overrides, 1)
	assert.Equal(t, "2024-06-03", overrides[0].Date)
	assert.True(t, overrides[0].IsBooked)

	require.Len(t, notifier.confirmed, 1)
}

func TestConfirmUnauthenticated(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "")

	_, err := svc.Confirm(context.Background(), confirmReq())
	require.ErrorIs(t, err, ErrUnauthenticated)

	// No appointment record was created.
	assert.Empty(t, store.appts)
	assert.Empty(t, templates.saved)
}

func TestConfirmPastDate(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	req := confirmReq()
	req.Date = svcMonday.AddDate(0, 0, -7)
	_, err := svc.Confirm(context.Background(), req)
	require.ErrorIs(t, err, ErrDateInPast)
	assert.Empty(t, store.appts)
}

func TestConfirmSlotAlreadyBooked(t *testing.T) {
	tpl := svcTemplate()
	tpl.BookedDates = []availability.DateOverride{{Date: "2024-06-03", IsBooked: true}}
	templates := newFakeTemplateStore(tpl)
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	_, err := svc.Confirm(context.Background(), confirmReq())
	require.ErrorIs(t, err, availability.ErrSlotUnavailable)
	assert.Empty(t, store.appts)
}

func TestConfirmTemplateMissing(t *testing.T) {
	templates := newFakeTemplateStore()
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	_, err := svc.Confirm(context.Background(), confirmReq())
	require.ErrorIs(t, err, availability.ErrTemplateNotFound)
}

func TestConfirmWeekdayMismatch(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	req := confirmReq()
	req.Date = svcMonday.AddDate(0, 0, 1) // Tuesday
	_, err := svc.Confirm(context.Background(), req)

	var verr *availability.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestConfirmCreateFailureIsTransient(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	store.createErr = errors.New("store down")
	svc := newTestService(templates, store, "user-1")

	_, err := svc.Confirm(context.Background(), confirmReq())

	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	// No partial state: the override was never written.
	assert.Empty(t, templates.saved)
}

func TestConfirmOverrideFailureIsPartial(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	templates.saveErr = errors.New("store down")
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	appt, err := svc.Confirm(context.Background(), confirmReq())

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "booking", partial.Flow)
	assert.Equal(t, "availability-update", partial.Step)

	// The appointment record exists; the caller decides whether to retry
	// the override write or roll the record back.
	require.NotNil(t, appt)
	assert.Equal(t, partial.AppointmentID, appt.ID)
	assert.Len(t, store.appts, 1)
}

type blockingGuard struct {
	held map[string]bool
}

func (g *blockingGuard) Acquire(ctx context.Context, key string) (bool, error) {
	if g.held == nil {
		g.held = make(map[string]bool)
	}
	if g.held[key] {
		return false, nil
	}
	g.held[key] = true
	return true, nil
}

func (g *blockingGuard) Release(ctx context.Context, key string) {
	delete(g.held, key)
}

func TestConfirmInFlightGuard(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	guard := &blockingGuard{held: map[string]bool{"confirm:tpl-1:2024-06-03": true}}
	svc := newTestService(templates, store, "user-1").WithGuard(guard)

	_, err := svc.Confirm(context.Background(), confirmReq())
	require.ErrorIs(t, err, ErrConfirmInFlight)
	assert.Empty(t, store.appts)
}

func TestCancelHappyPath(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	notifier := &recordingNotifier{}
	svc := newTestService(templates, store, "user-1").WithNotifier(notifier)

	appt, err := svc.Confirm(context.Background(), confirmReq())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), appt.ID))

	stored, err := store.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)

	// The slot is free again.
	tpl, err := templates.Get(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.True(t, availability.DateBookable(svcMonday, []availability.Template{*tpl}))

	require.Len(t, notifier.cancelled, 1)
}

func TestCancelIsIdempotent(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	appt, err := svc.Confirm(context.Background(), confirmReq())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), appt.ID))
	require.NoError(t, svc.Cancel(context.Background(), appt.ID))
}

func TestCancelOverrideFailureIsPartial(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	appt, err := svc.Confirm(context.Background(), confirmReq())
	require.NoError(t, err)

	// The override write starts failing after the booking landed.
	templates.saveErr = errors.New("store down")

	err = svc.Cancel(context.Background(), appt.ID)
	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "cancellation", partial.Flow)

	// The documented inconsistency window: status is already cancelled
	// while the slot remains marked booked.
	stored, getErr := store.Get(context.Background(), appt.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusCancelled, stored.Status)

	tpl, getErr := templates.Get(context.Background(), "tpl-1")
	require.NoError(t, getErr)
	assert.False(t, availability.DateBookable(svcMonday, []availability.Template{*tpl}))
}

func TestCancelForbiddenForOtherUser(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	appt, err := svc.Confirm(context.Background(), confirmReq())
	require.NoError(t, err)

	other := newTestService(templates, store, "user-2")
	require.ErrorIs(t, other.Cancel(context.Background(), appt.ID), ErrForbidden)
}

func TestDeleteFreesSlotFirst(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	appt, err := svc.Confirm(context.Background(), confirmReq())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), appt.ID))

	_, err = store.Get(context.Background(), appt.ID)
	require.ErrorIs(t, err, ErrAppointmentNotFound)

	tpl, err := templates.Get(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.True(t, availability.DateBookable(svcMonday, []availability.Template{*tpl}))
}

func TestDeleteKeepsRecordWhenFreeingFails(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	appt, err := svc.Confirm(context.Background(), confirmReq())
	require.NoError(t, err)

	templates.saveErr = errors.New("store down")

	err = svc.Delete(context.Background(), appt.ID)
	var transient *TransientError
	require.ErrorAs(t, err, &transient)

	// The record survives: a still-blocked slot never loses its appointment.
	_, getErr := store.Get(context.Background(), appt.ID)
	require.NoError(t, getErr)
}

func TestDeleteAfterTemplateGone(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	appt, err := svc.Confirm(context.Background(), confirmReq())
	require.NoError(t, err)

	// Provider deletes the template; historical appointments survive.
	delete(templates.templates, "tpl-1")

	require.NoError(t, svc.Delete(context.Background(), appt.ID))
}

func TestListMineRequiresIdentity(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "")

	_, err := svc.ListMine(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestBookCancelRebookThroughService(t *testing.T) {
	templates := newFakeTemplateStore(svcTemplate())
	store := newFakeAppointmentStore()
	svc := newTestService(templates, store, "user-1")

	first, err := svc.Confirm(context.Background(), confirmReq())
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), first.ID))

	second, err := svc.Confirm(context.Background(), confirmReq())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	tpl, err := templates.Get(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.False(t, availability.DateBookable(svcMonday, []availability.Template{*tpl}))
}
