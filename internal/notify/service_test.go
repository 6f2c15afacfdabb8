package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/servly/servly-platform/internal/appointments"
)

type fakePush struct {
	events []PushEvent
	err    error
}

func (f *fakePush) Push(_ context.Context, event PushEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakeEmail struct {
	sent []EmailMessage
	err  error
}

func (f *fakeEmail) Send(_ context.Context, msg EmailMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeDirectory map[string]Contact

func (d fakeDirectory) Lookup(_ context.Context, userID string) (Contact, error) {
	c, ok := d[userID]
	if !ok {
		return Contact{}, errors.New("unknown user")
	}
	return c, nil
}

func testAppointment() appointments.Appointment {
	return appointments.Appointment{
		ID:         "appt-1",
		ProviderID: "provider-1",
		UserID:     "user-1",
		TemplateID: "tpl-1",
		Date:       time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		Status:     appointments.StatusReserved,
	}
}

func TestBookingConfirmedSendsPushAndEmail(t *testing.T) {
	push := &fakePush{}
	email := &fakeEmail{}
	dir := fakeDirectory{"user-1": {Email: "user@example.com", Name: "Pat"}}
	svc := NewService(push, email, dir, nil)

	svc.BookingConfirmed(context.Background(), testAppointment())

	if len(push.events) != 1 {
		t.Fatalf("expected 1 push event, got %d", len(push.events))
	}
	evt := push.events[0]
	if evt.Type != "booking.confirmed" || evt.UserID != "user-1" {
		t.Errorf("unexpected event %+v", evt)
	}
	if evt.Data["appointmentId"] != "appt-1" || evt.Data["date"] != "2024-06-03" {
		t.Errorf("unexpected event data %+v", evt.Data)
	}

	if len(email.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(email.sent))
	}
	if email.sent[0].To != "user@example.com" {
		t.Errorf("email went to %q", email.sent[0].To)
	}
}

func TestBookingCancelledPushOnlyWithoutDirectory(t *testing.T) {
	push := &fakePush{}
	email := &fakeEmail{}
	svc := NewService(push, email, nil, nil)

	svc.BookingCancelled(context.Background(), testAppointment())

	if len(push.events) != 1 {
		t.Fatalf("expected 1 push event, got %d", len(push.events))
	}
	if push.events[0].Type != "booking.cancelled" {
		t.Errorf("unexpected type %q", push.events[0].Type)
	}
	if len(email.sent) != 0 {
		t.Error("no directory configured, no email expected")
	}
}

func TestMessageReceivedNeverEmails(t *testing.T) {
	push := &fakePush{}
	email := &fakeEmail{}
	dir := fakeDirectory{"user-2": {Email: "other@example.com"}}
	svc := NewService(push, email, dir, nil)

	svc.MessageReceived(context.Background(), "user-2", "Jamie", "see you at 9", "thread-1")

	if len(push.events) != 1 {
		t.Fatalf("expected 1 push event, got %d", len(push.events))
	}
	if push.events[0].Title != "Jamie" || push.events[0].Data["threadId"] != "thread-1" {
		t.Errorf("unexpected event %+v", push.events[0])
	}
	if len(email.sent) != 0 {
		t.Error("chat messages must not trigger email")
	}
}

func TestPushFailureIsSwallowed(t *testing.T) {
	push := &fakePush{err: errors.New("queue down")}
	svc := NewService(push, nil, nil, nil)

	// Must not panic and must not propagate the error.
	svc.BookingConfirmed(context.Background(), testAppointment())
}

type mockSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (m *mockSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSQSPushGatewayEnvelope(t *testing.T) {
	mock := &mockSQS{}
	gw := NewSQSPushGateway(mock, "https://sqs.test/queue", nil)

	err := gw.Push(context.Background(), PushEvent{Type: "booking.confirmed", UserID: "user-1", Title: "hi"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if aws.ToString(mock.input.QueueUrl) != "https://sqs.test/queue" {
		t.Errorf("queue url = %q", aws.ToString(mock.input.QueueUrl))
	}

	var evt PushEvent
	if err := json.Unmarshal([]byte(aws.ToString(mock.input.MessageBody)), &evt); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if evt.Type != "booking.confirmed" || evt.UserID != "user-1" {
		t.Errorf("unexpected envelope %+v", evt)
	}
	if evt.SentAt == "" {
		t.Error("SentAt should default to now")
	}
}

func TestSQSPushGatewayDisabledWithoutQueue(t *testing.T) {
	if gw := NewSQSPushGateway(&mockSQS{}, "", nil); gw != nil {
		t.Error("gateway without a queue URL should be nil")
	}
}
