package messaging

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxBodyLen = 4000

var (
	// ErrThreadNotFound indicates the thread does not exist.
	ErrThreadNotFound = errors.New("messaging: thread not found")
	// ErrNotParticipant indicates the caller is not part of the thread.
	ErrNotParticipant = errors.New("messaging: not a participant of this thread")
	// ErrEmptyMessage indicates a message with no body and no attachment.
	ErrEmptyMessage = errors.New("messaging: message needs a body or an attachment")
)

// Thread is a conversation between a client and a provider's owner.
type Thread struct {
	ID           string    `json:"id"`
	ProviderID   string    `json:"providerId"`
	ClientID     string    `json:"clientId"`
	ProviderUser string    `json:"providerUserId"`
	LastPreview  string    `json:"lastPreview,omitempty"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Participant reports whether userID is part of the thread.
func (t Thread) Participant(userID string) bool {
	return userID != "" && (t.ClientID == userID || t.ProviderUser == userID)
}

// OtherParticipant returns the participant that is not userID.
func (t Thread) OtherParticipant(userID string) string {
	if t.ClientID == userID {
		return t.ProviderUser
	}
	return t.ClientID
}

// Message is one chat message in a thread.
type Message struct {
	ID            string    `json:"id"`
	ThreadID      string    `json:"threadId"`
	SenderID      string    `json:"senderId"`
	Body          string    `json:"body,omitempty"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Validate checks the message content.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Body) == "" && m.AttachmentURL == "" {
		return ErrEmptyMessage
	}
	if len(m.Body) > maxBodyLen {
		return fmt.Errorf("messaging: body exceeds %d characters", maxBodyLen)
	}
	return nil
}

// Preview is the short form shown in thread lists and push notifications.
func (m Message) Preview() string {
	body := strings.TrimSpace(m.Body)
	if body == "" {
		return "Sent an attachment"
	}
	const max = 80
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max-3]) + "..."
}
