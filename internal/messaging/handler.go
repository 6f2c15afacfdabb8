package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/servly/servly-platform/internal/identity"
	"github.com/servly/servly-platform/internal/providers"
	"github.com/servly/servly-platform/internal/storage"
	"github.com/servly/servly-platform/pkg/logging"
)

// maxAttachmentBytes bounds chat attachment uploads.
const maxAttachmentBytes = 10 << 20

// ThreadStore is the persistence surface the handler needs.
type ThreadStore interface {
	EnsureThread(ctx context.Context, providerID, clientID, providerUserID string) (*Thread, error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, userID string) ([]Thread, error)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
}

// ProviderDirectory resolves a provider profile to its owning user.
type ProviderDirectory interface {
	ProviderOwner(ctx context.Context, providerID string) (string, error)
}

// Notifier pushes new-message notifications, best effort.
type Notifier interface {
	MessageReceived(ctx context.Context, recipientID, senderName, preview, threadID string)
}

// Handler serves client-provider chat.
type Handler struct {
	store    ThreadStore
	dir      ProviderDirectory
	blobs    *storage.BlobStore
	notifier Notifier
	ident    identity.Provider
	logger   *logging.Logger
}

func NewHandler(store ThreadStore, dir ProviderDirectory, blobs *storage.BlobStore, notifier Notifier, ident identity.Provider, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, dir: dir, blobs: blobs, notifier: notifier, ident: ident, logger: logger}
}

// OpenThreadRequest starts (or resumes) a conversation with a provider.
type OpenThreadRequest struct {
	ProviderID string `json:"providerId"`
}

// OpenThread handles POST /threads.
func (h *Handler) OpenThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ident.CurrentUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req OpenThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "providerId is required")
		return
	}

	ownerID, err := h.dir.ProviderOwner(r.Context(), req.ProviderID)
	if err != nil {
		if errors.Is(err, providers.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		h.logger.Error("failed to resolve provider owner", "error", err, "provider_id", req.ProviderID)
		writeError(w, http.StatusInternalServerError, "failed to open thread")
		return
	}
	if ownerID == userID {
		writeError(w, http.StatusBadRequest, "cannot message your own listing")
		return
	}

	thread, err := h.store.EnsureThread(r.Context(), req.ProviderID, userID, ownerID)
	if err != nil {
		h.logger.Error("failed to open thread", "error", err, "provider_id", req.ProviderID)
		writeError(w, http.StatusInternalServerError, "failed to open thread")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(thread)
}

// ListThreads handles GET /threads.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ident.CurrentUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	threads, err := h.store.ListThreads(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list threads", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"threads": threads,
		"count":   len(threads),
	})
}

// ListMessages handles GET /threads/{threadID}/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.participantThread(w, r)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(r.Context(), thread.ID)
	if err != nil {
		h.logger.Error("failed to list messages", "error", err, "thread_id", thread.ID)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}

// SendMessageRequest is the message payload. The attachment, if any, is
// uploaded first and referenced by URL.
type SendMessageRequest struct {
	Body          string `json:"body"`
	AttachmentURL string `json:"attachmentUrl"`
}

// SendMessage handles POST /threads/{threadID}/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.participantThread(w, r)
	if !ok {
		return
	}
	userID, _ := h.ident.CurrentUserID(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg := &Message{
		ThreadID:      thread.ID,
		SenderID:      userID,
		Body:          req.Body,
		AttachmentURL: req.AttachmentURL,
	}
	if err := h.store.AppendMessage(r.Context(), msg); err != nil {
		if errors.Is(err, ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to send message", "error", err, "thread_id", thread.ID)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	if h.notifier != nil {
		h.notifier.MessageReceived(r.Context(), thread.OtherParticipant(userID), "", msg.Preview(), thread.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// UploadAttachment handles POST /threads/{threadID}/attachments. Raw
// image body, content type from the header.
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.participantThread(w, r)
	if !ok {
		return
	}
	if !h.blobs.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "media storage is not configured")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAttachmentBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) > maxAttachmentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "attachment exceeds size limit")
		return
	}

	url, err := h.blobs.Upload(r.Context(), "attachments/"+thread.ID, r.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"attachmentUrl": url})
}

// participantThread loads the thread and verifies the caller belongs to
// it, writing the failure response itself.
func (h *Handler) participantThread(w http.ResponseWriter, r *http.Request) (*Thread, bool) {
	userID, ok := h.ident.CurrentUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	thread, err := h.store.GetThread(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		if errors.Is(err, ErrThreadNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return nil, false
		}
		h.logger.Error("failed to load thread", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return nil, false
	}
	if !thread.Participant(userID) {
		writeError(w, http.StatusForbidden, ErrNotParticipant.Error())
		return nil, false
	}
	return thread, true
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
