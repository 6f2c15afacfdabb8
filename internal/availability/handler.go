package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/servly/servly-platform/internal/identity"
	"github.com/servly/servly-platform/internal/observability/metrics"
	"github.com/servly/servly-platform/pkg/logging"
)

const monthLayout = "2006-01"

// TemplateStore is the persistence surface the handler needs.
type TemplateStore interface {
	Create(ctx context.Context, tpl *Template) error
	Get(ctx context.Context, templateID string) (*Template, error)
	ListByProvider(ctx context.Context, providerID string) ([]Template, error)
	Delete(ctx context.Context, templateID string) error
}

// OwnershipChecker reports whether a user owns a provider profile.
// Implemented by the providers package.
type OwnershipChecker interface {
	OwnsProvider(ctx context.Context, userID, providerID string) (bool, error)
}

// Handler serves availability templates and computed slots.
type Handler struct {
	store   TemplateStore
	owners  OwnershipChecker
	ident   identity.Provider
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewHandler(store TemplateStore, owners OwnershipChecker, ident identity.Provider, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:  store,
		owners: owners,
		ident:  ident,
		logger: logger,
		now:    time.Now,
	}
}

// WithMetrics attaches booking metrics. Nil metrics are fine.
func (h *Handler) WithMetrics(m *metrics.BookingMetrics) *Handler {
	h.metrics = m
	return h
}

// WithClock overrides the time source, for tests.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// CreateTemplateRequest is the template creation payload.
type CreateTemplateRequest struct {
	DayOfWeek string `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// CreateTemplate handles POST /providers/{providerID}/templates.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	if !h.authorizeOwner(w, r, providerID) {
		return
	}

	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode template request", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tpl := &Template{
		ProviderID: providerID,
		DayOfWeek:  req.DayOfWeek,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	}
	if err := h.store.Create(r.Context(), tpl); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSONError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.logger.Error("failed to create template", "error", err, "provider_id", providerID)
		writeJSONError(w, http.StatusInternalServerError, "failed to create template")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tpl)
}

// ListTemplates handles GET /providers/{providerID}/templates. Owner view,
// includes the raw override list.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	if !h.authorizeOwner(w, r, providerID) {
		return
	}

	templates, err := h.store.ListByProvider(r.Context(), providerID)
	if err != nil {
		h.logger.Error("failed to list templates", "error", err, "provider_id", providerID)
		writeJSONError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"templates": templates,
		"count":     len(templates),
	})
}

// DeleteTemplate handles DELETE /templates/{templateID}.
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")

	tpl, err := h.store.Get(r.Context(), templateID)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("failed to load template", "error", err, "template_id", templateID)
		writeJSONError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if !h.authorizeOwner(w, r, tpl.ProviderID) {
		return
	}

	if err := h.store.Delete(r.Context(), templateID); err != nil {
		h.logger.Error("failed to delete template", "error", err, "template_id", templateID)
		writeJSONError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Slots handles GET /providers/{providerID}/slots?date=YYYY-MM-DD. Public.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	date, err := ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if DateKey(date) < DateKey(h.now()) {
		writeJSONError(w, http.StatusBadRequest, "date is in the past")
		return
	}

	started := time.Now()
	templates, err := h.store.ListByProvider(r.Context(), providerID)
	if err != nil {
		h.logger.Error("failed to load templates for slots", "error", err, "provider_id", providerID)
		writeJSONError(w, http.StatusServiceUnavailable, "availability temporarily unavailable")
		return
	}
	slots := SlotsForDate(date, templates)
	h.metrics.ObserveSlotComputation(time.Since(started).Seconds())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"date":  DateKey(date),
		"slots": slots,
		"count": len(slots),
	})
}

// Calendar handles GET /providers/{providerID}/calendar?month=YYYY-MM.
// Returns the days of the month with at least one open slot. Days before
// today are never bookable.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	month, err := time.Parse(monthLayout, r.URL.Query().Get("month"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("month must be in %s format", monthLayout))
		return
	}

	templates, err := h.store.ListByProvider(r.Context(), providerID)
	if err != nil {
		h.logger.Error("failed to load templates for calendar", "error", err, "provider_id", providerID)
		writeJSONError(w, http.StatusServiceUnavailable, "availability temporarily unavailable")
		return
	}

	today := DateKey(h.now())
	bookable := make([]string, 0)
	for day := month; day.Month() == month.Month(); day = day.AddDate(0, 0, 1) {
		if DateKey(day) < today {
			continue
		}
		if DateBookable(day, templates) {
			bookable = append(bookable, DateKey(day))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"month":        month.Format(monthLayout),
		"bookableDays": bookable,
	})
}

// authorizeOwner writes the failure response itself and reports whether the
// caller may manage the given provider's availability.
func (h *Handler) authorizeOwner(w http.ResponseWriter, r *http.Request, providerID string) bool {
	userID, ok := h.ident.CurrentUserID(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	owns, err := h.owners.OwnsProvider(r.Context(), userID, providerID)
	if err != nil {
		h.logger.Error("ownership check failed", "error", err, "provider_id", providerID)
		writeJSONError(w, http.StatusInternalServerError, "failed to verify ownership")
		return false
	}
	if !owns {
		writeJSONError(w, http.StatusForbidden, "not the owner of this provider profile")
		return false
	}
	return true
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
