package appointments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/servly/servly-platform/internal/availability"
	"github.com/servly/servly-platform/pkg/logging"
)

// Handler exposes the booking flows over HTTP.
type Handler struct {
	svc       *Service
	templates TemplateStore
	logger    *logging.Logger
}

// NewHandler creates an appointments handler.
func NewHandler(svc *Service, templates TemplateStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, templates: templates, logger: logger}
}

// BookRequest is the confirm payload.
type BookRequest struct {
	ProviderID string `json:"providerId"`
	TemplateID string `json:"templateId"`
	Date       string `json:"date"`
	Service    string `json:"service"`
}

type errorResponse struct {
	Error         string `json:"error"`
	AppointmentID string `json:"appointmentId,omitempty"`
}

// Book handles POST /appointments. It drives one booking attempt through
// the full selection sequence before confirming, so the server rejects
// exactly what the slot picker would have greyed out.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode booking request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.ProviderID == "" || req.TemplateID == "" || req.Date == "" {
		writeError(w, http.StatusBadRequest, "providerId, templateId and date are required", "")
		return
	}

	date, err := availability.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	templates, err := h.templates.ListByProvider(r.Context(), req.ProviderID)
	if err != nil {
		h.logger.Error("failed to load provider templates", "error", err, "provider_id", req.ProviderID)
		writeError(w, http.StatusServiceUnavailable, "availability temporarily unavailable", "")
		return
	}

	flow := NewBookingFlow(req.ProviderID, templates)
	if err := flow.SelectDate(date); err != nil {
		h.writeFlowError(w, err)
		return
	}
	if err := flow.SelectSlot(req.TemplateID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if flow.State() != StateSlotSelected {
		// Selecting a booked slot is a no-op; surface it as a conflict here.
		writeError(w, http.StatusConflict, availability.ErrSlotUnavailable.Error(), "")
		return
	}
	if err := flow.BeginConfirm(); err != nil {
		h.writeFlowError(w, err)
		return
	}

	appt, err := h.svc.Confirm(r.Context(), ConfirmRequest{
		ProviderID: req.ProviderID,
		TemplateID: req.TemplateID,
		Date:       date,
		Service:    req.Service,
	})
	if err != nil {
		flow.Fail()
		h.writeFlowError(w, err)
		return
	}
	flow.Complete()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(appt)
}

// ListMine handles GET /appointments.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	appts, err := h.svc.ListMine(r.Context())
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"appointments": appts,
		"count":        len(appts),
	})
}

// Get handles GET /appointments/{appointmentID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appt)
}

// Cancel handles POST /appointments/{appointmentID}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "appointmentID")); err != nil {
		h.writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /appointments/{appointmentID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "appointmentID")); err != nil {
		h.writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeFlowError maps the booking error taxonomy onto HTTP statuses. A
// partial failure gets its own shape so clients never render it as success
// or as a clean retryable failure.
func (h *Handler) writeFlowError(w http.ResponseWriter, err error) {
	var partial *PartialFailureError
	if errors.As(err, &partial) {
		h.logger.Error("partial flow failure", "flow", partial.Flow, "step", partial.Step,
			"appointment_id", partial.AppointmentID, "error", partial.Err)
		writeError(w, http.StatusBadGateway, "partial_"+partial.Flow+"_failure", partial.AppointmentID)
		return
	}

	var verr *availability.ValidationError
	switch {
	case errors.Is(err, ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error(), "")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error(), "")
	case errors.Is(err, ErrAppointmentNotFound), errors.Is(err, availability.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, availability.ErrSlotUnavailable), errors.Is(err, ErrConfirmInFlight):
		writeError(w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, ErrDateInPast), errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	default:
		h.logger.Error("booking flow failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, safe to retry", "")
	}
}

func writeError(w http.ResponseWriter, status int, message, appointmentID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message, AppointmentID: appointmentID})
}
