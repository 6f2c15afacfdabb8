package reviews

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/servly/servly-platform/internal/identity"
	"github.com/servly/servly-platform/pkg/logging"
)

// ReviewStore is the persistence surface the handler needs.
type ReviewStore interface {
	Create(ctx context.Context, review *Review) error
	ListByProvider(ctx context.Context, providerID string) ([]Review, error)
}

// RatingSink folds an accepted rating into the provider's aggregate.
// Implemented by the providers repository.
type RatingSink interface {
	AddRating(ctx context.Context, providerID string, rating int) error
}

// Handler serves provider reviews.
type Handler struct {
	store   ReviewStore
	ratings RatingSink
	ident   identity.Provider
	logger  *logging.Logger
}

func NewHandler(store ReviewStore, ratings RatingSink, ident identity.Provider, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, ratings: ratings, ident: ident, logger: logger}
}

// CreateRequest is the review submission payload.
type CreateRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Create handles POST /providers/{providerID}/reviews.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ident.CurrentUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	review := &Review{
		ProviderID: chi.URLParam(r, "providerID"),
		UserID:     userID,
		Rating:     req.Rating,
		Comment:    req.Comment,
	}
	if err := h.store.Create(r.Context(), review); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyReviewed):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidRating):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to create review", "error", err, "provider_id", review.ProviderID)
			writeError(w, http.StatusInternalServerError, "failed to create review")
		}
		return
	}

	// The aggregate is eventually consistent with the review list. A
	// failure here leaves the listing rating behind by one review.
	if h.ratings != nil {
		if err := h.ratings.AddRating(r.Context(), review.ProviderID, review.Rating); err != nil {
			h.logger.Warn("failed to fold rating into provider aggregate",
				"error", err, "provider_id", review.ProviderID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(review)
}

// List handles GET /providers/{providerID}/reviews. Public.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	reviews, err := h.store.ListByProvider(r.Context(), providerID)
	if err != nil {
		h.logger.Error("failed to list reviews", "error", err, "provider_id", providerID)
		writeError(w, http.StatusInternalServerError, "failed to list reviews")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"reviews": reviews,
		"count":   len(reviews),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
