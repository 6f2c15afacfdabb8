package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/servly/servly-platform/internal/identity"
	"github.com/servly/servly-platform/internal/storage"
	"github.com/servly/servly-platform/pkg/logging"
)

// maxAvatarBytes bounds avatar uploads.
const maxAvatarBytes = 5 << 20

// ProfileStore is the persistence surface the handler needs.
type ProfileStore interface {
	Create(ctx context.Context, profile *Profile) error
	Get(ctx context.Context, id string) (*Profile, error)
	GetByUser(ctx context.Context, userID string) (*Profile, error)
	Search(ctx context.Context, service, city string) ([]Profile, error)
	Update(ctx context.Context, profile *Profile) error
}

// Handler serves provider profile discovery and management.
type Handler struct {
	store  ProfileStore
	blobs  *storage.BlobStore
	ident  identity.Provider
	logger *logging.Logger
}

func NewHandler(store ProfileStore, blobs *storage.BlobStore, ident identity.Provider, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, blobs: blobs, ident: ident, logger: logger}
}

// profileView is the public listing shape, with the derived rating.
type profileView struct {
	Profile
	AverageRating float64 `json:"averageRating"`
}

func viewOf(p Profile) profileView {
	return profileView{Profile: p, AverageRating: p.AverageRating()}
}

// Search handles GET /providers?service=&city=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	city := r.URL.Query().Get("city")
	if NormalizeService(service) == "" {
		writeError(w, http.StatusBadRequest, "service query parameter is required")
		return
	}

	profiles, err := h.store.Search(r.Context(), service, city)
	if err != nil {
		h.logger.Error("provider search failed", "error", err, "service", service, "city", city)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, viewOf(p))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"providers": views,
		"count":     len(views),
	})
}

// Get handles GET /providers/{providerID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	profile, err := h.store.Get(r.Context(), chi.URLParam(r, "providerID"))
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("failed to load profile", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(viewOf(*profile))
}

// GetMine handles GET /me/provider.
func (h *Handler) GetMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ident.CurrentUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	profile, err := h.store.GetByUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("failed to load own profile", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(viewOf(*profile))
}

// UpsertRequest is the create/update payload.
type UpsertRequest struct {
	Name    string `json:"name"`
	Service string `json:"service"`
	City    string `json:"city"`
	Bio     string `json:"bio"`
}

// Create handles POST /me/provider.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ident.CurrentUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile := &Profile{
		UserID:  userID,
		Name:    req.Name,
		Service: req.Service,
		City:    req.City,
		Bio:     req.Bio,
	}
	if err := h.store.Create(r.Context(), profile); err != nil {
		switch {
		case errors.Is(err, ErrProfileExists):
			writeError(w, http.StatusConflict, err.Error())
		case isValidation(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to create profile", "error", err, "user_id", userID)
			writeError(w, http.StatusInternalServerError, "failed to create profile")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(viewOf(*profile))
}

// Update handles PUT /me/provider.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.ownProfile(w, r)
	if !ok {
		return
	}

	var req UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile.Name = req.Name
	profile.Service = req.Service
	profile.City = req.City
	profile.Bio = req.Bio
	if err := h.store.Update(r.Context(), profile); err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to update profile", "error", err, "profile_id", profile.ID)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(viewOf(*profile))
}

// UploadAvatar handles PUT /me/provider/avatar. Raw image body, content
// type from the header.
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.ownProfile(w, r)
	if !ok {
		return
	}
	if !h.blobs.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "media storage is not configured")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAvatarBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) > maxAvatarBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "avatar exceeds size limit")
		return
	}

	url, err := h.blobs.Upload(r.Context(), "avatars", r.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	old := profile.AvatarURL
	profile.AvatarURL = url
	if err := h.store.Update(r.Context(), profile); err != nil {
		h.logger.Error("failed to save avatar url", "error", err, "profile_id", profile.ID)
		writeError(w, http.StatusInternalServerError, "failed to save avatar")
		return
	}
	if old != "" {
		if err := h.blobs.Delete(r.Context(), old); err != nil {
			h.logger.Warn("failed to delete old avatar", "error", err, "url", old)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"avatarUrl": url})
}

func (h *Handler) ownProfile(w http.ResponseWriter, r *http.Request) (*Profile, bool) {
	userID, ok := h.ident.CurrentUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	profile, err := h.store.GetByUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "no provider profile for this user")
			return nil, false
		}
		h.logger.Error("failed to load own profile", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return nil, false
	}
	return profile, true
}

func isValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
