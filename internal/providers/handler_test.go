package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servly/servly-platform/internal/identity"
	"github.com/servly/servly-platform/pkg/logging"
)

type fakeProfileStore struct {
	profiles map[string]*Profile
	seq      int
}

func newFakeProfileStore(profiles ...Profile) *fakeProfileStore {
	s := &fakeProfileStore{profiles: make(map[string]*Profile)}
	for i := range profiles {
		p := profiles[i]
		s.profiles[p.ID] = &p
	}
	return s
}

func (s *fakeProfileStore) Create(_ context.Context, profile *Profile) error {
	profile.Service = NormalizeService(profile.Service)
	if err := profile.Validate(); err != nil {
		return err
	}
	for _, p := range s.profiles {
		if p.UserID == profile.UserID {
			return ErrProfileExists
		}
	}
	s.seq++
	profile.ID = fmt.Sprintf("prov-%d", s.seq)
	s.profiles[profile.ID] = profile
	return nil
}

func (s *fakeProfileStore) Get(_ context.Context, id string) (*Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func (s *fakeProfileStore) GetByUser(_ context.Context, userID string) (*Profile, error) {
	for _, p := range s.profiles {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, ErrProfileNotFound
}

func (s *fakeProfileStore) Search(_ context.Context, service, city string) ([]Profile, error) {
	service = NormalizeService(service)
	out := make([]Profile, 0)
	for _, p := range s.profiles {
		if p.Service != service {
			continue
		}
		if city != "" && p.City != city {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakeProfileStore) Update(_ context.Context, profile *Profile) error {
	profile.Service = NormalizeService(profile.Service)
	if err := profile.Validate(); err != nil {
		return err
	}
	s.profiles[profile.ID] = profile
	return nil
}

type ctxIdent struct{}

func (ctxIdent) CurrentUserID(ctx context.Context) (string, bool) {
	return identity.UserIDFromContext(ctx)
}

func newTestRouter(store *fakeProfileStore) *chi.Mux {
	h := NewHandler(store, nil, ctxIdent{}, logging.Default())
	r := chi.NewRouter()
	r.Get("/providers", h.Search)
	r.Get("/providers/{providerID}", h.Get)
	r.Get("/me/provider", h.GetMine)
	r.Post("/me/provider", h.Create)
	r.Put("/me/provider", h.Update)
	r.Put("/me/provider/avatar", h.UploadAvatar)
	return r
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(identity.WithUserID(req.Context(), userID))
}

func listedProfile() Profile {
	return Profile{
		ID:          "prov-1",
		UserID:      "user-1",
		Name:        "Pat's Plumbing",
		Service:     "plumbing",
		City:        "Austin",
		RatingSum:   9,
		ReviewCount: 2,
	}
}

func TestSearchEndpoint(t *testing.T) {
	router := newTestRouter(newFakeProfileStore(listedProfile()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers?service=Plumbing&city=Austin", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Providers []profileView `json:"providers"`
		Count     int           `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, 4.5, resp.Providers[0].AverageRating)
}

func TestSearchRequiresService(t *testing.T) {
	router := newTestRouter(newFakeProfileStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers?city=Austin", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEndpointNotFound(t *testing.T) {
	router := newTestRouter(newFakeProfileStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/providers/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateProfile(t *testing.T) {
	store := newFakeProfileStore()
	router := newTestRouter(store)

	body := `{"name":"Pat's Plumbing","service":"Plumbing","city":"Austin"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/me/provider", strings.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var view profileView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "user-1", view.UserID)
	assert.Equal(t, "plumbing", view.Service)
}

func TestCreateProfileConflict(t *testing.T) {
	store := newFakeProfileStore(listedProfile())
	router := newTestRouter(store)

	body := `{"name":"Second","service":"plumbing","city":"Austin"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/me/provider", strings.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateProfileRequiresAuth(t *testing.T) {
	router := newTestRouter(newFakeProfileStore())
	body := `{"name":"Pat","service":"plumbing","city":"Austin"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/me/provider", strings.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateProfileValidation(t *testing.T) {
	router := newTestRouter(newFakeProfileStore())
	body := `{"name":"","service":"plumbing","city":"Austin"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/me/provider", strings.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProfile(t *testing.T) {
	store := newFakeProfileStore(listedProfile())
	router := newTestRouter(store)

	body := `{"name":"Pat's Plumbing Co","service":"plumbing","city":"Dallas","bio":"20 years in the trade"}`
	req := asUser(httptest.NewRequest(http.MethodPut, "/me/provider", strings.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "Dallas", store.profiles["prov-1"].City)
}

func TestUpdateWithoutProfile(t *testing.T) {
	router := newTestRouter(newFakeProfileStore())
	body := `{"name":"Pat","service":"plumbing","city":"Austin"}`
	req := asUser(httptest.NewRequest(http.MethodPut, "/me/provider", strings.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadAvatarWithoutStorage(t *testing.T) {
	store := newFakeProfileStore(listedProfile())
	router := newTestRouter(store)

	req := asUser(httptest.NewRequest(http.MethodPut, "/me/provider/avatar", strings.NewReader("img")), "user-1")
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
