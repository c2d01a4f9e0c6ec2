package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"trades-finder/internal/auth"
)

const maxJSONBodyBytes = 64 << 10

type store interface {
	Save(ctx context.Context, userID string, provider Provider, snapshot []byte) (Favorite, bool, error)
	List(ctx context.Context, userID string) ([]Favorite, error)
	Delete(ctx context.Context, userID, id string) error
}

// Handler serves the saved-provider endpoints. Every route expects
// auth.Middleware to have put the user in the request context.
type Handler struct {
	repo store
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	favorites, err := h.repo.List(r.Context(), user.ID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list favorites")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "favorites": favorites})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var provider Provider
	if err := json.Unmarshal(body, &provider); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	provider.ID = strings.TrimSpace(provider.ID)
	provider.Name = strings.TrimSpace(provider.Name)
	if provider.ID == "" || provider.Name == "" {
		writeError(w, http.StatusBadRequest, "missing provider id or name")
		return
	}

	favorite, duplicate, err := h.repo.Save(r.Context(), user.ID, provider, body)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to save favorite")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": favorite.ID, "duplicate": duplicate})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	if err := h.repo.Delete(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "favorite not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete favorite")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
