package leads

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	maxJSONBodyBytes = 32 << 10
	maxMessageLength = 4000
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type leadRequest struct {
	ProviderID string  `json:"provider_id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Phone      *string `json:"phone"`
	Message    *string `json:"message"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body leadRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.ProviderID = strings.TrimSpace(body.ProviderID)
	body.Name = strings.TrimSpace(body.Name)
	body.Email = strings.TrimSpace(body.Email)
	if body.ProviderID == "" || body.Name == "" {
		writeError(w, http.StatusBadRequest, "missing provider id or name")
		return
	}
	if !emailRegex.MatchString(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if body.Message != nil && len(*body.Message) > maxMessageLength {
		writeError(w, http.StatusBadRequest, "message is too long")
		return
	}

	lead, err := h.service.Submit(r.Context(), Lead{
		ProviderID: body.ProviderID,
		Name:       body.Name,
		Email:      body.Email,
		Phone:      body.Phone,
		Message:    body.Message,
	})
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to submit lead")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": lead.ID})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
