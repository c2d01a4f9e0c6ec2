package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"

	"trades-finder/internal/observability"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	maxJSONBodyBytes  = 1 << 20
	minPasswordLength = 8
	maxPasswordLength = 200
	maxEmailLength    = 254
)

type Handler struct {
	service  *Service
	sessions *SessionManager
	logger   *observability.Logger
}

func NewHandler(service *Service, sessions *SessionManager, logger *observability.Logger) *Handler {
	return &Handler{service: service, sessions: sessions, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	var body credentialsRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validEmail(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if !validPassword(body.Password) {
		writeError(w, http.StatusBadRequest, "password must be 8 to 200 characters")
		return
	}

	user, err := h.service.Register(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		h.internalError(w, err, "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":                   true,
		"user":                 viewOf(user),
		"require_verification": true,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	var body credentialsRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validEmail(body.Email) || body.Password == "" || len(body.Password) > maxPasswordLength {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	user, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, ErrEmailNotVerified):
			writeError(w, http.StatusForbidden, "email not verified")
		default:
			h.internalError(w, err, "failed to login")
		}
		return
	}

	if _, err := h.sessions.Create(r.Context(), w, user.ID); err != nil {
		h.internalError(w, err, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": viewOf(user)})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	if err := h.sessions.DeleteCurrent(w, r); err != nil {
		h.internalError(w, err, "failed to logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	revoked, err := h.sessions.RevokeAll(w, r, user.ID)
	if err != nil {
		h.internalError(w, err, "failed to logout")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"revoked_sessions": revoked})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	user, err := h.sessions.RequireUser(w, r)
	if err != nil {
		h.internalError(w, err, "failed to load session")
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": viewOf(*user)})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	if _, err := h.service.VerifyEmail(r.Context(), token); err != nil {
		if h.tokenError(w, err) {
			return
		}
		h.internalError(w, err, "failed to verify email")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	var body emailRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validEmail(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}

	if err := h.service.ResendVerification(r.Context(), body.Email); err != nil {
		h.logger.Error("resend_verification_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// Forgot always answers 202 so the response does not reveal whether the
// address is registered.
func (h *Handler) Forgot(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	var body emailRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validEmail(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}

	if err := h.service.ForgotPassword(r.Context(), body.Email); err != nil {
		h.logger.Error("forgot_password_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	var body resetRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Token = strings.TrimSpace(body.Token)
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}
	if !validPassword(body.Password) {
		writeError(w, http.StatusBadRequest, "password must be 8 to 200 characters")
		return
	}

	if _, err := h.service.ResetPassword(r.Context(), body.Token, body.Password); err != nil {
		if h.tokenError(w, err) {
			return
		}
		h.internalError(w, err, "failed to reset password")
		return
	}

	if h.sessions.HasCookie(r) {
		h.sessions.ClearCookie(w)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) tokenError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, ErrExpiredToken):
		writeError(w, http.StatusBadRequest, "expired_token")
	case errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "invalid_token")
	default:
		return false
	}
	return true
}

func (h *Handler) internalError(w http.ResponseWriter, err error, message string) {
	h.logger.Error("auth_request_failed", map[string]any{"error": err.Error()})
	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	return len(email) <= maxEmailLength && emailRegex.MatchString(email)
}

func validPassword(password string) bool {
	return len(password) >= minPasswordLength && len(password) <= maxPasswordLength
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
