package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"trades-finder/internal/observability"
)

const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	SessionCookieName = "sid"
)

type SessionConfig struct {
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
}

// SessionManager issues and validates cookie-bound sessions. A session is
// either active or gone: expiry is detected lazily on lookup, at which point
// the row is deleted and the cookie cleared.
type SessionManager struct {
	sessions SessionStore
	users    UserStore
	ttl      time.Duration
	cookie   string
	secure   bool
	now      func() time.Time
	logger   *observability.Logger
}

func NewSessionManager(sessions SessionStore, users UserStore, cfg SessionConfig) *SessionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = SessionCookieName
	}

	return &SessionManager{
		sessions: sessions,
		users:    users,
		ttl:      cfg.TTL,
		cookie:   cfg.CookieName,
		secure:   cfg.CookieSecure,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

func (m *SessionManager) WithLogger(logger *observability.Logger) *SessionManager {
	m.logger = logger
	return m
}

func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

func (m *SessionManager) Create(ctx context.Context, w http.ResponseWriter, userID string) (Session, error) {
	id, err := randomToken(32)
	if err != nil {
		return Session{}, &AuthError{Op: "generate session id", Err: err}
	}

	now := m.now()
	session := Session{
		ID:         id,
		UserID:     userID,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.sessions.CreateSession(ctx, session); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}

	http.SetCookie(w, m.sessionCookie(session.ID, session.ExpiresAt))
	return session, nil
}

// Current returns the session named by the request cookie. A missing cookie,
// unknown id or expired session yields (nil, nil); only store failures are
// returned as errors.
func (m *SessionManager) Current(w http.ResponseWriter, r *http.Request) (*Session, error) {
	id := m.cookieValue(r)
	if id == "" {
		return nil, nil
	}

	ctx := r.Context()
	session, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	now := m.now()
	if !now.Before(session.ExpiresAt) {
		if err := m.sessions.DeleteSession(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("delete expired session: %w", err)
		}
		m.ClearCookie(w)
		return nil, nil
	}

	if err := m.sessions.TouchSession(ctx, session.ID, now); err != nil {
		m.logger.Warn("session_touch_failed", map[string]any{"error": err.Error()})
	} else {
		session.LastSeenAt = now
	}

	return &session, nil
}

// RequireUser resolves the signed-in user. (nil, nil) means not signed in.
func (m *SessionManager) RequireUser(w http.ResponseWriter, r *http.Request) (*User, error) {
	session, err := m.Current(w, r)
	if err != nil || session == nil {
		return nil, err
	}

	user, err := m.users.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session user: %w", err)
	}

	return &user, nil
}

func (m *SessionManager) DeleteCurrent(w http.ResponseWriter, r *http.Request) error {
	if id := m.cookieValue(r); id != "" {
		if err := m.sessions.DeleteSession(r.Context(), id); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete session: %w", err)
		}
	}

	m.ClearCookie(w)
	return nil
}

// RevokeAll deletes every session of userID and clears the caller's cookie
// when one was presented.
func (m *SessionManager) RevokeAll(w http.ResponseWriter, r *http.Request, userID string) (int64, error) {
	deleted, err := m.RevokeUserSessions(r.Context(), userID)
	if err != nil {
		return 0, err
	}

	if m.cookieValue(r) != "" {
		m.ClearCookie(w)
	}
	return deleted, nil
}

// RevokeUserSessions is the store half of RevokeAll, for callers that are
// not handling the user's own request.
func (m *SessionManager) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	deleted, err := m.sessions.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return deleted, nil
}

func (m *SessionManager) HasCookie(r *http.Request) bool {
	return m.cookieValue(r) != ""
}

func (m *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

func (m *SessionManager) sessionCookie(value string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
		MaxAge:   int(m.ttl.Seconds()),
	}
}

func (m *SessionManager) cookieValue(r *http.Request) string {
	c, err := r.Cookie(m.cookie)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func randomHexToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
