package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"trades-finder/internal/events"
	"trades-finder/internal/observability"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Service struct {
	users     UserStore
	hasher    *PasswordHasher
	sessions  *SessionManager
	tokens    *TokenIssuer
	mailer    Mailer
	events    EventPublisher
	logger    *observability.Logger
	baseURL   string
	dummyHash string
	now       func() time.Time
}

type ServiceDeps struct {
	Users    UserStore
	Hasher   *PasswordHasher
	Sessions *SessionManager
	Tokens   *TokenIssuer
	Mailer   Mailer
	Events   EventPublisher
	Logger   *observability.Logger
	BaseURL  string
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Hasher == nil {
		deps.Hasher = NewPasswordHasher(DefaultPasswordParams)
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}

	// Verified against on unknown emails so both login failures cost the same.
	dummy, err := deps.Hasher.Hash("trades-finder-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &Service{
		users:     deps.Users,
		hasher:    deps.Hasher,
		sessions:  deps.Sessions,
		tokens:    deps.Tokens,
		mailer:    deps.Mailer,
		events:    deps.Events,
		logger:    deps.Logger,
		baseURL:   strings.TrimRight(deps.BaseURL, "/"),
		dummyHash: dummy,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates an unverified user and mails a verification link. No
// session is created until the address is verified.
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	email = NormalizeEmail(email)

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return User{}, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := s.now()
	user := User{
		ID:           id.String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return User{}, err
	}

	if err := s.sendVerification(ctx, user); err != nil {
		// The account exists; the user can ask for another link.
		s.logger.Error("verification_mail_failed", map[string]any{"user_id": user.ID, "error": err.Error()})
		observability.CaptureError(err, map[string]string{"flow": "register"})
	}

	s.publish(ctx, events.UserRegistered, user.ID)
	return user, nil
}

func (s *Service) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.Verified() {
		return nil
	}

	return s.sendVerification(ctx, user)
}

// Login checks credentials. Unknown email and wrong password are
// indistinguishable to the caller. ErrEmailNotVerified is only reported once
// the password has been proven.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		observability.LoginAttempts.WithLabelValues("invalid").Inc()
		return User{}, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = s.hasher.Verify(s.dummyHash, password)
			observability.LoginAttempts.WithLabelValues("invalid").Inc()
			return User{}, ErrInvalidCredentials
		}
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		return User{}, err
	}
	if !ok {
		observability.LoginAttempts.WithLabelValues("invalid").Inc()
		return User{}, ErrInvalidCredentials
	}

	if !user.Verified() {
		observability.LoginAttempts.WithLabelValues("unverified").Inc()
		return User{}, ErrEmailNotVerified
	}

	observability.LoginAttempts.WithLabelValues("success").Inc()
	return user, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) (string, error) {
	userID, err := s.tokens.Consume(ctx, token, KindVerify)
	if err != nil {
		return "", err
	}

	if err := s.users.MarkEmailVerified(ctx, userID, s.now()); err != nil {
		return "", fmt.Errorf("mark email verified: %w", err)
	}

	s.publish(ctx, events.EmailVerified, userID)
	return userID, nil
}

// ForgotPassword mails a reset link when the address belongs to a user. The
// outcome is never reported to the caller.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	token, err := s.tokens.Issue(ctx, user.ID, KindReset)
	if err != nil {
		return err
	}

	link := s.baseURL + "/reset?token=" + url.QueryEscape(token)
	body := fmt.Sprintf("Someone asked to reset the password for your Trades Finder account.\n\nReset it here: %s\n\nThis link expires in %s. If it was not you, ignore this message.", link, humanDuration(s.tokens.TTL(KindReset)))
	if err := s.mailer.Send(ctx, user.Email, "Reset your Trades Finder password", body); err != nil {
		s.logger.Error("reset_mail_failed", map[string]any{"user_id": user.ID, "error": err.Error()})
		observability.CaptureError(err, map[string]string{"flow": "forgot_password"})
	}

	return nil
}

// ResetPassword redeems a reset token, stores the new password hash and
// revokes every existing session of the user. It returns the user id.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	userID, err := s.tokens.Consume(ctx, token, KindReset)
	if err != nil {
		return "", err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return "", err
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash, s.now()); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}

	revoked, err := s.sessions.RevokeUserSessions(ctx, userID)
	if err != nil {
		return "", err
	}

	s.logger.Info("password_reset", map[string]any{"user_id": userID, "revoked_sessions": revoked})
	s.publish(ctx, events.PasswordReset, userID)
	return userID, nil
}

func (s *Service) sendVerification(ctx context.Context, user User) error {
	token, err := s.tokens.Issue(ctx, user.ID, KindVerify)
	if err != nil {
		return err
	}

	link := s.baseURL + "/api/auth/verify?token=" + url.QueryEscape(token)
	body := fmt.Sprintf("Thanks for signing up to Trades Finder.\n\nVerify your email: %s\n\nThis link expires in %s.", link, humanDuration(s.tokens.TTL(KindVerify)))
	if err := s.mailer.Send(ctx, user.Email, "Verify your Trades Finder account", body); err != nil {
		return fmt.Errorf("send verification mail: %w", err)
	}

	return nil
}

func (s *Service) publish(ctx context.Context, eventType, userID string) {
	event := events.Event{Type: eventType, Key: userID, OccurredAt: s.now()}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event_publish_failed", map[string]any{"type": eventType, "error": err.Error()})
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
