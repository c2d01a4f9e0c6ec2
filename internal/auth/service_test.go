package auth

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-finder/internal/events"
	"trades-finder/internal/observability"
)

var linkTokenRegex = regexp.MustCompile(`token=([0-9a-f]+)`)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	match := linkTokenRegex.FindStringSubmatch(m.sent[len(m.sent)-1].Body)
	require.Len(t, match, 2)
	return match[1]
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.Type)
	return nil
}

type serviceFixture struct {
	store     *memoryStore
	clock     *testClock
	mailer    *recordingMailer
	publisher *recordingPublisher
	sessions  *SessionManager
	tokens    *TokenIssuer
	service   *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := newMemoryStore()
	clock := newTestClock()
	mailer := &recordingMailer{}
	publisher := &recordingPublisher{}
	logger := observability.NewLoggerTo(io.Discard)
	sessions := NewSessionManager(store, store, SessionConfig{}).WithClock(clock.Now).WithLogger(logger)
	tokens := NewTokenIssuer(store, 0, 0).WithClock(clock.Now)

	service, err := NewService(ServiceDeps{
		Users:    store,
		Hasher:   NewPasswordHasher(testPasswordParams),
		Sessions: sessions,
		Tokens:   tokens,
		Mailer:   mailer,
		Events:   publisher,
		Logger:   logger,
		BaseURL:  "https://trades.example.com/",
	})
	require.NoError(t, err)
	service.WithClock(clock.Now)

	return &serviceFixture{
		store:     store,
		clock:     clock,
		mailer:    mailer,
		publisher: publisher,
		sessions:  sessions,
		tokens:    tokens,
		service:   service,
	}
}

func TestRegisterVerifyLoginLogout(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user, err := f.service.Register(ctx, "  User@Example.com ", "Passw0rd!")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)
	assert.False(t, user.Verified())
	assert.Equal(t, 0, f.store.sessionCount(user.ID))
	require.Len(t, f.mailer.sent, 1)
	assert.Contains(t, f.mailer.sent[0].Body, "https://trades.example.com/api/auth/verify?token=")

	_, err = f.service.Login(ctx, "user@example.com", "Passw0rd!")
	require.ErrorIs(t, err, ErrEmailNotVerified)

	userID, err := f.service.VerifyEmail(ctx, f.mailer.lastToken(t))
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
	assert.Zero(t, f.store.tokenCount())

	stored, err := f.store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EmailVerifiedAt)
	assert.Equal(t, f.clock.Now(), *stored.EmailVerifiedAt)

	loggedIn, err := f.service.Login(ctx, "user@example.com", "Passw0rd!")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	_, err = f.sessions.Create(ctx, rec, loggedIn.ID)
	require.NoError(t, err)

	current, err := f.sessions.RequireUser(httptest.NewRecorder(), requestWithCookie(t, rec))
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, user.ID, current.ID)

	req := requestWithCookie(t, rec)
	logoutRec := httptest.NewRecorder()
	require.NoError(t, f.sessions.DeleteCurrent(logoutRec, req))
	require.Len(t, logoutRec.Result().Cookies(), 1)
	assert.Equal(t, -1, logoutRec.Result().Cookies()[0].MaxAge)

	current, err = f.sessions.RequireUser(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Nil(t, current)

	assert.Equal(t, []string{events.UserRegistered, events.EmailVerified}, f.publisher.types)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Register(context.Background(), "user@example.com", "Passw0rd!")
	require.NoError(t, err)

	_, err = f.service.Register(context.Background(), "USER@example.com", "Another1!")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.mailer.err = errors.New("smtp down")

	user, err := f.service.Register(context.Background(), "user@example.com", "Passw0rd!")
	require.NoError(t, err)

	_, err = f.store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
}

func TestLoginDoesNotRevealUnknownEmail(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Register(context.Background(), "user@example.com", "Passw0rd!")
	require.NoError(t, err)

	_, errUnknown := f.service.Login(context.Background(), "nobody@example.com", "Passw0rd!")
	_, errWrong := f.service.Login(context.Background(), "user@example.com", "wrong-password")
	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestVerifyRejectsResetToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "user@example.com", "Passw0rd!")
	require.NoError(t, err)
	require.NoError(t, f.service.ForgotPassword(ctx, "user@example.com"))

	_, err = f.service.VerifyEmail(ctx, f.mailer.lastToken(t))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	f := newServiceFixture(t)

	require.NoError(t, f.service.ForgotPassword(context.Background(), "nobody@example.com"))
	assert.Empty(t, f.mailer.sent)
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user, err := f.service.Register(ctx, "user@example.com", "Passw0rd!")
	require.NoError(t, err)
	_, err = f.service.VerifyEmail(ctx, f.mailer.lastToken(t))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.sessions.Create(ctx, httptest.NewRecorder(), user.ID)
		require.NoError(t, err)
	}

	require.NoError(t, f.service.ForgotPassword(ctx, "user@example.com"))
	resetToken := f.mailer.lastToken(t)
	assert.Contains(t, f.mailer.sent[len(f.mailer.sent)-1].Body, "https://trades.example.com/reset?token=")

	userID, err := f.service.ResetPassword(ctx, resetToken, "NewPassw0rd!")
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
	assert.Equal(t, 0, f.store.sessionCount(user.ID))

	_, err = f.service.Login(ctx, "user@example.com", "Passw0rd!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.service.Login(ctx, "user@example.com", "NewPassw0rd!")
	require.NoError(t, err)

	_, err = f.service.ResetPassword(ctx, resetToken, "Another1!")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "user@example.com", "Passw0rd!")
	require.NoError(t, err)
	require.NoError(t, f.service.ForgotPassword(ctx, "user@example.com"))

	f.clock.Advance(DefaultResetTokenTTL + time.Second)
	_, err = f.service.ResetPassword(ctx, f.mailer.lastToken(t), "NewPassw0rd!")
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestResendVerification(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "user@example.com", "Passw0rd!")
	require.NoError(t, err)
	require.NoError(t, f.service.ResendVerification(ctx, "user@example.com"))
	require.Len(t, f.mailer.sent, 2)

	_, err = f.service.VerifyEmail(ctx, f.mailer.lastToken(t))
	require.NoError(t, err)

	require.NoError(t, f.service.ResendVerification(ctx, "user@example.com"))
	require.NoError(t, f.service.ResendVerification(ctx, "nobody@example.com"))
	assert.Len(t, f.mailer.sent, 2)
}
