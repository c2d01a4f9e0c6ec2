package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultVerifyTokenTTL = 24 * time.Hour
	DefaultResetTokenTTL  = time.Hour

	emailTokenBytes = 32
)

// TokenIssuer mints and redeems single-use email tokens. Verify and reset
// tokens live in separate namespaces: a value is only ever accepted for the
// kind it was issued with.
type TokenIssuer struct {
	store     EmailTokenStore
	verifyTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
}

func NewTokenIssuer(store EmailTokenStore, verifyTTL, resetTTL time.Duration) *TokenIssuer {
	if verifyTTL <= 0 {
		verifyTTL = DefaultVerifyTokenTTL
	}
	if resetTTL <= 0 {
		resetTTL = DefaultResetTokenTTL
	}

	return &TokenIssuer{
		store:     store,
		verifyTTL: verifyTTL,
		resetTTL:  resetTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

func (t *TokenIssuer) TTL(kind TokenKind) time.Duration {
	if kind == KindReset {
		return t.resetTTL
	}
	return t.verifyTTL
}

func (t *TokenIssuer) Issue(ctx context.Context, userID string, kind TokenKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("issue email token: unknown kind %q", kind)
	}

	raw, err := randomHexToken(emailTokenBytes)
	if err != nil {
		return "", &AuthError{Op: "generate email token", Err: err}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate email token id: %w", err)
	}

	now := t.now()
	record := EmailToken{
		ID:        id.String(),
		UserID:    userID,
		TokenHash: HashToken(raw),
		Kind:      kind,
		ExpiresAt: now.Add(t.TTL(kind)),
		CreatedAt: now,
	}
	if err := t.store.CreateEmailToken(ctx, record); err != nil {
		return "", fmt.Errorf("store email token: %w", err)
	}

	return raw, nil
}

// Consume redeems raw for kind and returns the owning user id. The row is
// removed whether the token turns out valid or expired.
func (t *TokenIssuer) Consume(ctx context.Context, raw string, kind TokenKind) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !kind.Valid() {
		return "", ErrInvalidToken
	}

	record, err := t.store.ConsumeEmailToken(ctx, HashToken(raw), kind)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("consume email token: %w", err)
	}

	if !t.now().Before(record.ExpiresAt) {
		return "", ErrExpiredToken
	}

	return record.UserID, nil
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
