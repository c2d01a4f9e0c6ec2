package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailTokenSingleUse(t *testing.T) {
	store := newMemoryStore()
	issuer := NewTokenIssuer(store, 0, 0).WithClock(newTestClock().Now)

	raw, err := issuer.Issue(context.Background(), "user-1", KindVerify)
	require.NoError(t, err)
	assert.Len(t, raw, 64)

	userID, err := issuer.Consume(context.Background(), raw, KindVerify)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.Zero(t, store.tokenCount())

	_, err = issuer.Consume(context.Background(), raw, KindVerify)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmailTokenStoredHashed(t *testing.T) {
	store := newMemoryStore()
	issuer := NewTokenIssuer(store, 0, 0)

	raw, err := issuer.Issue(context.Background(), "user-1", KindReset)
	require.NoError(t, err)

	_, ok := store.tokens[raw]
	assert.False(t, ok)
	stored, ok := store.tokens[HashToken(raw)]
	require.True(t, ok)
	assert.Equal(t, KindReset, stored.Kind)
}

func TestEmailTokenKindsAreIsolated(t *testing.T) {
	store := newMemoryStore()
	issuer := NewTokenIssuer(store, 0, 0)

	reset, err := issuer.Issue(context.Background(), "user-1", KindReset)
	require.NoError(t, err)

	_, err = issuer.Consume(context.Background(), reset, KindVerify)
	assert.ErrorIs(t, err, ErrInvalidToken)

	userID, err := issuer.Consume(context.Background(), reset, KindReset)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestEmailTokenExpiry(t *testing.T) {
	store := newMemoryStore()
	clock := newTestClock()
	issuer := NewTokenIssuer(store, 24*time.Hour, time.Hour).WithClock(clock.Now)

	raw, err := issuer.Issue(context.Background(), "user-1", KindReset)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = issuer.Consume(context.Background(), raw, KindReset)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.Zero(t, store.tokenCount(), "expired row is removed")

	_, err = issuer.Consume(context.Background(), raw, KindReset)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmailTokenRejectsBadInput(t *testing.T) {
	issuer := NewTokenIssuer(newMemoryStore(), 0, 0)

	_, err := issuer.Consume(context.Background(), "  ", KindVerify)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Consume(context.Background(), "abc", TokenKind("other"))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Issue(context.Background(), "user-1", TokenKind("other"))
	assert.Error(t, err)
}

func TestEmailTokenConcurrentConsume(t *testing.T) {
	store := newMemoryStore()
	issuer := NewTokenIssuer(store, 0, 0)

	raw, err := issuer.Issue(context.Background(), "user-1", KindVerify)
	require.NoError(t, err)

	var successes, invalid atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := issuer.Consume(context.Background(), raw, KindVerify)
			switch {
			case err == nil:
				successes.Add(1)
			case err == ErrInvalidToken:
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, 15, invalid.Load())
}
