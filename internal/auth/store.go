package auth

import (
	"context"
	"time"
)

type UserStore interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string, at time.Time) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) (int64, error)
}

type EmailTokenStore interface {
	CreateEmailToken(ctx context.Context, token EmailToken) error
	// ConsumeEmailToken deletes the row matching hash and kind in one
	// statement and returns it. Concurrent callers for the same token see
	// exactly one success; the rest get ErrNotFound.
	ConsumeEmailToken(ctx context.Context, tokenHash string, kind TokenKind) (EmailToken, error)
}

type Store interface {
	UserStore
	SessionStore
	EmailTokenStore
}
