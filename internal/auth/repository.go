package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

type CleanupResult struct {
	DeletedSessions    int64 `json:"deleted_sessions"`
	DeletedEmailTokens int64 `json:"deleted_email_tokens"`
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, email_verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.PasswordHash, nullTime(user.EmailVerifiedAt), user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return r.getUser(ctx, `
		SELECT id, email, password_hash, email_verified_at, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email)
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (User, error) {
	return r.getUser(ctx, `
		SELECT id, email, password_hash, email_verified_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
}

func (r *Repository) getUser(ctx context.Context, query string, arg string) (User, error) {
	var user User
	var verifiedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&verifiedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	if verifiedAt.Valid {
		value := verifiedAt.Time.UTC()
		user.EmailVerifiedAt = &value
	}

	return user, nil
}

func (r *Repository) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET email_verified_at = COALESCE(email_verified_at, $2), updated_at = $2
		WHERE id = $1
	`, userID, at.UTC())
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}

	return requireAffected(res)
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, userID, passwordHash string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, userID, passwordHash, at.UTC())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	return requireAffected(res)
}

func (r *Repository) CreateSession(ctx context.Context, session Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, last_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.ID, session.UserID, session.CreatedAt.UTC(), session.LastSeenAt.UTC(), session.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	var session Session
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, created_at, last_seen_at, expires_at
		FROM sessions
		WHERE id = $1
	`, id).Scan(&session.ID, &session.UserID, &session.CreatedAt, &session.LastSeenAt, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("query session: %w", err)
	}

	return session, nil
}

func (r *Repository) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET last_seen_at = $2
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return nil
}

func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

func (r *Repository) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("user sessions rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) CreateEmailToken(ctx context.Context, token EmailToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_tokens (id, user_id, token_hash, kind, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, token.ID, token.UserID, token.TokenHash, string(token.Kind), token.ExpiresAt.UTC(), token.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert email token: %w", err)
	}

	return nil
}

func (r *Repository) ConsumeEmailToken(ctx context.Context, tokenHash string, kind TokenKind) (EmailToken, error) {
	var token EmailToken
	var storedKind string
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM email_tokens
		WHERE token_hash = $1 AND kind = $2
		RETURNING id, user_id, token_hash, kind, expires_at, created_at
	`, tokenHash, string(kind)).Scan(&token.ID, &token.UserID, &token.TokenHash, &storedKind, &token.ExpiresAt, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EmailToken{}, ErrNotFound
		}
		return EmailToken{}, fmt.Errorf("consume email token: %w", err)
	}
	token.Kind = TokenKind(storedKind)

	return token, nil
}

func (r *Repository) CleanupExpired(ctx context.Context, now time.Time, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	deletedSessions, err := r.deleteExpired(ctx, "sessions", now, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedTokens, err := r.deleteExpired(ctx, "email_tokens", now, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedSessions:    deletedSessions,
		DeletedEmailTokens: deletedTokens,
	}, nil
}

// deleteExpired only receives table names from CleanupExpired.
func (r *Repository) deleteExpired(ctx context.Context, table string, now time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		WITH stale AS (
			SELECT id
			FROM %[1]s
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM %[1]s t
		USING stale
		WHERE t.id = stale.id
	`, table), now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired %s: %w", table, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired %s rows affected: %w", table, err)
	}

	return affected, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
