package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewRepository(db), mock
}

var userColumns = []string{"id", "email", "password_hash", "email_verified_at", "created_at", "updated_at"}

func TestRepositoryCreateUserUniqueViolation(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+users`).
		WithArgs("u-1", "user@example.com", "hash", sqlmock.AnyArg(), now, now).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.CreateUser(context.Background(), User{ID: "u-1", Email: "user@example.com", PasswordHash: "hash", CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRepositoryCreateUserWrapsError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	err := repo.CreateUser(context.Background(), User{ID: "u-1", Email: "user@example.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmailTaken)
	assert.Contains(t, err.Error(), "insert user: db down")
}

func TestRepositoryGetUserByEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)SELECT\s+id,\s*email.*FROM\s+users\s+WHERE\s+email\s*=\s*\$1`).
		WithArgs("user@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("u-1", "user@example.com", "hash", now, now, now))

	user, err := repo.GetUserByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	require.NotNil(t, user.EmailVerifiedAt)
	assert.True(t, user.Verified())
}

func TestRepositoryGetUserByIDNotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetUserByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryMarkEmailVerifiedMissingUser(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)UPDATE\s+users\s+SET\s+email_verified_at`).
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkEmailVerified(context.Background(), "ghost", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryGetSession(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)SELECT\s+id,\s*user_id.*FROM\s+sessions\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("sid-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at", "last_seen_at", "expires_at"}).
			AddRow("sid-1", "u-1", now, now, now.Add(time.Hour)))

	session, err := repo.GetSession(context.Background(), "sid-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", session.UserID)
	assert.Equal(t, now.Add(time.Hour), session.ExpiresAt)
}

func TestRepositoryDeleteUserSessions(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE\s+FROM\s+sessions\s+WHERE\s+user_id\s*=\s*\$1`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteUserSessions(context.Background(), "u-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
}

func TestRepositoryConsumeEmailTokenIsSingleStatement(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)DELETE\s+FROM\s+email_tokens\s+WHERE\s+token_hash\s*=\s*\$1\s+AND\s+kind\s*=\s*\$2\s+RETURNING`).
		WithArgs("hash", "reset").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "kind", "expires_at", "created_at"}).
			AddRow("t-1", "u-1", "hash", "reset", now.Add(time.Hour), now))

	token, err := repo.ConsumeEmailToken(context.Background(), "hash", KindReset)
	require.NoError(t, err)
	assert.Equal(t, "u-1", token.UserID)
	assert.Equal(t, KindReset, token.Kind)
}

func TestRepositoryConsumeEmailTokenNoRow(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)DELETE\s+FROM\s+email_tokens`).
		WithArgs("hash", "verify").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ConsumeEmailToken(context.Background(), "hash", KindVerify)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryCleanupExpired(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)DELETE\s+FROM\s+sessions\s+t\s+USING\s+stale`).
		WithArgs(now, 100).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`(?s)DELETE\s+FROM\s+email_tokens\s+t\s+USING\s+stale`).
		WithArgs(now, 100).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := repo.CleanupExpired(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{DeletedSessions: 4, DeletedEmailTokens: 2}, result)
}
