package auth

import "time"

type User struct {
	ID              string
	Email           string
	PasswordHash    string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (u User) Verified() bool {
	return u.EmailVerifiedAt != nil
}

type Session struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

type TokenKind string

const (
	KindVerify TokenKind = "verify"
	KindReset  TokenKind = "reset"
)

func (k TokenKind) Valid() bool {
	return k == KindVerify || k == KindReset
}

// EmailToken is the stored form of a mailed token. Only the SHA-256 hash of
// the raw value is persisted.
type EmailToken struct {
	ID        string
	UserID    string
	TokenHash string
	Kind      TokenKind
	ExpiresAt time.Time
	CreatedAt time.Time
}

type userView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

func viewOf(u User) userView {
	return userView{ID: u.ID, Email: u.Email, EmailVerified: u.Verified()}
}
