package mapkit

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trades-finder/internal/observability"
)

// Assertion lifetimes outside this range are rejected.
const (
	DefaultTokenTTL = 10 * time.Minute
	MinTokenTTL     = 5 * time.Minute
	MaxTokenTTL     = 20 * time.Minute
)

var ErrOriginNotAllowed = errors.New("origin not allowed")

type Config struct {
	TeamID         string
	KeyID          string
	PrivateKeyPEM  string
	AllowedOrigins []string
	TokenTTL       time.Duration
}

// ConfigError reports a missing or malformed signing setting. It is returned
// at startup, never during a request.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mapkit config %s: %s", e.Field, e.Reason)
}

type claims struct {
	Origin string `json:"origin,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints ES256 assertions identifying this application to the mapping
// provider.
type Signer struct {
	teamID  string
	keyID   string
	key     *ecdsa.PrivateKey
	origins *OriginList
	ttl     time.Duration
	now     func() time.Time
}

func NewSigner(cfg Config) (*Signer, error) {
	if strings.TrimSpace(cfg.TeamID) == "" {
		return nil, &ConfigError{Field: "team id", Reason: "is required"}
	}
	if strings.TrimSpace(cfg.KeyID) == "" {
		return nil, &ConfigError{Field: "key id", Reason: "is required"}
	}

	key, err := ParsePrivateKey(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	origins, err := NewOriginList(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if ttl < MinTokenTTL || ttl > MaxTokenTTL {
		return nil, &ConfigError{Field: "token ttl", Reason: fmt.Sprintf("must be between %s and %s", MinTokenTTL, MaxTokenTTL)}
	}

	return &Signer{
		teamID:  strings.TrimSpace(cfg.TeamID),
		keyID:   strings.TrimSpace(cfg.KeyID),
		key:     key,
		origins: origins,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

func (s *Signer) Origins() *OriginList {
	return s.origins
}

// ParsePrivateKey checks that pemText is a P-256 private key before anything
// tries to sign with it.
func ParsePrivateKey(pemText string) (*ecdsa.PrivateKey, error) {
	pemText = strings.TrimSpace(pemText)
	if pemText == "" {
		return nil, &ConfigError{Field: "private key", Reason: "is required"}
	}

	block, rest := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, &ConfigError{Field: "private key", Reason: "is not PEM encoded"}
	}
	if block.Type != "PRIVATE KEY" && block.Type != "EC PRIVATE KEY" {
		return nil, &ConfigError{Field: "private key", Reason: fmt.Sprintf("unexpected PEM block %q", block.Type)}
	}
	if len(strings.TrimSpace(string(rest))) > 0 {
		return nil, &ConfigError{Field: "private key", Reason: "has trailing data after the PEM block"}
	}

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, &ConfigError{Field: "private key", Reason: "is not an EC private key"}
	}
	if key.Curve != elliptic.P256() {
		return nil, &ConfigError{Field: "private key", Reason: "must use the P-256 curve"}
	}

	return key, nil
}

// BrowserToken mints an origin-restricted token for origin. The origin must
// be on the allow-list; the claim carries the whole list.
func (s *Signer) BrowserToken(origin string) (string, error) {
	if !s.origins.Allowed(origin) {
		return "", ErrOriginNotAllowed
	}

	token, err := s.sign(s.origins.Claim())
	if err != nil {
		return "", err
	}

	observability.SignedAssertions.WithLabelValues("browser").Inc()
	return token, nil
}

// ServerToken mints a token without an origin restriction. It must never be
// handed to a browser.
func (s *Signer) ServerToken() (string, error) {
	token, err := s.sign("")
	if err != nil {
		return "", err
	}

	observability.SignedAssertions.WithLabelValues("server").Inc()
	return token, nil
}

func (s *Signer) sign(origin string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims{
		Origin: origin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.teamID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	token.Header["kid"] = s.keyID
	token.Header["typ"] = "JWT"

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign mapkit token: %w", err)
	}

	return signed, nil
}
