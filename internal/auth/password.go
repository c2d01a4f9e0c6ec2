package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// PasswordParams are the argon2id cost settings encoded into every hash.
type PasswordParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultPasswordParams = PasswordParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// Upper bounds accepted when decoding a stored hash.
const (
	maxHashMemory     = 1 << 20
	maxHashIterations = 16
)

// PasswordHasher produces and checks PHC-formatted argon2id hashes:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
//
// It holds no mutable state and is safe for concurrent use.
type PasswordHasher struct {
	params PasswordParams
}

func NewPasswordHasher(params PasswordParams) *PasswordHasher {
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		params = DefaultPasswordParams
	}
	if params.SaltLength == 0 {
		params.SaltLength = DefaultPasswordParams.SaltLength
	}
	if params.KeyLength == 0 {
		params.KeyLength = DefaultPasswordParams.KeyLength
	}
	return &PasswordHasher{params: params}
}

func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", &AuthError{Op: "hash password", Err: err}
	}

	p := h.params
	key := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches encoded. A malformed or foreign
// hash yields false. Cost parameters beyond the accepted bounds are treated
// as a corrupted store and returned as an *AuthError.
func (h *PasswordHasher) Verify(encoded, plaintext string) (bool, error) {
	p, salt, key, ok := decodeHash(encoded)
	if !ok {
		return false, nil
	}
	if p.Memory > maxHashMemory || p.Iterations > maxHashIterations {
		return false, &AuthError{Op: "verify password", Err: fmt.Errorf("hash parameters out of bounds (m=%d, t=%d)", p.Memory, p.Iterations)}
	}

	candidate := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(candidate, key) == 1, nil
}

func decodeHash(encoded string) (PasswordParams, []byte, []byte, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return PasswordParams{}, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return PasswordParams{}, nil, nil, false
	}

	var p PasswordParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return PasswordParams{}, nil, nil, false
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return PasswordParams{}, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return PasswordParams{}, nil, nil, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return PasswordParams{}, nil, nil, false
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, true
}
