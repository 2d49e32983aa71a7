package account

import (
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

const (
	pbkdf2Iterations = 200_000
	saltBytes        = 16
	keyBytes         = 32
	tokenBytes       = 32
	tokenPrefixLen   = 8
)

// HashPassword derives PBKDF2-SHA256 material for password with a fresh random salt.
func HashPassword(password string) (domain.Credentials, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return domain.Credentials{}, fmt.Errorf("generate salt: %w", err)
	}
	hash, err := pbkdf2.Key(sha256.New, password, salt, pbkdf2Iterations, keyBytes)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("derive password hash: %w", err)
	}
	return domain.Credentials{Salt: salt, Hash: hash}, nil
}

// VerifyPassword reports whether password matches cred in constant time.
func VerifyPassword(password string, cred domain.Credentials) bool {
	if len(cred.Salt) == 0 || len(cred.Hash) == 0 {
		return false
	}
	got, err := pbkdf2.Key(sha256.New, password, cred.Salt, pbkdf2Iterations, len(cred.Hash))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, cred.Hash) == 1
}

// newToken returns a random URL-safe token, its display prefix and its SHA-256 digest.
func newToken() (plain, prefix string, hash []byte, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", nil, fmt.Errorf("generate token: %w", err)
	}
	plain = base64.RawURLEncoding.EncodeToString(raw)
	return plain, plain[:tokenPrefixLen], hashToken(plain), nil
}

func hashToken(plain string) []byte {
	sum := sha256.Sum256([]byte(plain))
	return sum[:]
}
