// Package auth provides the registry's credential primitives: opaque service
// account tokens (bcrypt hashed, looked up by a short stored prefix) and HS256
// session JWTs for human users.
// See internal/middleware/auth.go for the request-time logic that uses them.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenRandomLength is the length of the random part of a token in bytes
	TokenRandomLength = 32

	// LookupPrefixLength is the number of leading token characters stored in
	// clear for lookup
	LookupPrefixLength = 10

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// ServiceToken is a freshly minted token. Plaintext is shown to the caller
// exactly once; only Hash and LookupPrefix are stored.
type ServiceToken struct {
	Plaintext    string
	Hash         string
	LookupPrefix string
}

// GenerateServiceToken mints a token of the form <prefix><random>.
func GenerateServiceToken(prefix string) (*ServiceToken, error) {
	return generateServiceToken(prefix, BcryptCost)
}

func generateServiceToken(prefix string, cost int) (*ServiceToken, error) {
	randomBytes := make([]byte, TokenRandomLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	plaintext := prefix + base64.RawURLEncoding.EncodeToString(randomBytes)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash service token: %w", err)
	}

	return &ServiceToken{
		Plaintext:    plaintext,
		Hash:         string(hashBytes),
		LookupPrefix: LookupPrefix(plaintext),
	}, nil
}

// LookupPrefix returns the stored lookup prefix for a presented token.
func LookupPrefix(token string) string {
	if len(token) > LookupPrefixLength {
		return token[:LookupPrefixLength]
	}
	return token
}

// VerifyServiceToken checks a presented token against its stored hash.
func VerifyServiceToken(presented, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(presented)) == nil
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer <token>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}
	return token, nil
}
