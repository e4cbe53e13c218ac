package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const jwtIssuer = "thunderstore-registry"

// minJWTSecretLength is the recommended minimum secret length.
const minJWTSecretLength = 32

// ErrJWTDisabled is returned when no session secret is configured.
var ErrJWTDisabled = errors.New("session tokens are not configured")

// Claims represents the JWT claims structure
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies session tokens with a shared HS256 secret.
// A manager with an empty secret rejects every token.
type JWTManager struct {
	secret []byte
}

// NewJWTManager creates a JWTManager. An empty secret disables session
// tokens; a short one is accepted with a warning.
func NewJWTManager(secret string) *JWTManager {
	switch {
	case secret == "":
		slog.Warn("auth.jwt_secret not set; only service account tokens will authenticate")
	case len(secret) < minJWTSecretLength:
		slog.Warn("auth.jwt_secret is shorter than the recommended length", "min_length", minJWTSecretLength)
	}
	return &JWTManager{secret: []byte(secret)}
}

// Enabled reports whether session tokens can be verified.
func (m *JWTManager) Enabled() bool {
	return len(m.secret) > 0
}

// Generate creates a session token for a user.
func (m *JWTManager) Generate(userID, username string, expiresIn time.Duration) (string, error) {
	if !m.Enabled() {
		return "", ErrJWTDisabled
	}
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    jwtIssuer,
			Subject:   userID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a session token.
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	if !m.Enabled() {
		return nil, ErrJWTDisabled
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithIssuer(jwtIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}
