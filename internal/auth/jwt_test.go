package auth

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

func TestJWTManager_Disabled(t *testing.T) {
	m := NewJWTManager("")
	if m.Enabled() {
		t.Fatal("Enabled() = true for empty secret")
	}
	if _, err := m.Generate("uid", "user", time.Hour); !errors.Is(err, ErrJWTDisabled) {
		t.Errorf("Generate() error = %v, want ErrJWTDisabled", err)
	}
	if _, err := m.Validate("anything"); !errors.Is(err, ErrJWTDisabled) {
		t.Errorf("Validate() error = %v, want ErrJWTDisabled", err)
	}
}

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	m := NewJWTManager(testSecret)

	t.Run("round trip", func(t *testing.T) {
		token, err := m.Generate("user-123", "Tester", time.Hour)
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}

		claims, err := m.Validate(token)
		if err != nil {
			t.Fatalf("Validate() error: %v", err)
		}
		if claims.UserID != "user-123" {
			t.Errorf("claims.UserID = %q, want %q", claims.UserID, "user-123")
		}
		if claims.Username != "Tester" {
			t.Errorf("claims.Username = %q, want %q", claims.Username, "Tester")
		}
		if claims.Issuer != jwtIssuer {
			t.Errorf("claims.Issuer = %q, want %q", claims.Issuer, jwtIssuer)
		}
	})

	t.Run("default expiry when zero duration", func(t *testing.T) {
		token, err := m.Generate("uid", "u", 0)
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		claims, err := m.Validate(token)
		if err != nil {
			t.Fatalf("Validate() error: %v", err)
		}
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < 50*time.Minute || remaining > 70*time.Minute {
			t.Errorf("default expiry remaining = %v, want ~1h", remaining)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token, err := m.Generate("uid", "u", -time.Second)
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		if _, err := m.Validate(token); err == nil {
			t.Error("Validate() expected error for expired token, got nil")
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := m.Validate("not.a.valid.token"); err == nil {
			t.Error("Validate() expected error for garbage token, got nil")
		}
	})

	t.Run("token signed with different secret is rejected", func(t *testing.T) {
		other := NewJWTManager("completely-different-secret-32ch!")
		token, err := other.Generate("uid", "u", time.Hour)
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		if _, err := m.Validate(token); err == nil {
			t.Error("Validate() accepted a token signed with another secret")
		}
	})
}
