package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/johndosdos/chatter-sync/internal/errs"
)

func makeJWT(t *testing.T, subject string, expiresIn time.Duration) string {
	t.Helper()
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	})
	s, err := token.SignedString([]byte("validtokensecret"))
	if err != nil {
		t.Fatalf("SignedString() error = %+v", err)
	}
	return s
}

func TestTokenExpiry(t *testing.T) {
	t.Run("valid_JWT", func(t *testing.T) {
		userID := uuid.NewString()
		tokenString := makeJWT(t, userID, 15*time.Minute)

		exp, err := TokenExpiry(tokenString)
		if err != nil {
			t.Fatalf("TokenExpiry() error = %+v", err)
		}
		if d := time.Until(exp); d < 14*time.Minute || d > 16*time.Minute {
			t.Errorf("unexpected expiry distance: %v", d)
		}

		sub, err := TokenSubject(tokenString)
		if err != nil {
			t.Fatalf("TokenSubject() error = %+v", err)
		}
		if sub != userID {
			t.Errorf("want = %s, got = %s", userID, sub)
		}
	})

	t.Run("no_expiry", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"})
		s, err := token.SignedString([]byte("secret"))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if _, err := TokenExpiry(s); !errors.Is(err, ErrNoExpiry) {
			t.Fatalf("TokenExpiry() error = %+v, want ErrNoExpiry", err)
		}
	})

	t.Run("corrupt_token", func(t *testing.T) {
		if _, err := TokenExpiry("corrupttoken"); err == nil {
			t.Fatal("TokenExpiry(): expected error but got none")
		}
	})
}

func TestCheckToken(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", makeJWT(t, "u1", time.Hour), false},
		{"expired", makeJWT(t, "u1", -time.Second), true},
		{"inside_leeway", makeJWT(t, "u1", 10*time.Second), true},
		{"empty", "", true},
		{"opaque", "not-a-jwt-token", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckToken(tt.token, now, DefaultLeeway)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckToken() error = %+v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errs.ErrAuth) {
				t.Errorf("CheckToken() error = %+v, want ErrAuth", err)
			}
		})
	}
}

func TestBearerHeader(t *testing.T) {
	h := BearerHeader("abc")
	if got := h.Get("Authorization"); got != "Bearer abc" {
		t.Errorf("got %q", got)
	}
	if got := BearerHeader("").Get("Authorization"); got != "" {
		t.Errorf("empty token should not set header, got %q", got)
	}
}
