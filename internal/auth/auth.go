// Package auth inspects the access token issued by POST /api/auth.
//
// The client never holds the signing secret, so tokens are parsed without
// signature verification and only their claims are consulted; the server
// remains the authority on validity.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/johndosdos/chatter-sync/internal/errs"
)

// DefaultLeeway treats tokens that expire within it as already expired.
const DefaultLeeway = 30 * time.Second

var ErrNoExpiry = errors.New("internal/auth: token has no expiry claim")

// Claims returns the registered claims of tokenString.
func Claims(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, fmt.Errorf("internal/auth: failed to parse token: %w", err)
	}
	return claims, nil
}

// TokenExpiry returns the exp claim of tokenString.
func TokenExpiry(tokenString string) (time.Time, error) {
	claims, err := Claims(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// TokenSubject returns the sub claim, the user id the token was issued to.
func TokenSubject(tokenString string) (string, error) {
	claims, err := Claims(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// CheckToken fails with errs.ErrAuth when tokenString is empty or expires
// within leeway of now. Opaque (non-JWT) tokens and tokens without exp are
// accepted; the handshake will decide.
func CheckToken(tokenString string, now time.Time, leeway time.Duration) error {
	if tokenString == "" {
		return fmt.Errorf("internal/auth: empty token: %w", errs.ErrAuth)
	}

	exp, err := TokenExpiry(tokenString)
	switch {
	case errors.Is(err, ErrNoExpiry):
		return nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", errs.ErrAuth, err)
	}

	if !now.Add(leeway).Before(exp) {
		return fmt.Errorf("internal/auth: token expired at %s: %w", exp.UTC().Format(time.RFC3339), errs.ErrAuth)
	}
	return nil
}

// BearerHeader returns request headers carrying tokenString.
func BearerHeader(tokenString string) http.Header {
	h := http.Header{}
	SetBearer(h, tokenString)
	return h
}

// SetBearer sets the Authorization header.
func SetBearer(h http.Header, tokenString string) {
	if tokenString != "" {
		h.Set("Authorization", "Bearer "+tokenString)
	}
}
