// Package auth implements the admin access gate: a single operator secret
// checked with bcrypt, an optional TOTP second factor, and short-lived JWT
// sessions for the admin panel.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized means the supplied credential failed the gate. The message
// never says whether a license or session existed.
var ErrUnauthorized = errors.New("admin access denied")

// Gate authorizes admin operations against an operator-configured bcrypt
// digest. The digest comes from the environment; there is no built-in
// password.
type Gate struct {
	passwordHash []byte
	totpSecret   string
	jwtSecret    []byte
	sessionTTL   time.Duration
}

func NewGate(passwordHash, totpSecret, jwtSecret string, sessionTTL time.Duration) *Gate {
	return &Gate{
		passwordHash: []byte(passwordHash),
		totpSecret:   totpSecret,
		jwtSecret:    []byte(jwtSecret),
		sessionTTL:   sessionTTL,
	}
}

// Enabled reports whether a reference digest was configured at all. With no
// digest every admin operation is refused.
func (g *Gate) Enabled() bool {
	return len(g.passwordHash) > 0
}

// Authorize checks the supplied password against the reference digest.
// bcrypt's comparison is constant-time, so equality leaks no timing signal.
func (g *Gate) Authorize(password string) bool {
	if !g.Enabled() {
		return false
	}
	return bcrypt.CompareHashAndPassword(g.passwordHash, []byte(password)) == nil
}

// SessionClaims are the JWT claims of an admin panel session.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// Login verifies the password (and TOTP code when a secret is configured) and
// mints a session token.
func (g *Gate) Login(password, otpCode string) (string, time.Time, error) {
	if !g.Authorize(password) {
		return "", time.Time{}, ErrUnauthorized
	}
	if g.totpSecret != "" && !totp.Validate(otpCode, g.totpSecret) {
		return "", time.Time{}, ErrUnauthorized
	}

	expiresAt := time.Now().Add(g.sessionTTL)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "pharmagest-license-server",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifySession parses and validates a session token, returning its remaining
// lifetime so a logout can blacklist it for exactly that long.
func (g *Gate) VerifySession(tokenString string) (time.Duration, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return g.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrUnauthorized
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.Subject != "admin" {
		return 0, ErrUnauthorized
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return 0, ErrUnauthorized
	}
	return remaining, nil
}
