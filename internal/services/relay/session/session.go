// Package session issues and inspects the browser session marker that proves
// a completed login on later requests.
package session

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/warrelis/loginrelay/internal/platform/errors"
)

const issuer = "loginrelay"

var (
	// ErrInvalid indicates a marker that fails signature or shape checks.
	ErrInvalid = apperrors.New(apperrors.CodeSessionInvalid, "session marker is invalid")
	// ErrExpired indicates a marker past its lifetime.
	ErrExpired = apperrors.New(apperrors.CodeSessionExpired, "session marker has expired")
)

// Manager signs and verifies session markers. Markers are HS256 JWTs carrying
// only the resolved user id; all other login state lives server-side.
type Manager struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewManager creates a manager with the given signing secret and marker
// lifetime. clock defaults to time.Now.
func NewManager(secret string, ttl time.Duration, clock func() time.Time) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{secret: []byte(secret), ttl: ttl, clock: clock}, nil
}

// Issue signs a marker for userID.
func (m *Manager) Issue(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := m.clock().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session marker: %w", err)
	}
	return signed, nil
}

// Inspect verifies a marker and returns the user id it was issued for.
// Absent or malformed markers return ErrInvalid; markers past their
// lifetime return ErrExpired.
func (m *Manager) Inspect(marker string) (string, error) {
	if strings.TrimSpace(marker) == "" {
		return "", ErrInvalid
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(marker, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", apperrors.Wrap(apperrors.CodeSessionInvalid, "session marker is invalid", err)
	}
	if claims.Subject == "" {
		return "", ErrInvalid
	}
	return claims.Subject, nil
}
