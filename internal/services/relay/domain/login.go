// Package domain defines the entities of the login correlation flow.
package domain

import (
	"time"

	apperrors "github.com/warrelis/loginrelay/internal/platform/errors"
)

var (
	// ErrUnknownToken indicates a token with no live pending login: never
	// issued, expired, or already delivered.
	ErrUnknownToken = apperrors.New(apperrors.CodeUnknownToken, "no pending login for token")
	// ErrDuplicateToken indicates a token issuance invariant violation.
	ErrDuplicateToken = apperrors.New(apperrors.CodeDuplicateToken, "token already registered")
	// ErrAlreadyWatching indicates a second concurrent watch for a token that
	// already has a live watcher.
	ErrAlreadyWatching = apperrors.New(apperrors.CodeAlreadyWatching, "token already has a watcher")
	// ErrNoMatchingUser indicates a node assertion that resolves to no known
	// identity.
	ErrNoMatchingUser = apperrors.New(apperrors.CodeNoMatchingUser, "assertion matches no known user")
)

// Event names carried on the watch stream. Both are terminal: no further
// events follow for the token.
const (
	EventLoggedIn = "loggedIn"
	EventExpired  = "expired"
)

// LoginRequest describes the login attempt the browser started: where to send
// the browser once a user is resolved, and the opaque state it round-trips.
type LoginRequest struct {
	ClientRedirectURI string `json:"client_redirect_uri"`
	State             string `json:"state,omitempty"`
}

// PendingLogin tracks one issued token awaiting its callback.
type PendingLogin struct {
	Token     Token
	Request   LoginRequest
	CreatedAt time.Time
}

// Assertion is the remote node's one-shot identity claim delivered on the
// callback: an opaque subject plus the connection it speaks for.
type Assertion struct {
	Subject       string `json:"subject"`
	ConnectionURL string `json:"connection_url,omitempty"`
	Secret        string `json:"secret,omitempty"`
}

// User is a resolved identity record from the directory.
type User struct {
	ID          string
	Subject     string
	DisplayName string
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// LoginResult is what a watcher ultimately learns: who logged in, where the
// browser should go next, and the session marker that proves the decision on
// later requests.
type LoginResult struct {
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name,omitempty"`
	RedirectURL  string `json:"url,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
}
