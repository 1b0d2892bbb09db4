// Package errors provides structured error handling for the relay service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Login flow errors
	CodeUnknownToken    Code = "LOGIN_UNKNOWN_TOKEN"
	CodeDuplicateToken  Code = "LOGIN_DUPLICATE_TOKEN"
	CodeAlreadyWatching Code = "LOGIN_ALREADY_WATCHING"
	CodeNoMatchingUser  Code = "LOGIN_NO_MATCHING_USER"

	// Request validation errors
	CodeTokenRequired       Code = "REQUEST_TOKEN_REQUIRED"
	CodeRedirectURIRequired Code = "REQUEST_REDIRECT_URI_REQUIRED"
	CodeRedirectURIInvalid  Code = "REQUEST_REDIRECT_URI_INVALID"
	CodeAssertionRequired   Code = "REQUEST_ASSERTION_REQUIRED"
	CodeSecretRejected      Code = "REQUEST_SECRET_REJECTED"

	// Session errors
	CodeSessionInvalid Code = "SESSION_INVALID"
	CodeSessionExpired Code = "SESSION_EXPIRED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes for the service boundary.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, malformed input
	case CodeTokenRequired,
		CodeRedirectURIRequired,
		CodeRedirectURIInvalid,
		CodeAssertionRequired:
		return http.StatusBadRequest

	// Unauthorized - rejected credentials
	case CodeSecretRejected,
		CodeSessionInvalid,
		CodeSessionExpired:
		return http.StatusUnauthorized

	// Not found - dead tokens and failed resolutions
	case CodeUnknownToken,
		CodeNoMatchingUser,
		CodeNotFound:
		return http.StatusNotFound

	// Conflict - a live watcher already holds the token
	case CodeAlreadyWatching:
		return http.StatusConflict

	// Internal - invariant violations
	case CodeDuplicateToken, CodeUnknown:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
