// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown. Watch streams are closed immediately; this only
// covers start and callback exchanges.
const Shutdown = 5 * time.Second

// CallbackResolve caps the time allowed for resolving a node assertion
// against the identity directory.
const CallbackResolve = 10 * time.Second
