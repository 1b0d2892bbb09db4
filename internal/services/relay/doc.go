// Package relay contains the login correlation service: token issuance,
// pending login state, watcher streams, and callback delivery.
//
// A browser starts a login attempt and receives a correlation token plus a
// registration payload for its remote identity node. The browser then watches
// the token over a push stream or a long-poll fallback. When the node calls
// back asserting who logged in, the completion event is delivered to the
// watcher exactly once and all state for the token is discarded.
package relay
