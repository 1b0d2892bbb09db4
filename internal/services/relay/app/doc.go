// Package server composes and runs the relay process boundary.
//
// It hosts the HTTP API, the in-memory pending login state, and the SQLite
// identity directory, and sweeps stale logins on a fixed interval so a
// restart is the only way state survives past its TTL.
package server
