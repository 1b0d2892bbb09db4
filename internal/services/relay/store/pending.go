// Package store holds pending login state between token issuance and the
// node callback.
package store

import (
	"sync"
	"time"

	"github.com/warrelis/loginrelay/internal/services/relay/domain"
)

// PendingLogins is an in-memory, time-bounded map from correlation token to
// the login attempt waiting on it. Entries live until a callback claims them
// or the TTL elapses and a sweep removes them.
//
// All operations are safe for concurrent use: one request puts a token while
// another serves its callback, with the sweep ticking in the background.
type PendingLogins struct {
	mu      sync.Mutex
	entries map[domain.Token]domain.PendingLogin
	ttl     time.Duration
	clock   func() time.Time
}

// NewPendingLogins creates a store with the given TTL. clock defaults to
// time.Now and is injectable for deterministic expiry tests.
func NewPendingLogins(ttl time.Duration, clock func() time.Time) *PendingLogins {
	if clock == nil {
		clock = time.Now
	}
	return &PendingLogins{
		entries: make(map[domain.Token]domain.PendingLogin),
		ttl:     ttl,
		clock:   clock,
	}
}

// Put registers a pending login under its token. It returns
// domain.ErrDuplicateToken when the token is already present; the token
// generator's liveness check makes that unreachable in correct operation,
// but the invariant is enforced here regardless.
func (s *PendingLogins) Put(login domain.PendingLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[login.Token]; exists {
		return domain.ErrDuplicateToken
	}
	s.entries[login.Token] = login
	return nil
}

// Get returns the pending login for token. Unknown and expired tokens report
// absent; expiry is observed lazily here and physically removed by Sweep.
func (s *PendingLogins) Get(token domain.Token) (domain.PendingLogin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	login, ok := s.entries[token]
	if !ok || s.expired(login, s.clock()) {
		return domain.PendingLogin{}, false
	}
	return login, true
}

// Remove deletes the entry for token and reports whether a live entry was
// removed. It is idempotent; exactly one concurrent caller observes true for
// a given entry, which makes Remove the linearization point for callback
// delivery.
func (s *PendingLogins) Remove(token domain.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	login, ok := s.entries[token]
	if !ok {
		return false
	}
	if s.expired(login, s.clock()) {
		// Leave expired entries for the sweep so expiry stats stay accurate.
		return false
	}
	delete(s.entries, token)
	return true
}

// Live reports whether token occupies a slot, expired or not. The token
// generator uses this as its collision check: an expired entry still owns
// its token until swept.
func (s *PendingLogins) Live(token domain.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[token]
	return ok
}

// SweepExpired removes every entry older than the TTL at now and returns the
// removed tokens so attached watchers can be closed.
func (s *PendingLogins) SweepExpired(now time.Time) []domain.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []domain.Token
	for token, login := range s.entries {
		if s.expired(login, now) {
			delete(s.entries, token)
			expired = append(expired, token)
		}
	}
	return expired
}

// Len returns the number of stored entries, including expired ones awaiting
// a sweep.
func (s *PendingLogins) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *PendingLogins) expired(login domain.PendingLogin, now time.Time) bool {
	return now.Sub(login.CreatedAt) >= s.ttl
}
