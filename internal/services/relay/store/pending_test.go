package store

import (
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/warrelis/loginrelay/internal/services/relay/domain"
)

func testClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func pending(token string, createdAt time.Time) domain.PendingLogin {
	return domain.PendingLogin{
		Token:     domain.Token(token),
		Request:   domain.LoginRequest{ClientRedirectURI: "https://client.example/done"},
		CreatedAt: createdAt,
	}
}

func TestPutAndGet(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s := NewPendingLogins(45*time.Minute, testClock(now))

	if err := s.Put(pending("t1", now)); err != nil {
		t.Fatalf("put: %v", err)
	}
	login, ok := s.Get("t1")
	if !ok {
		t.Fatal("expected entry for t1")
	}
	if login.Request.ClientRedirectURI != "https://client.example/done" {
		t.Errorf("unexpected request round-trip: %+v", login.Request)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("expected absent for unknown token")
	}
}

func TestPutDuplicate(t *testing.T) {
	now := time.Now()
	s := NewPendingLogins(45*time.Minute, testClock(now))
	if err := s.Put(pending("t1", now)); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := s.Put(pending("t1", now))
	if !stderrors.Is(err, domain.ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}
}

func TestRemoveIsIdempotentAndExclusive(t *testing.T) {
	now := time.Now()
	s := NewPendingLogins(45*time.Minute, testClock(now))
	if err := s.Put(pending("t1", now)); err != nil {
		t.Fatalf("put: %v", err)
	}

	if !s.Remove("t1") {
		t.Fatal("expected first remove to win")
	}
	if s.Remove("t1") {
		t.Fatal("expected second remove to report absent")
	}
	if s.Remove("never-issued") {
		t.Fatal("expected remove of unknown token to report absent")
	}
}

func TestRemoveRaceSingleWinner(t *testing.T) {
	now := time.Now()
	s := NewPendingLogins(45*time.Minute, testClock(now))
	if err := s.Put(pending("t1", now)); err != nil {
		t.Fatalf("put: %v", err)
	}

	const callers = 32
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Remove("t1") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestExpiryIsLazyUntilSwept(t *testing.T) {
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	current := start
	s := NewPendingLogins(45*time.Minute, func() time.Time { return current })
	if err := s.Put(pending("t1", start)); err != nil {
		t.Fatalf("put: %v", err)
	}

	current = start.Add(44 * time.Minute)
	if _, ok := s.Get("t1"); !ok {
		t.Fatal("expected entry before ttl")
	}

	current = start.Add(46 * time.Minute)
	if _, ok := s.Get("t1"); ok {
		t.Error("expected expired entry to read as absent")
	}
	if s.Remove("t1") {
		t.Error("expected expired entry to be unclaimable")
	}
	if !s.Live("t1") {
		t.Error("expected expired entry to still occupy its token until swept")
	}

	swept := s.SweepExpired(current)
	if len(swept) != 1 || swept[0] != "t1" {
		t.Fatalf("expected sweep to return [t1], got %v", swept)
	}
	if s.Live("t1") {
		t.Error("expected entry gone after sweep")
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", s.Len())
	}
}

func TestSweepKeepsFreshEntries(t *testing.T) {
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s := NewPendingLogins(45*time.Minute, testClock(start))
	if err := s.Put(pending("old", start.Add(-time.Hour))); err != nil {
		t.Fatalf("put old: %v", err)
	}
	if err := s.Put(pending("fresh", start)); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	swept := s.SweepExpired(start)
	if len(swept) != 1 || swept[0] != "old" {
		t.Fatalf("expected sweep to return [old], got %v", swept)
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Error("expected fresh entry to survive sweep")
	}
}

func TestConcurrentPutGetSweep(t *testing.T) {
	now := time.Now()
	s := NewPendingLogins(45*time.Minute, testClock(now))

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := domain.Token(fmt.Sprintf("token-%d", i))
			if err := s.Put(pending(string(token), now)); err != nil {
				t.Errorf("put %s: %v", token, err)
				return
			}
			s.Get(token)
			s.SweepExpired(now)
			s.Remove(token)
		}()
	}
	wg.Wait()
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", s.Len())
	}
}
