package session

import (
	stderrors "errors"
	"testing"
	"time"
)

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager("", time.Hour, nil); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := NewManager("secret", 0, nil); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestIssueAndInspect(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	m, err := NewManager("test-secret", 12*time.Hour, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	marker, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	userID, err := m.Inspect(marker)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("expected user-1, got %q", userID)
	}
}

func TestInspectExpired(t *testing.T) {
	current := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	m, err := NewManager("test-secret", time.Hour, func() time.Time { return current })
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	marker, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := m.Inspect(marker); !stderrors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestInspectRejectsForgedMarkers(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	other, err := NewManager("other-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	forged, err := other.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.Inspect(forged); !stderrors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for wrong signature, got %v", err)
	}
	if _, err := m.Inspect(""); !stderrors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty marker, got %v", err)
	}
	if _, err := m.Inspect("not.a.jwt"); !stderrors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for garbage marker, got %v", err)
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Issue(" "); err == nil {
		t.Error("expected error for blank user id")
	}
}
