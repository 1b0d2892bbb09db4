package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		HTTPAddr:      "localhost:0",
		PendingTTL:    45 * time.Minute,
		SweepInterval: time.Hour,
		DBPath:        filepath.Join(t.TempDir(), "relay.db"),
		SessionSecret: "test-secret-test-secret-test-secret",
		SessionTTL:    12 * time.Hour,
	}
}

func TestDefaultBaseURL(t *testing.T) {
	if defaultBaseURL("") != "" {
		t.Fatal("expected empty base url")
	}
	if defaultBaseURL(":8084") != "http://localhost:8084" {
		t.Fatal("expected localhost prefix for port-only addr")
	}
	if defaultBaseURL("http://example.com/") != "http://example.com" {
		t.Fatal("expected trimmed trailing slash")
	}
	if defaultBaseURL("example.com") != "http://example.com" {
		t.Fatal("expected http prefix for host")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LOGINRELAY_SESSION_SECRET", "test-secret-test-secret-test-secret")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPAddr != "localhost:8084" {
		t.Errorf("unexpected http addr %q", cfg.HTTPAddr)
	}
	if cfg.PendingTTL != 45*time.Minute {
		t.Errorf("unexpected pending ttl %s", cfg.PendingTTL)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("unexpected sweep interval %s", cfg.SweepInterval)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Errorf("unexpected session ttl %s", cfg.SessionTTL)
	}
}

func TestLoadConfigRequiresSessionSecret(t *testing.T) {
	t.Setenv("LOGINRELAY_SESSION_SECRET", "")
	os.Unsetenv("LOGINRELAY_SESSION_SECRET")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without session secret")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing session secret", func(c *Config) { c.SessionSecret = "" }},
		{"zero pending ttl", func(c *Config) { c.PendingTTL = 0 }},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }},
		{"relative base url", func(c *Config) { c.BaseURL = "/relay" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestOpenDirectoryInvalidDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("data"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := openDirectory(filepath.Join(file, "relay.db")); err == nil {
		t.Fatal("expected error for invalid storage dir")
	}
}

func TestBootstrapMalformedEntry(t *testing.T) {
	cfg := testConfig(t)
	cfg.BootstrapUsers = "subject-without-name"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for malformed bootstrap entry")
	}
}

func TestServeAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.BootstrapUsers = "node-subject-1:Alice, node-subject-2:Bob"
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	base := "http://" + srv.Addr()
	waitHealthy(t, base)

	// A full flow against the running server: start, callback, replay.
	resp, err := http.Post(base+"/login/start", "application/json",
		strings.NewReader(`{"client_redirect_uri":"https://client.example/done"}`))
	if err != nil {
		t.Fatalf("post start: %v", err)
	}
	var started struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || started.Token == "" {
		t.Fatalf("unexpected start response %d %+v", resp.StatusCode, started)
	}

	callback, err := http.Post(base+"/login/callback/"+started.Token, "application/json",
		strings.NewReader(`{"subject":"node-subject-1"}`))
	if err != nil {
		t.Fatalf("post callback: %v", err)
	}
	callback.Body.Close()
	if callback.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 callback, got %d", callback.StatusCode)
	}

	replay, err := http.Post(base+"/login/callback/"+started.Token, "application/json",
		strings.NewReader(`{"subject":"node-subject-1"}`))
	if err != nil {
		t.Fatalf("replay callback: %v", err)
	}
	replay.Body.Close()
	if replay.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 replay, got %d", replay.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func waitHealthy(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never became healthy", base)
}
