package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warrelis/loginrelay/internal/platform/config"
	"github.com/warrelis/loginrelay/internal/platform/timeouts"
	"github.com/warrelis/loginrelay/internal/services/relay/api/httpapi"
	"github.com/warrelis/loginrelay/internal/services/relay/directory"
	"github.com/warrelis/loginrelay/internal/services/relay/service"
	"github.com/warrelis/loginrelay/internal/services/relay/session"
	"github.com/warrelis/loginrelay/internal/services/relay/store"
	"github.com/warrelis/loginrelay/internal/services/relay/stream"
)

// Config holds the relay server configuration loaded from the environment.
type Config struct {
	HTTPAddr       string        `env:"LOGINRELAY_HTTP_ADDR" envDefault:"localhost:8084"`
	BaseURL        string        `env:"LOGINRELAY_BASE_URL"`
	PendingTTL     time.Duration `env:"LOGINRELAY_PENDING_TTL" envDefault:"45m"`
	SweepInterval  time.Duration `env:"LOGINRELAY_SWEEP_INTERVAL" envDefault:"1h"`
	DBPath         string        `env:"LOGINRELAY_DB_PATH" envDefault:"data/relay.db"`
	SessionSecret  string        `env:"LOGINRELAY_SESSION_SECRET,required"`
	SessionTTL     time.Duration `env:"LOGINRELAY_SESSION_TTL" envDefault:"12h"`
	NodeSecret     string        `env:"LOGINRELAY_NODE_SECRET"`
	BootstrapUsers string        `env:"LOGINRELAY_BOOTSTRAP_USERS"`
}

// LoadConfig reads the relay configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Server hosts the relay HTTP surface, the pending login state, and the
// identity directory.
type Server struct {
	listener      net.Listener
	httpServer    *http.Server
	store         *directory.Store
	svc           *service.Correlation
	sweepInterval time.Duration
}

// New creates a configured relay server listening on cfg.HTTPAddr.
func New(cfg Config) (*Server, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.HTTPAddr)
	}
	routes, err := service.NewRouteTable(baseURL)
	if err != nil {
		return nil, fmt.Errorf("build route table: %w", err)
	}
	sessions, err := session.NewManager(cfg.SessionSecret, cfg.SessionTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("build session manager: %w", err)
	}
	if cfg.PendingTTL <= 0 {
		return nil, fmt.Errorf("pending ttl must be positive, got %s", cfg.PendingTTL)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", cfg.SweepInterval)
	}

	dir, err := openDirectory(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := bootstrap(dir, cfg); err != nil {
		_ = dir.Close()
		return nil, err
	}

	pending := store.NewPendingLogins(cfg.PendingTTL, time.Now)
	hub := stream.NewHub()
	svc := service.NewCorrelation(pending, hub, sessions, dir, service.ConnectTokenRegistrar{}, routes, time.Now)

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = dir.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	httpServer := &http.Server{
		Handler:           httpapi.New(svc).Routes(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{
		listener:      listener,
		httpServer:    httpServer,
		store:         dir,
		svc:           svc,
		sweepInterval: cfg.SweepInterval,
	}, nil
}

// Addr returns the listener address for the relay server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a relay server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	srv, err := New(cfg)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the relay server and blocks until it stops or the context
// ends. Stale pending logins are swept on a fixed interval for the lifetime
// of the server.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.startSweep(serverCtx)

	log.Printf("relay server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		if err := shutdown(); err != nil {
			_ = s.httpServer.Close()
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func (s *Server) startSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.svc.ExpireStale(now)
			}
		}
	}()
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close identity directory: %v", err)
	}
}

func openDirectory(path string) (*directory.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "relay.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := directory.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity directory: %w", err)
	}
	return store, nil
}

// bootstrap enrolls the configured users and installs the shared node secret.
// Entries are "subject:display name" pairs separated by commas; enrollment is
// idempotent per subject, so restarts are safe.
func bootstrap(dir *directory.Store, cfg Config) error {
	ctx := context.Background()
	for _, entry := range strings.Split(cfg.BootstrapUsers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		subject, displayName, found := strings.Cut(entry, ":")
		subject = strings.TrimSpace(subject)
		displayName = strings.TrimSpace(displayName)
		if !found || subject == "" || displayName == "" {
			return fmt.Errorf("malformed bootstrap user entry %q", entry)
		}
		if _, err := dir.Register(ctx, subject, displayName); err != nil {
			return fmt.Errorf("bootstrap user %q: %w", subject, err)
		}
	}
	if secret := strings.TrimSpace(cfg.NodeSecret); secret != "" {
		if err := dir.SetNodeSecret(ctx, secret); err != nil {
			return fmt.Errorf("install node secret: %w", err)
		}
	}
	return nil
}

// defaultBaseURL derives an absolute base URL when none is configured. Useful
// for local development; production deployments set LOGINRELAY_BASE_URL to
// the externally reachable address.
func defaultBaseURL(httpAddr string) string {
	addr := strings.TrimSpace(httpAddr)
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
