// Package service orchestrates the login correlation flow: token issuance,
// watcher attachment, callback delivery, and expiry.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/warrelis/loginrelay/internal/platform/errors"
	"github.com/warrelis/loginrelay/internal/services/relay/domain"
	"github.com/warrelis/loginrelay/internal/services/relay/store"
	"github.com/warrelis/loginrelay/internal/services/relay/stream"
)

// IdentityResolver maps a node assertion to a known user.
type IdentityResolver interface {
	Resolve(ctx context.Context, assertion domain.Assertion) (domain.User, error)
	UserByID(ctx context.Context, userID string) (domain.User, error)
}

// SessionAuthority issues and inspects the browser session marker.
type SessionAuthority interface {
	Issue(userID string) (string, error)
	Inspect(marker string) (string, error)
}

// NodeRegistrar produces the opaque payload the caller transmits to its
// remote node integration when a flow starts.
type NodeRegistrar interface {
	Registration(ctx context.Context, req domain.LoginRequest, callbackURL string) (json.RawMessage, error)
}

// Correlation coordinates pending logins, watchers, and callbacks for one
// process. All shared state lives in the injected store and hub.
type Correlation struct {
	pending   *store.PendingLogins
	hub       *stream.Hub
	sessions  SessionAuthority
	resolver  IdentityResolver
	registrar NodeRegistrar
	routes    RouteTable
	clock     func() time.Time
}

// NewCorrelation wires a correlation service. clock defaults to time.Now.
func NewCorrelation(
	pending *store.PendingLogins,
	hub *stream.Hub,
	sessions SessionAuthority,
	resolver IdentityResolver,
	registrar NodeRegistrar,
	routes RouteTable,
	clock func() time.Time,
) *Correlation {
	if clock == nil {
		clock = time.Now
	}
	return &Correlation{
		pending:   pending,
		hub:       hub,
		sessions:  sessions,
		resolver:  resolver,
		registrar: registrar,
		routes:    routes,
		clock:     clock,
	}
}

// StartedFlow is the outcome of StartFlow: the correlation token, the URL
// the browser should watch, and the registration payload for the remote
// node.
type StartedFlow struct {
	Token           domain.Token    `json:"token"`
	NotificationURL string          `json:"notification_url"`
	Registration    json.RawMessage `json:"registration"`
}

// StartFlow issues a fresh token for a login attempt, records the pending
// login, and builds the node registration. Every call produces a new token;
// concurrent calls never share one.
func (c *Correlation) StartFlow(ctx context.Context, req domain.LoginRequest) (StartedFlow, error) {
	if err := validateLoginRequest(req); err != nil {
		return StartedFlow{}, err
	}

	token, err := domain.NewToken(c.pending.Live)
	if err != nil {
		return StartedFlow{}, fmt.Errorf("issue token: %w", err)
	}
	if err := c.pending.Put(domain.PendingLogin{
		Token:     token,
		Request:   req,
		CreatedAt: c.clock().UTC(),
	}); err != nil {
		return StartedFlow{}, fmt.Errorf("store pending login: %w", err)
	}

	registration, err := c.registrar.Registration(ctx, req, c.routes.CallbackURL(token))
	if err != nil {
		c.pending.Remove(token)
		return StartedFlow{}, fmt.Errorf("build registration: %w", err)
	}

	return StartedFlow{
		Token:           token,
		NotificationURL: c.routes.NotificationURL(token),
		Registration:    registration,
	}, nil
}

// WatchOutcome is either an immediate result (the caller's session already
// carries a completed login) or an output to drain for the terminal event.
type WatchOutcome struct {
	Result *domain.LoginResult
	Output *stream.Output
}

// Watch attaches a watcher to token. A valid session marker short-circuits
// to an immediate result without touching the stream hub; the pending entry,
// if any, is left to expire on its own. Otherwise the watcher is registered
// for the terminal event. Unknown and expired tokens fail fast with
// domain.ErrUnknownToken instead of waiting forever; a second concurrent
// watch fails with domain.ErrAlreadyWatching.
func (c *Correlation) Watch(ctx context.Context, token domain.Token, sessionMarker string) (WatchOutcome, error) {
	if strings.TrimSpace(string(token)) == "" {
		return WatchOutcome{}, apperrors.New(apperrors.CodeTokenRequired, "watch token is required")
	}

	if sessionMarker != "" {
		if userID, err := c.sessions.Inspect(sessionMarker); err == nil {
			result := domain.LoginResult{UserID: userID}
			if user, err := c.resolver.UserByID(ctx, userID); err == nil {
				result.DisplayName = user.DisplayName
			}
			return WatchOutcome{Result: &result}, nil
		}
		// An invalid or expired marker is not an error; the caller simply
		// is not logged in yet and falls through to the stream.
	}

	out := stream.NewOutput()
	pending := func(t domain.Token) bool {
		_, ok := c.pending.Get(t)
		return ok
	}
	if err := c.hub.Register(token, out, pending); err != nil {
		return WatchOutcome{}, fmt.Errorf("register watcher: %w", err)
	}
	return WatchOutcome{Output: out}, nil
}

// ReleaseWatch frees the registration when the client connection ends.
func (c *Correlation) ReleaseWatch(token domain.Token, out *stream.Output) {
	c.hub.Release(token, out)
}

// HandleCallback processes the remote node's one-shot assertion for token.
// The pending entry is claimed through the store remove inside the hub
// critical section, so exactly one callback per token delivers; later
// callbacks fail with domain.ErrUnknownToken and are never reprocessed. A
// failed identity resolution leaves the token pending: the node may retry
// until the TTL runs out.
func (c *Correlation) HandleCallback(ctx context.Context, token domain.Token, assertion domain.Assertion) (domain.LoginResult, error) {
	if strings.TrimSpace(string(token)) == "" {
		return domain.LoginResult{}, apperrors.New(apperrors.CodeTokenRequired, "callback token is required")
	}
	if strings.TrimSpace(assertion.Subject) == "" {
		return domain.LoginResult{}, apperrors.New(apperrors.CodeAssertionRequired, "assertion subject is required")
	}

	login, ok := c.pending.Get(token)
	if !ok {
		return domain.LoginResult{}, domain.ErrUnknownToken
	}

	user, err := c.resolver.Resolve(ctx, assertion)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("resolve assertion: %w", err)
	}

	marker, err := c.sessions.Issue(user.ID)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("issue session marker: %w", err)
	}
	result, err := buildResult(login.Request, user, marker)
	if err != nil {
		return domain.LoginResult{}, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("encode result: %w", err)
	}

	ev := stream.Event{
		ID:   uuid.NewString(),
		Name: domain.EventLoggedIn,
		Data: data,
	}
	if !c.hub.Deliver(token, ev, c.pending.Remove) {
		// Another callback won the claim between our lookup and now.
		return domain.LoginResult{}, domain.ErrUnknownToken
	}
	log.Printf("login delivered for user %s", user.ID)
	return result, nil
}

// ExpireStale sweeps pending logins past their TTL and closes any attached
// watchers with a terminal expiry event. It returns the number of tokens
// retired.
func (c *Correlation) ExpireStale(now time.Time) int {
	expired := c.pending.SweepExpired(now)
	for _, token := range expired {
		c.hub.Close(token, stream.Event{
			ID:   uuid.NewString(),
			Name: domain.EventExpired,
			Data: []byte(`{}`),
		})
	}
	if len(expired) > 0 {
		log.Printf("expired %d stale login tokens", len(expired))
	}
	return len(expired)
}

// Healthy reports whether the route table renders usable URLs.
func (c *Correlation) Healthy() bool {
	return c.routes.Check() == nil
}

func validateLoginRequest(req domain.LoginRequest) error {
	trimmed := strings.TrimSpace(req.ClientRedirectURI)
	if trimmed == "" {
		return apperrors.New(apperrors.CodeRedirectURIRequired, "client redirect uri is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return apperrors.New(apperrors.CodeRedirectURIInvalid, "client redirect uri must be absolute")
	}
	return nil
}

// buildResult renders the completion payload: the client redirect with the
// round-tripped state and the session marker appended.
func buildResult(req domain.LoginRequest, user domain.User, marker string) (domain.LoginResult, error) {
	redirect, err := url.Parse(req.ClientRedirectURI)
	if err != nil {
		return domain.LoginResult{}, apperrors.Wrap(apperrors.CodeRedirectURIInvalid, "parse client redirect uri", err)
	}
	query := redirect.Query()
	if req.State != "" {
		query.Set("state", req.State)
	}
	query.Set("session_token", marker)
	redirect.RawQuery = query.Encode()

	return domain.LoginResult{
		UserID:       user.ID,
		DisplayName:  user.DisplayName,
		RedirectURL:  redirect.String(),
		SessionToken: marker,
	}, nil
}
