package service

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/warrelis/loginrelay/internal/services/relay/domain"
)

// Route patterns shared between the route table and the HTTP surface. The
// table renders absolute URLs from these; the handlers must register the
// same prefixes. Keeping them in one place replaces any need for the service
// to discover its own routes at runtime.
const (
	StartPath          = "/login/start"
	WatchPathPrefix    = "/login/watch/"
	CallbackPathPrefix = "/login/callback/"
)

// RouteTable computes the absolute callback and notification URLs handed to
// the remote node and the browser when a flow starts.
type RouteTable struct {
	base *url.URL
}

// NewRouteTable parses the service base URL. The base must be absolute so
// the remote node can reach the callback from outside.
func NewRouteTable(baseURL string) (RouteTable, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return RouteTable{}, fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return RouteTable{}, fmt.Errorf("parse base url: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return RouteTable{}, fmt.Errorf("base url %q must be absolute", trimmed)
	}
	return RouteTable{base: parsed}, nil
}

// CallbackURL renders the URL the remote node posts its assertion to.
func (r RouteTable) CallbackURL(token domain.Token) string {
	return r.base.JoinPath(CallbackPathPrefix, string(token)).String()
}

// NotificationURL renders the URL the browser watches for the decision.
func (r RouteTable) NotificationURL(token domain.Token) string {
	return r.base.JoinPath(WatchPathPrefix, string(token)).String()
}

// Check verifies both URLs render with a probe token. Used by the health
// endpoint.
func (r RouteTable) Check() error {
	const probe = domain.Token("probe")
	if r.base == nil {
		return fmt.Errorf("route table is not configured")
	}
	if !strings.Contains(r.CallbackURL(probe), string(probe)) {
		return fmt.Errorf("callback url does not carry the token")
	}
	if !strings.Contains(r.NotificationURL(probe), string(probe)) {
		return fmt.Errorf("notification url does not carry the token")
	}
	return nil
}
