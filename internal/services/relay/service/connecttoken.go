package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/warrelis/loginrelay/internal/services/relay/domain"
)

// ConnectTokenRegistrar builds the registration payload the caller forwards
// to its remote node integration: a connect token whose callback action
// replays the original login request, so the relay keeps no copy of it on
// the wire path.
type ConnectTokenRegistrar struct{}

type connectToken struct {
	Actions []connectAction `json:"actions"`
}

type connectAction struct {
	Key    string `json:"key"`
	URI    string `json:"uri"`
	Method string `json:"method"`
	Type   string `json:"type"`
	Body   string `json:"body"`
}

// Registration renders the connect token for a started flow.
func (ConnectTokenRegistrar) Registration(_ context.Context, req domain.LoginRequest, callbackURL string) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode login request: %w", err)
	}
	token := connectToken{
		Actions: []connectAction{{
			Key:    "callback",
			URI:    callbackURL,
			Method: "POST",
			Type:   "application/json",
			Body:   base64.StdEncoding.EncodeToString(body),
		}},
	}
	encoded, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("encode connect token: %w", err)
	}
	return encoded, nil
}
