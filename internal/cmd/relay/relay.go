// Package relay wires configuration parsing and startup for the relay
// command.
package relay

import (
	"context"
	"flag"

	server "github.com/warrelis/loginrelay/internal/services/relay/app"
)

// ParseConfig loads the environment configuration and applies flag
// overrides.
func ParseConfig(fs *flag.FlagSet, args []string) (server.Config, error) {
	cfg, err := server.LoadConfig()
	if err != nil {
		return server.Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The relay HTTP server address")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "The externally reachable base URL")
	if err := fs.Parse(args); err != nil {
		return server.Config{}, err
	}
	return cfg, nil
}

// Run starts the relay server.
func Run(ctx context.Context, cfg server.Config) error {
	return server.Run(ctx, cfg)
}
