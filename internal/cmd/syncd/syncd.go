// Package syncd parses sync server flags and composes its entrypoint.
package syncd

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/peerline/peerline/internal/chat/app"
	entrypoint "github.com/peerline/peerline/internal/platform/cmd"
)

// Config holds sync server command configuration.
type Config struct {
	HTTPAddr     string        `env:"PEERLINE_SYNC_HTTP_ADDR"     envDefault:":8090"`
	GRPCAddr     string        `env:"PEERLINE_SYNC_GRPC_ADDR"`
	DBPath       string        `env:"PEERLINE_SYNC_DB_PATH"       envDefault:"peerline.db"`
	RedisAddr    string        `env:"PEERLINE_REDIS_ADDR"`
	JWTSecret    string        `env:"PEERLINE_JWT_SECRET"`
	ReapInterval time.Duration `env:"PEERLINE_REAP_INTERVAL"      envDefault:"1m"`
	StaleAfter   time.Duration `env:"PEERLINE_SESSION_STALE_AFTER"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "sync HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for the change-event bus (empty uses in-process)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "bearer token signing secret")
	fs.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "stale session reaper interval (0 disables)")
	fs.DurationVar(&cfg.StaleAfter, "stale-after", cfg.StaleAfter, "waiting session staleness threshold (0 uses the default)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the sync server and serves until the context is cancelled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSyncd, func(context.Context) error {
		if err := app.Run(ctx, app.Config{
			HTTPAddr:     cfg.HTTPAddr,
			GRPCAddr:     cfg.GRPCAddr,
			DBPath:       cfg.DBPath,
			RedisAddr:    cfg.RedisAddr,
			JWTSecret:    cfg.JWTSecret,
			ReapInterval: cfg.ReapInterval,
			StaleAfter:   cfg.StaleAfter,
		}); err != nil {
			return fmt.Errorf("serve sync: %w", err)
		}
		return nil
	})
}
