package syncd

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("syncd", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8090" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "peerline.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.ReapInterval != time.Minute {
		t.Fatalf("expected default reap interval, got %s", cfg.ReapInterval)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("PEERLINE_SYNC_HTTP_ADDR", "env-http")
	t.Setenv("PEERLINE_SYNC_DB_PATH", "env.db")
	t.Setenv("PEERLINE_REDIS_ADDR", "env-redis")

	fs := flag.NewFlagSet("syncd", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-http",
		"-db-path", "flag.db",
		"-reap-interval", "30s",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-http" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "flag.db" {
		t.Fatalf("expected flag db path, got %q", cfg.DBPath)
	}
	if cfg.RedisAddr != "env-redis" {
		t.Fatalf("expected env redis addr, got %q", cfg.RedisAddr)
	}
	if cfg.ReapInterval != 30*time.Second {
		t.Fatalf("expected flag reap interval, got %s", cfg.ReapInterval)
	}
}
