// Package syncprobe runs a smoke check against a running sync server: it
// starts a session, sends a message, and waits for the change feed to
// confirm it.
package syncprobe

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/peerline/peerline/internal/chat/domain"
	"github.com/peerline/peerline/internal/chat/engine"
	"github.com/peerline/peerline/internal/chat/realtime"
	"github.com/peerline/peerline/internal/chat/realtime/wsbus"
	entrypoint "github.com/peerline/peerline/internal/platform/cmd"
)

// Config holds sync probe command configuration.
type Config struct {
	ServerURL string        `env:"PEERLINE_SYNC_URL"   envDefault:"http://localhost:8090"`
	UserID    string        `env:"PEERLINE_PROBE_USER" envDefault:"probe"`
	Token     string        `env:"PEERLINE_PROBE_TOKEN"`
	Timeout   time.Duration `env:"PEERLINE_PROBE_TIMEOUT" envDefault:"15s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "sync server base URL")
	fs.StringVar(&cfg.UserID, "user", cfg.UserID, "user id the probe acts as")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "bearer token for the sync server")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall probe timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the probe once and returns an error when any step fails.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSyncprobe, func(context.Context) error {
		return probe(ctx, cfg)
	})
}

func probe(ctx context.Context, cfg Config) error {
	serverURL := strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if serverURL == "" {
		return errors.New("server url is required")
	}
	userID := strings.TrimSpace(cfg.UserID)
	if userID == "" {
		return errors.New("user id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := checkUp(ctx, serverURL); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	log.Printf("probe: %s/up OK", serverURL)

	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if cfg.Token != "" {
		wsURL += "?token=" + cfg.Token
	}
	wsClient, err := wsbus.Dial(wsURL, serverURL, cfg.Token)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer wsClient.Close()

	backend := engine.NewHTTPBackend(serverURL, cfg.Token)
	eng, err := engine.New(engine.Config{
		UserID:  userID,
		Role:    domain.RoleUser,
		Backend: backend,
		Adapter: realtime.NewAdapter(wsClient),
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	arbiter, err := engine.NewArbiter(engine.ArbiterConfig{Store: backend, UserID: userID})
	if err != nil {
		return fmt.Errorf("build arbiter: %w", err)
	}
	if err := arbiter.Register(ctx); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	defer func() {
		if err := arbiter.Release(context.Background()); err != nil {
			log.Printf("probe: release device: %v", err)
		}
	}()
	log.Printf("probe: device registered with token %s", arbiter.Token())

	session, err := eng.Start(ctx, true)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Printf("probe: session %s started (%s)", session.ID, session.Status)

	sent, err := eng.Send(ctx, domain.KindText, fmt.Sprintf("probe check at %s", time.Now().Format(time.RFC3339)), nil)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if err := waitConfirmed(ctx, eng, sent.ID); err != nil {
		return fmt.Errorf("await confirmation: %w", err)
	}
	log.Printf("probe: message %s confirmed over the change feed", sent.ID)

	if err := eng.End(ctx); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	log.Printf("probe: session %s ended, all checks passed", session.ID)
	return nil
}

func checkUp(ctx context.Context, serverURL string) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/up", nil)
	if err != nil {
		return err
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", response.StatusCode)
	}
	return nil
}

// waitConfirmed polls the engine's local state until the sent message loses
// its pending flag, which only happens after the insert event round-trips.
func waitConfirmed(ctx context.Context, eng *engine.Engine, messageID string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, message := range eng.Messages() {
			if message.ID == messageID && !message.Pending {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
