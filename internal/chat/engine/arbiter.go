package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/peerline/peerline/internal/chat/domain"
	"github.com/peerline/peerline/internal/platform/id"
)

// DefaultArbitrationInterval is how often the arbiter polls its ownership
// record.
const DefaultArbitrationInterval = 30 * time.Second

// RecordStore is the arbiter's view of the device ownership records.
type RecordStore interface {
	Register(ctx context.Context, userID, sessionToken, deviceInfo string) (domain.ActiveSessionRecord, error)
	Current(ctx context.Context, userID string) (domain.ActiveSessionRecord, error)
	Release(ctx context.Context, userID, sessionToken string) error
}

// Arbiter enforces single-session ownership for one browsing context. It
// registers a fresh token, then polls the record; when another context
// registered a newer token, the arbiter reports eviction exactly once and
// stops.
type Arbiter struct {
	store      RecordStore
	userID     string
	token      string
	deviceInfo string
	interval   time.Duration

	mu      sync.Mutex
	evicted bool
	onEvict func()
}

// ArbiterConfig defines the inputs for an Arbiter.
type ArbiterConfig struct {
	Store      RecordStore
	UserID     string
	DeviceInfo string
	// Interval between ownership polls. Zero means the default.
	Interval time.Duration
	// OnEvict fires once when another context takes ownership.
	OnEvict func()
}

// NewArbiter creates an arbiter with a freshly minted session token.
func NewArbiter(cfg ArbiterConfig) (*Arbiter, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	userID := strings.TrimSpace(cfg.UserID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultArbitrationInterval
	}
	return &Arbiter{
		store:      cfg.Store,
		userID:     userID,
		token:      id.New(),
		deviceInfo: strings.TrimSpace(cfg.DeviceInfo),
		interval:   interval,
		onEvict:    cfg.OnEvict,
	}, nil
}

// Token returns this context's session token.
func (a *Arbiter) Token() string {
	return a.token
}

// Register claims ownership for this context, evicting any previous holder.
func (a *Arbiter) Register(ctx context.Context) error {
	if _, err := a.store.Register(ctx, a.userID, a.token, a.deviceInfo); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	log.Printf("arbiter: registered session token for user %s", a.userID)
	return nil
}

// Run polls the ownership record until eviction or context cancellation.
// Transient poll errors are logged and skipped; only an authoritative
// record carrying a different token counts as eviction.
func (a *Arbiter) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.poll(ctx) {
				return
			}
		}
	}
}

// poll checks ownership once and reports whether the arbiter should stop.
func (a *Arbiter) poll(ctx context.Context) bool {
	record, err := a.store.Current(ctx, a.userID)
	if err != nil {
		log.Printf("arbiter: poll ownership for user %s: %v", a.userID, err)
		return false
	}
	if record.SessionToken == a.token {
		return false
	}

	a.mu.Lock()
	already := a.evicted
	a.evicted = true
	onEvict := a.onEvict
	a.mu.Unlock()

	if !already {
		log.Printf("arbiter: user %s evicted by another session (registered %s)", a.userID, record.UpdatedAt.Format(time.RFC3339))
		if onEvict != nil {
			onEvict()
		}
	}
	return true
}

// Evicted reports whether another context took ownership.
func (a *Arbiter) Evicted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evicted
}

// Release gives up ownership on logout. Best-effort: a stale token is
// ignored by the store.
func (a *Arbiter) Release(ctx context.Context) error {
	if err := a.store.Release(ctx, a.userID, a.token); err != nil {
		return fmt.Errorf("release device: %w", err)
	}
	return nil
}
