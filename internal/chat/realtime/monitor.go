package realtime

import (
	"context"
	"log"
	"sync"
	"time"
)

// Health is the tri-state connection quality reported by the Monitor.
type Health string

const (
	HealthConnected    Health = "connected"
	HealthDegraded     Health = "degraded"
	HealthDisconnected Health = "disconnected"
)

const (
	defaultProbeInterval = 5 * time.Second
	degradedAfter        = 1
	disconnectedAfter    = 3
)

// Monitor probes the realtime transport on an interval and tracks connection
// health. One failed probe degrades the connection; three consecutive
// failures mark it disconnected; any success restores it.
type Monitor struct {
	probe    func(ctx context.Context) error
	interval time.Duration
	onChange func(Health)

	mu       sync.Mutex
	health   Health
	failures int
}

// NewMonitor creates a monitor over a probe function. The onChange callback,
// when set, fires on every health transition; it runs outside the monitor's
// lock and may call back into it.
func NewMonitor(probe func(ctx context.Context) error, interval time.Duration, onChange func(Health)) *Monitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		onChange: onChange,
		health:   HealthConnected,
	}
}

// Health returns the current connection health.
func (m *Monitor) Health() Health {
	if m == nil {
		return HealthDisconnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// Connected reports whether the transport is fully healthy.
func (m *Monitor) Connected() bool {
	return m.Health() == HealthConnected
}

// Observe records one probe outcome directly. Run uses it internally; it is
// also the hook for transports that learn about failures out of band.
func (m *Monitor) Observe(err error) {
	if m == nil {
		return
	}

	m.mu.Lock()
	previous := m.health
	if err == nil {
		m.failures = 0
		m.health = HealthConnected
	} else {
		m.failures++
		switch {
		case m.failures >= disconnectedAfter:
			m.health = HealthDisconnected
		case m.failures >= degradedAfter:
			m.health = HealthDegraded
		}
	}
	current := m.health
	onChange := m.onChange
	m.mu.Unlock()

	if current != previous {
		log.Printf("realtime: connection health %s -> %s", previous, current)
		if onChange != nil {
			onChange(current)
		}
	}
}

// Run probes on the configured interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m == nil || m.probe == nil {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Observe(m.probe(ctx))
		}
	}
}
