package realtime

import (
	"errors"
	"testing"
)

func TestMonitorTransitions(t *testing.T) {
	var changes []Health
	monitor := NewMonitor(nil, 0, func(health Health) {
		changes = append(changes, health)
	})

	if got := monitor.Health(); got != HealthConnected {
		t.Fatalf("initial health = %q, want connected", got)
	}

	probeErr := errors.New("probe failed")

	// First failure degrades.
	monitor.Observe(probeErr)
	if got := monitor.Health(); got != HealthDegraded {
		t.Fatalf("health after one failure = %q, want degraded", got)
	}

	// Third consecutive failure disconnects.
	monitor.Observe(probeErr)
	monitor.Observe(probeErr)
	if got := monitor.Health(); got != HealthDisconnected {
		t.Fatalf("health after three failures = %q, want disconnected", got)
	}

	// One success restores.
	monitor.Observe(nil)
	if got := monitor.Health(); got != HealthConnected {
		t.Fatalf("health after success = %q, want connected", got)
	}
	if !monitor.Connected() {
		t.Fatal("Connected should report true after recovery")
	}

	want := []Health{HealthDegraded, HealthDisconnected, HealthConnected}
	if len(changes) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), changes)
	}
	for i, health := range want {
		if changes[i] != health {
			t.Fatalf("transition %d = %q, want %q", i, changes[i], health)
		}
	}
}

func TestMonitorSuccessResetsFailureCount(t *testing.T) {
	monitor := NewMonitor(nil, 0, nil)
	probeErr := errors.New("probe failed")

	monitor.Observe(probeErr)
	monitor.Observe(probeErr)
	monitor.Observe(nil)
	monitor.Observe(probeErr)

	// A single failure after recovery only degrades.
	if got := monitor.Health(); got != HealthDegraded {
		t.Fatalf("health = %q, want degraded", got)
	}
}

func TestMonitorRepeatedFailuresFireOnChangeOnce(t *testing.T) {
	var changes int
	monitor := NewMonitor(nil, 0, func(Health) { changes++ })
	probeErr := errors.New("probe failed")

	for i := 0; i < 6; i++ {
		monitor.Observe(probeErr)
	}

	// degraded once, disconnected once.
	if changes != 2 {
		t.Fatalf("expected 2 transitions, got %d", changes)
	}
}
