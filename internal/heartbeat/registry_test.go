package heartbeat

import (
	"errors"
	"testing"
	"time"
)

func newTestRegistry(start time.Time) (*Registry, *time.Time) {
	clock := start
	registry := NewRegistry()
	registry.now = func() time.Time { return clock }
	return registry, &clock
}

func TestSnapshotMarksStaleBeat(t *testing.T) {
	start := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	registry, clock := newTestRegistry(start)

	registry.Beat("scheduler", "swept")
	*clock = start.Add(3 * time.Minute)

	snapshot := registry.Snapshot(time.Minute)
	if len(snapshot.Components) != 1 {
		t.Fatalf("expected one component, got %d", len(snapshot.Components))
	}
	if snapshot.Components[0].State != StateStale {
		t.Fatalf("expected stale state, got %s", snapshot.Components[0].State)
	}
	if snapshot.Overall != StateDegraded {
		t.Fatalf("stale component must degrade the overall state, got %s", snapshot.Overall)
	}

	if fresh := registry.Snapshot(0); fresh.Components[0].State != StateHealthy {
		t.Fatalf("zero staleAfter must disable staleness, got %s", fresh.Components[0].State)
	}
}

func TestSnapshotOverall(t *testing.T) {
	registry, _ := newTestRegistry(time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))

	registry.Disabled("scheduler", "no store configured")
	if snapshot := registry.Snapshot(time.Minute); snapshot.Overall != "idle" {
		t.Fatalf("all-disabled registry must be idle, got %s", snapshot.Overall)
	}

	registry.Beat("http", "listening")
	if snapshot := registry.Snapshot(time.Minute); snapshot.Overall != StateHealthy {
		t.Fatalf("expected healthy overall, got %s", snapshot.Overall)
	}

	registry.Degrade("http", "accept failed", errors.New("socket closed"))
	snapshot := registry.Snapshot(time.Minute)
	if snapshot.Overall != StateDegraded {
		t.Fatalf("expected degraded overall, got %s", snapshot.Overall)
	}
	for _, component := range snapshot.Components {
		if component.Name == "http" && component.Error != "socket closed" {
			t.Fatalf("expected recorded error, got %q", component.Error)
		}
	}
}

func TestBeatClearsPriorError(t *testing.T) {
	registry, _ := newTestRegistry(time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))

	registry.Degrade("scheduler", "sweep failed", errors.New("db locked"))
	registry.Beat("scheduler", "recovered")

	snapshot := registry.Snapshot(time.Minute)
	if snapshot.Components[0].State != StateHealthy {
		t.Fatalf("expected healthy after beat, got %s", snapshot.Components[0].State)
	}
	if snapshot.Components[0].Error != "" {
		t.Fatalf("beat must clear the error, got %q", snapshot.Components[0].Error)
	}
}

func TestSnapshotSortsAndIgnoresBlankNames(t *testing.T) {
	registry, _ := newTestRegistry(time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))

	registry.Beat("  ", "ignored")
	registry.Beat("Scheduler", "swept")
	registry.Beat("http", "listening")

	snapshot := registry.Snapshot(0)
	if len(snapshot.Components) != 2 {
		t.Fatalf("expected two components, got %d", len(snapshot.Components))
	}
	if snapshot.Components[0].Name != "http" || snapshot.Components[1].Name != "scheduler" {
		t.Fatalf("expected sorted lowercase names, got %+v", snapshot.Components)
	}
}
