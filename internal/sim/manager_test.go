package sim

import (
	"testing"
	"time"

	"github.com/7uyf/backtrade/internal/domain"
)

func TestManagerEnsureIsIdempotent(t *testing.T) {
	m := NewManager(time.Millisecond, testLogger())
	defer m.Shutdown()

	cfg := testConfig()
	cfg.PlaybackSpeed = 0 // start paused so the feed sits idle

	first, started, err := m.Ensure(cfg, &sliceSource{})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !started {
		t.Fatal("first Ensure did not report starting the simulation")
	}
	second, started, err := m.Ensure(cfg, &sliceSource{})
	if err != nil {
		t.Fatalf("Ensure again: %v", err)
	}
	if started {
		t.Fatal("second Ensure reported starting an already-live simulation")
	}
	if first != second {
		t.Fatal("Ensure created a second simulation for the same id")
	}
	if got := len(m.Live()); got != 1 {
		t.Fatalf("live simulations = %d, want 1", got)
	}
}

func TestManagerRejectsMissingID(t *testing.T) {
	m := NewManager(time.Millisecond, testLogger())
	if _, _, err := m.Ensure(Config{}, &sliceSource{}); err == nil {
		t.Fatal("Ensure accepted a config with no id")
	}
}

func TestManagerGet(t *testing.T) {
	m := NewManager(time.Millisecond, testLogger())
	defer m.Shutdown()

	cfg := testConfig()
	cfg.PlaybackSpeed = 0
	if _, _, err := m.Ensure(cfg, &sliceSource{}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	if _, ok := m.Get(cfg.ID); !ok {
		t.Fatal("Get missed a live simulation")
	}
	if _, ok := m.Get("nope"); ok {
		t.Fatal("Get returned a simulation for an unknown id")
	}
}

func TestManagerZeroSpeedStartsPaused(t *testing.T) {
	m := NewManager(time.Millisecond, testLogger())
	defer m.Shutdown()

	cfg := testConfig()
	cfg.PlaybackSpeed = 0
	s, _, err := m.Ensure(cfg, &sliceSource{})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !s.Feed.Paused() {
		t.Fatal("zero-speed simulation is not paused")
	}
}

// TestManagerTeardownWhilePaused exercises the awkward case: cancelling a
// replay that is blocked waiting for a resume.
func TestManagerTeardownWhilePaused(t *testing.T) {
	m := NewManager(time.Millisecond, testLogger())

	c := testContract(150, domain.Call, 2.45, 2.50)
	snaps := []*domain.ChainSnapshot{
		domain.NewChainSnapshot(c.Time, []domain.Contract{c}),
	}

	cfg := testConfig()
	cfg.PlaybackSpeed = 0
	if _, _, err := m.Ensure(cfg, &sliceSource{snaps: snaps}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Teardown(cfg.ID) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Teardown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Teardown did not return")
	}

	if got := len(m.Live()); got != 0 {
		t.Fatalf("live simulations after teardown = %d, want 0", got)
	}
	if err := m.Teardown(cfg.ID); err == nil {
		t.Fatal("second Teardown of the same id succeeded")
	}
}

func TestManagerRunToCompletion(t *testing.T) {
	m := NewManager(time.Millisecond, testLogger())
	defer m.Shutdown()

	c := testContract(150, domain.Call, 2.45, 2.50)
	var snaps []*domain.ChainSnapshot
	for i := range 3 {
		snaps = append(snaps, domain.NewChainSnapshot(c.Time.Add(time.Duration(i)*time.Minute), []domain.Contract{c}))
	}

	cfg := testConfig()
	cfg.PlaybackSpeed = 100_000
	s, _, err := m.Ensure(cfg, &sliceSource{snaps: snaps})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !s.Account.Snapshot().Time.Equal(snaps[2].Time()) {
		if time.Now().After(deadline) {
			t.Fatalf("account never reached final snapshot, at %v", s.Account.Snapshot().Time)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManagerShutdownTearsDownAll(t *testing.T) {
	m := NewManager(time.Millisecond, testLogger())

	for _, id := range []string{"a", "b", "c"} {
		cfg := testConfig()
		cfg.ID = id
		cfg.PlaybackSpeed = 0
		if _, _, err := m.Ensure(cfg, &sliceSource{}); err != nil {
			t.Fatalf("Ensure %s: %v", id, err)
		}
	}
	if got := len(m.Live()); got != 3 {
		t.Fatalf("live simulations = %d, want 3", got)
	}

	m.Shutdown()
	if got := len(m.Live()); got != 0 {
		t.Fatalf("live simulations after shutdown = %d, want 0", got)
	}
}
