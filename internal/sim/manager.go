package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/7uyf/backtrade/internal/feed"
)

// Manager owns the registry of live simulations keyed by config id. A
// simulation is started on first Ensure, runs as a background task, and is
// torn down explicitly. There is no cross-instance sharing: each simulation
// owns its feed, account, and order management services.
type Manager struct {
	log          *slog.Logger
	baseInterval time.Duration

	mu   sync.Mutex
	sims map[string]*managed
}

type managed struct {
	sim    *Simulation
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates an empty registry. baseInterval applies to every feed
// it starts.
func NewManager(baseInterval time.Duration, log *slog.Logger) *Manager {
	return &Manager{
		log:          log,
		baseInterval: baseInterval,
		sims:         make(map[string]*managed),
	}
}

// Ensure returns the live simulation for the config, starting one when none
// exists. The second result reports whether this call started it, so callers
// attach per-simulation observers exactly once. The replay begins paused when
// the config's playback speed is zero.
func (m *Manager) Ensure(cfg Config, source feed.Source) (*Simulation, bool, error) {
	if cfg.ID == "" {
		return nil, false, errors.New("simulation config has no id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sims[cfg.ID]; ok {
		return entry.sim, false, nil
	}

	s := New(cfg, source, m.baseInterval, m.log)
	if cfg.PlaybackSpeed == 0 {
		s.Feed.Pause()
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Feed.Init(ctx); err != nil {
		cancel()
		return nil, false, fmt.Errorf("starting simulation %s: %w", cfg.ID, err)
	}

	entry := &managed{sim: s, cancel: cancel, done: make(chan struct{})}
	m.sims[cfg.ID] = entry

	go func() {
		defer close(entry.done)
		if err := s.Feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("simulation run failed", "simulation", cfg.ID, "error", err)
		}
	}()

	m.log.Info("simulation started", "simulation", cfg.ID, "owner", cfg.OwnerID)
	return s, true, nil
}

// Get returns the live simulation with the given id, if any.
func (m *Manager) Get(id string) (*Simulation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sims[id]
	if !ok {
		return nil, false
	}
	return entry.sim, true
}

// Teardown cancels a simulation's replay, waits for it to stop, and removes
// it from the registry. Cancellation lands between snapshots, so no observer
// is left mid-notification.
func (m *Manager) Teardown(id string) error {
	m.mu.Lock()
	entry, ok := m.sims[id]
	if ok {
		delete(m.sims, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no live simulation with id %s", id)
	}

	entry.cancel()
	<-entry.done
	m.log.Info("simulation torn down", "simulation", id)
	return nil
}

// Shutdown tears down every live simulation.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sims))
	for id := range m.sims {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Teardown(id); err != nil {
			m.log.Warn("teardown during shutdown", "simulation", id, "error", err)
		}
	}
}

// Live returns the ids of all live simulations.
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sims))
	for id := range m.sims {
		ids = append(ids, id)
	}
	return ids
}
