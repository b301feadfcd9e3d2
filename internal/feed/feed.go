// Package feed replays an ordered sequence of option chain snapshots to
// registered observers at a controllable pace.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/7uyf/backtrade/internal/domain"
)

// Observer receives each published snapshot. Observers are invoked
// synchronously, in registration order; the feed does not advance to the
// next delay until every observer has returned.
type Observer interface {
	OnMarketDataUpdate(snapshot *domain.ChainSnapshot)
}

// Source supplies the snapshot sequence the feed replays. Implementations
// live in the ingestion layer.
type Source interface {
	Snapshots(ctx context.Context) ([]*domain.ChainSnapshot, error)
}

// DefaultBaseInterval is the inter-snapshot delay at playback speed 1.
const DefaultBaseInterval = 60 * time.Second

// Feed is a deterministic, pausable replay of chain snapshots.
type Feed struct {
	source       Source
	baseInterval time.Duration
	log          *slog.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	snapshots   []*domain.ChainSnapshot
	observers   []Observer
	paused      bool
	speed       float64
	initialized bool
}

// New creates a feed over the given source. baseInterval <= 0 falls back to
// DefaultBaseInterval; speed <= 0 falls back to 1.
func New(source Source, baseInterval time.Duration, speed float64, log *slog.Logger) *Feed {
	if baseInterval <= 0 {
		baseInterval = DefaultBaseInterval
	}
	if speed <= 0 {
		speed = 1
	}
	f := &Feed{
		source:       source,
		baseInterval: baseInterval,
		speed:        speed,
		log:          log,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Init loads the snapshot sequence from the source. It is idempotent and
// must complete before Run.
func (f *Feed) Init(ctx context.Context) error {
	f.mu.Lock()
	if f.initialized {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	snapshots, err := f.source.Snapshots(ctx)
	if err != nil {
		return fmt.Errorf("loading snapshots: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized {
		return nil
	}
	f.snapshots = snapshots
	f.initialized = true
	f.log.Info("feed initialized", "snapshots", len(snapshots))
	return nil
}

// Run publishes each snapshot in order, suspending while paused and waiting
// the inter-snapshot delay between publishes. The delay is reread every
// iteration so speed changes take effect on the next tick. Cancellation is
// honoured between snapshots and during waits, never mid-publish.
func (f *Feed) Run(ctx context.Context) error {
	f.mu.Lock()
	if !f.initialized {
		f.mu.Unlock()
		return fmt.Errorf("feed not initialized")
	}
	snapshots := f.snapshots
	f.mu.Unlock()

	// Wake any pause wait when the context is cancelled.
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	for _, snapshot := range snapshots {
		f.mu.Lock()
		for f.paused && ctx.Err() == nil {
			f.cond.Wait()
		}
		observers := make([]Observer, len(f.observers))
		copy(observers, f.observers)
		delay := time.Duration(float64(f.baseInterval) / f.speed)
		f.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}

		for _, o := range observers {
			o.OnMarketDataUpdate(snapshot)
		}
		f.log.Debug("snapshot published", "time", snapshot.Time(), "observers", len(observers))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	f.log.Info("feed replay complete", "snapshots", len(snapshots))
	return nil
}

// Pause suspends the run loop before its next publish.
func (f *Feed) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

// Resume wakes a run loop suspended by Pause.
func (f *Feed) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	f.cond.Broadcast()
}

// SetPlaybackSpeed changes the delay applied after subsequent publishes.
// A non-positive speed is routed through Pause so the delay math never
// divides by zero.
func (f *Feed) SetPlaybackSpeed(speed float64) {
	if speed <= 0 {
		f.Pause()
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speed = speed
}

// Speed returns the current playback speed.
func (f *Feed) Speed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed
}

// Paused reports whether the feed is paused.
func (f *Feed) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

// RegisterObserver appends an observer. Notification order is registration
// order, which callers rely on for correctness.
func (f *Feed) RegisterObserver(o Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, o)
}

// RemoveObserver removes an observer. A removal during an in-flight publish
// does not affect that pass; the loop iterates over its own copy.
func (f *Feed) RemoveObserver(o Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.observers {
		if existing == o {
			f.observers = append(f.observers[:i], f.observers[i+1:]...)
			return
		}
	}
}
