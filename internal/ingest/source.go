package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/7uyf/backtrade/internal/domain"
	"github.com/7uyf/backtrade/internal/feed"
)

// Compile-time interface check.
var _ feed.Source = (*StoreSource)(nil)

// StoreSource replays stored chains for a set of symbols as one merged
// snapshot sequence. Quotes for different symbols observed at the same time
// are merged into a single snapshot.
type StoreSource struct {
	Store   *ChainStore
	Symbols []string

	// Start, when set, drops snapshots observed before it. The zero value
	// replays everything on disk.
	Start time.Time
}

// NewStoreSource creates a source replaying the given symbols from start.
func NewStoreSource(store *ChainStore, symbols []string, start time.Time) *StoreSource {
	return &StoreSource{Store: store, Symbols: symbols, Start: start}
}

// Snapshots loads every stored day for every symbol and merges them into one
// chronological sequence.
func (s *StoreSource) Snapshots(ctx context.Context) ([]*domain.ChainSnapshot, error) {
	byTime := make(map[time.Time][]domain.Contract)

	for _, symbol := range s.Symbols {
		days, err := s.Store.ListDays(symbol)
		if err != nil {
			return nil, fmt.Errorf("listing days for %s: %w", symbol, err)
		}
		for _, day := range days {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			snaps, err := s.Store.ReadDay(symbol, day)
			if err != nil {
				return nil, err
			}
			for _, snap := range snaps {
				if !s.Start.IsZero() && snap.Time().Before(s.Start) {
					continue
				}
				byTime[snap.Time()] = append(byTime[snap.Time()], snap.Contracts()...)
			}
		}
	}

	times := make([]time.Time, 0, len(byTime))
	for t := range byTime {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	merged := make([]*domain.ChainSnapshot, 0, len(times))
	for _, t := range times {
		merged = append(merged, domain.NewChainSnapshot(t, byTime[t]))
	}
	return merged, nil
}
