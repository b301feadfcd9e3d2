// Package sim wires the market data feed, account service, and order
// management service into a simulation instance, and manages the registry of
// live simulations.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/7uyf/backtrade/internal/account"
	"github.com/7uyf/backtrade/internal/feed"
	"github.com/7uyf/backtrade/internal/orders"
)

// Config describes one simulation: ownership, funding, pacing, and the
// universe of chain data files to replay.
type Config struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Kind           string    `json:"kind"`
	StartTime      time.Time `json:"start_time"`
	InitialCapital float64   `json:"initial_capital"`
	PlaybackSpeed  float64   `json:"playback_speed"`
	Universe       []string  `json:"universe"`
}

// Validate checks the fields a simulation cannot run without.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %v", c.InitialCapital)
	}
	if c.PlaybackSpeed < 0 {
		return fmt.Errorf("playback speed must not be negative, got %v", c.PlaybackSpeed)
	}
	if len(c.Universe) == 0 {
		return fmt.Errorf("universe selection is empty")
	}
	return nil
}

// Simulation is the composition root for one simulated account: a feed
// replaying market data into the account service and the order management
// service, in that order. The account must mark to market before order
// management re-evaluates pending limits against the same snapshot.
type Simulation struct {
	Config  Config
	Feed    *feed.Feed
	Account *account.Service
	Orders  *orders.Service

	log *slog.Logger
}

// New builds a simulation from its config and a snapshot source. The feed's
// base interval comes from baseInterval (feed.DefaultBaseInterval when zero).
func New(cfg Config, source feed.Source, baseInterval time.Duration, log *slog.Logger) *Simulation {
	log = log.With("simulation", cfg.ID)
	f := feed.New(source, baseInterval, cfg.PlaybackSpeed, log)
	acct := account.NewService(cfg.InitialCapital, log)
	oms := orders.NewService(acct, log)

	// The account must observe each snapshot before order management does.
	f.RegisterObserver(acct)
	f.RegisterObserver(oms)

	return &Simulation{
		Config:  cfg,
		Feed:    f,
		Account: acct,
		Orders:  oms,
		log:     log,
	}
}

// Run initializes the feed and replays it to completion or cancellation.
func (s *Simulation) Run(ctx context.Context) error {
	if err := s.Feed.Init(ctx); err != nil {
		return fmt.Errorf("simulation %s: %w", s.Config.ID, err)
	}
	return s.Feed.Run(ctx)
}
