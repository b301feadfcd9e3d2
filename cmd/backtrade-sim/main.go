package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/7uyf/backtrade/internal/config"
	"github.com/7uyf/backtrade/internal/domain"
	"github.com/7uyf/backtrade/internal/ingest"
	"github.com/7uyf/backtrade/internal/sim"
	"github.com/7uyf/backtrade/internal/util"
)

// consoleObserver logs account and order events during a headless replay.
type consoleObserver struct {
	log *slog.Logger
}

func (o *consoleObserver) OnAccountUpdate(snap domain.AccountSnapshot) {
	o.log.Info("account",
		"time", snap.Time.Format(time.RFC3339),
		"netValue", snap.NetValue,
		"pnl", snap.AggregatePnL,
		"margin", snap.MaintenanceMargin,
		"positions", len(snap.Positions))
}

func (o *consoleObserver) OnMarginCall(snap domain.AccountSnapshot) {
	o.log.Warn("margin call",
		"netValue", snap.NetValue, "margin", snap.MaintenanceMargin)
}

func (o *consoleObserver) OnOrderCreated(order *domain.Order, _ []*domain.Order) {
	o.log.Info("order created", "order", order.ID, "kind", order.Kind)
}

func (o *consoleObserver) OnOrderFilled(order *domain.Order, _ []*domain.Order) {
	o.log.Info("order filled", "order", order.ID)
}

func (o *consoleObserver) OnOrderRejected(order *domain.Order, _ []*domain.Order) {
	o.log.Warn("order rejected", "order", order.ID)
}

func (o *consoleObserver) OnOrderCanceled(order *domain.Order, _ []*domain.Order) {
	o.log.Info("order canceled", "order", order.ID)
}

func main() {
	var (
		cfgPath = flag.String("config", "config/backtrade.yaml", "path to config file")
		symbols = flag.String("symbols", "SPX", "comma-separated symbols to replay")
		start   = flag.String("start", "", "replay start time (RFC3339), empty replays everything")
		capital = flag.Float64("capital", 0, "initial capital (0 uses the configured default)")
		speed   = flag.Float64("speed", 0, "playback speed (0 uses the configured default)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	interval, err := cfg.Simulation.Interval()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	var startTime time.Time
	if *start != "" {
		startTime, err = time.Parse(time.RFC3339, *start)
		if err != nil {
			log.Fatalf("parsing -start: %v", err)
		}
	}
	if *capital == 0 {
		*capital = cfg.Simulation.DefaultInitialCapital
	}
	if *speed == 0 {
		*speed = cfg.Simulation.DefaultPlaybackSpeed
	}

	simConfig := sim.Config{
		ID:             fmt.Sprintf("replay-%d", time.Now().Unix()),
		Kind:           "replay",
		StartTime:      startTime,
		InitialCapital: *capital,
		PlaybackSpeed:  *speed,
		Universe:       strings.Split(*symbols, ","),
	}
	if err := simConfig.Validate(); err != nil {
		log.Fatalf("invalid simulation: %v", err)
	}

	chains := ingest.NewChainStore(cfg.Storage.DataDir)
	source := ingest.NewStoreSource(chains, simConfig.Universe, startTime)

	s := sim.New(simConfig, source, interval, logger)
	watcher := &consoleObserver{log: logger}
	s.Account.RegisterObserver(watcher)
	s.Orders.RegisterObserver(watcher)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("replay error: %v", err)
	}

	final := s.Account.Snapshot()
	logger.Info("replay finished",
		"netValue", final.NetValue,
		"pnl", final.AggregatePnL,
		"orders", s.Orders.Book().Len())
}
