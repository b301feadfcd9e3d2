package sim

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/7uyf/backtrade/internal/domain"
	"github.com/7uyf/backtrade/internal/orders"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig() Config {
	return Config{
		ID:             "sim-1",
		OwnerID:        "user-1",
		Kind:           "replay",
		InitialCapital: 100_000,
		PlaybackSpeed:  1,
		Universe:       []string{"SPX"},
	}
}

func testContract(strike float64, right domain.Right, bid, ask float64) domain.Contract {
	return domain.Contract{
		Time:       time.Date(2016, 1, 4, 9, 31, 0, 0, time.UTC),
		Symbol:     "SPX",
		Expiration: time.Date(2016, 1, 22, 0, 0, 0, 0, time.UTC),
		Strike:     strike,
		Underlying: 152.6,
		Right:      right,
		Bid:        bid,
		Ask:        ask,
	}
}

// push delivers a snapshot in feed order: account first, order management
// second.
func push(s *Simulation, snap *domain.ChainSnapshot) {
	s.Account.OnMarketDataUpdate(snap)
	s.Orders.OnMarketDataUpdate(snap)
}

type sliceSource struct {
	snaps []*domain.ChainSnapshot
}

func (s *sliceSource) Snapshots(ctx context.Context) ([]*domain.ChainSnapshot, error) {
	return s.snaps, nil
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := testConfig()
	bad.InitialCapital = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero capital accepted")
	}

	bad = testConfig()
	bad.PlaybackSpeed = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("negative playback speed accepted")
	}

	bad = testConfig()
	bad.Universe = nil
	if err := bad.Validate(); err == nil {
		t.Fatal("empty universe accepted")
	}
}

// TestSimulationTradingSession replays a short session through a wired
// simulation: open and close a long call, get rejected on an oversized naked
// short, sell a single put, and watch a resting limit order fill when the
// market comes in.
func TestSimulationTradingSession(t *testing.T) {
	s := New(testConfig(), &sliceSource{}, time.Minute, testLogger())

	call := testContract(150, domain.Call, 2.45, 2.50)
	put := testContract(155, domain.Put, 2.45, 2.50)
	open := domain.NewChainSnapshot(call.Time, []domain.Contract{call, put})
	push(s, open)

	// Long one call at mid: 2.475 * 100 = 247.50.
	buy, ok := s.Orders.CreateMarketOrder([]orders.Leg{{Quantity: 1, Contract: call}})
	if !ok || buy.Status != domain.OrderStatusFilled {
		t.Fatalf("long call not filled: ok=%v order=%+v", ok, buy)
	}
	if got := s.Account.NetValue(); got != 100_000-247.5 {
		t.Fatalf("net value after buy = %v, want %v", got, 100_000-247.5)
	}

	// Close it at the same quote: back to flat, back to initial capital.
	sell, ok := s.Orders.CreateMarketOrder([]orders.Leg{{Quantity: -1, Contract: call}})
	if !ok || sell.Status != domain.OrderStatusFilled {
		t.Fatalf("closing order not filled: ok=%v order=%+v", ok, sell)
	}
	if snap := s.Account.Snapshot(); len(snap.Positions) != 0 {
		t.Fatalf("positions after close = %d, want 0", len(snap.Positions))
	}
	if got := s.Account.NetValue(); got != 100_000 {
		t.Fatalf("net value after round trip = %v, want 100000", got)
	}

	// Three naked short puts need 132,000 of margin against ~100,742 of
	// hypothetical net value: rejected.
	short3, ok := s.Orders.CreateMarketOrder([]orders.Leg{{Quantity: -3, Contract: put}})
	if ok || short3.Status != domain.OrderStatusRejected {
		t.Fatalf("oversized short not rejected: ok=%v order=%+v", ok, short3)
	}

	// One naked short put fits.
	short1, ok := s.Orders.CreateMarketOrder([]orders.Leg{{Quantity: -1, Contract: put}})
	if !ok || short1.Status != domain.OrderStatusFilled {
		t.Fatalf("single short put not filled: ok=%v order=%+v", ok, short1)
	}
	if got := s.Account.NetValue(); got != 100_247.5 {
		t.Fatalf("net value after short sale = %v, want 100247.5", got)
	}

	// A limit buy below the market rests.
	limit, ok := s.Orders.CreateLimitOrder([]orders.Leg{{Quantity: 1, Contract: call}}, 1.00)
	if !ok || limit.Status != domain.OrderStatusPending {
		t.Fatalf("limit order not pending: ok=%v order=%+v", ok, limit)
	}
	if got := len(s.Orders.PendingLimits()); got != 1 {
		t.Fatalf("pending limits = %d, want 1", got)
	}

	// The call offer drops through the limit price: the next snapshot fills
	// it at mid 0.875 * 100 = 87.50.
	cheaper := call
	cheaper.Bid, cheaper.Ask = 0.85, 0.90
	push(s, domain.NewChainSnapshot(call.Time.Add(time.Minute), []domain.Contract{cheaper, put}))

	if limit.Status != domain.OrderStatusFilled {
		t.Fatalf("limit order status = %s, want filled", limit.Status)
	}
	if got := len(s.Orders.PendingLimits()); got != 0 {
		t.Fatalf("pending limits after fill = %d, want 0", got)
	}
	if got := s.Account.NetValue(); got != 100_247.5-87.5 {
		t.Fatalf("net value after limit fill = %v, want %v", got, 100_247.5-87.5)
	}
}

func TestSimulationRunDeliversSnapshots(t *testing.T) {
	c := testContract(150, domain.Call, 2.45, 2.50)
	var snaps []*domain.ChainSnapshot
	for i := range 3 {
		snaps = append(snaps, domain.NewChainSnapshot(c.Time.Add(time.Duration(i)*time.Minute), []domain.Contract{c}))
	}

	cfg := testConfig()
	cfg.PlaybackSpeed = 100_000
	s := New(cfg, &sliceSource{snaps: snaps}, time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := s.Account.Snapshot().Time; !got.Equal(snaps[2].Time()) {
		t.Fatalf("account snapshot time = %v, want %v", got, snaps[2].Time())
	}
}
