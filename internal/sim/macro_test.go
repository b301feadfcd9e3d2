package sim

import (
	"testing"
	"time"

	"github.com/7uyf/backtrade/internal/domain"
	"github.com/7uyf/backtrade/internal/orders"
)

func greekContract(strike float64, right domain.Right, delta, gamma float64) domain.Contract {
	c := testContract(strike, right, 2.45, 2.50)
	c.Delta = delta
	c.Gamma = gamma
	return c
}

// macroChain covers the strikes around the 152.60 underlying, whose nearest
// five-point strike is 155.
func macroChain() []domain.Contract {
	return []domain.Contract{
		greekContract(150, domain.Call, 0.60, 0.03),
		greekContract(150, domain.Put, -0.40, 0.03),
		greekContract(155, domain.Call, 0.50, 0.04),
		greekContract(155, domain.Put, -0.50, 0.04),
		greekContract(160, domain.Call, 0.30, 0.03),
		greekContract(160, domain.Put, -0.70, 0.03),
	}
}

func macroSim(t *testing.T) (*Simulation, *Macro, *domain.ChainSnapshot) {
	t.Helper()
	s := New(testConfig(), &sliceSource{}, time.Minute, testLogger())
	snap := domain.NewChainSnapshot(time.Date(2016, 1, 4, 9, 31, 0, 0, time.UTC), macroChain())
	push(s, snap)
	return s, s.Macro(), snap
}

func positionQty(t *testing.T, s *Simulation, strike float64, right domain.Right) int {
	t.Helper()
	for _, pos := range s.Account.Snapshot().Positions {
		if pos.Contract.Strike == strike && pos.Contract.Right == right {
			return pos.Quantity
		}
	}
	return 0
}

func TestExitAllPositions(t *testing.T) {
	s, m, snap := macroSim(t)

	chain := snap.Contracts()
	if _, ok := s.Orders.CreateMarketOrder([]orders.Leg{{Quantity: 2, Contract: chain[0]}}); !ok {
		t.Fatal("opening order failed")
	}
	if _, ok := s.Orders.CreateMarketOrder([]orders.Leg{{Quantity: -1, Contract: chain[3]}}); !ok {
		t.Fatal("opening order failed")
	}

	if !m.ExitAllPositions() {
		t.Fatal("ExitAllPositions returned false")
	}
	if got := len(s.Account.Snapshot().Positions); got != 0 {
		t.Fatalf("positions after exit = %d, want 0", got)
	}
}

func TestExitAllPositionsEmptyBook(t *testing.T) {
	_, m, _ := macroSim(t)
	if m.ExitAllPositions() {
		t.Fatal("ExitAllPositions succeeded with no positions")
	}
}

func TestEnterStraddleByQuantity(t *testing.T) {
	s, m, snap := macroSim(t)

	if !m.EnterStraddle(snap, "Buy", 0, 2, nil) {
		t.Fatal("EnterStraddle returned false")
	}
	if got := positionQty(t, s, 155, domain.Call); got != 2 {
		t.Fatalf("call leg quantity = %d, want 2", got)
	}
	if got := positionQty(t, s, 155, domain.Put); got != 2 {
		t.Fatalf("put leg quantity = %d, want 2", got)
	}
}

func TestEnterStraddleOffset(t *testing.T) {
	s, m, snap := macroSim(t)

	if !m.EnterStraddle(snap, "Buy", -5, 1, nil) {
		t.Fatal("EnterStraddle returned false")
	}
	if got := positionQty(t, s, 150, domain.Call); got != 1 {
		t.Fatalf("call leg quantity = %d, want 1", got)
	}
	if got := positionQty(t, s, 150, domain.Put); got != 1 {
		t.Fatalf("put leg quantity = %d, want 1", got)
	}
}

func TestEnterStraddleByGamma(t *testing.T) {
	s, m, snap := macroSim(t)

	// The 155 straddle carries 0.08 of gamma per contract pair, so a 0.08
	// target sells one of each.
	target := 0.08
	if !m.EnterStraddle(snap, "Sell", 0, 0, &target) {
		t.Fatal("EnterStraddle returned false")
	}
	if got := positionQty(t, s, 155, domain.Call); got != -1 {
		t.Fatalf("call leg quantity = %d, want -1", got)
	}
	if got := positionQty(t, s, 155, domain.Put); got != -1 {
		t.Fatalf("put leg quantity = %d, want -1", got)
	}
}

func TestEnterStraddleValidation(t *testing.T) {
	_, m, snap := macroSim(t)
	target := 0.08

	if m.EnterStraddle(snap, "Hold", 0, 1, nil) {
		t.Fatal("invalid action accepted")
	}
	if m.EnterStraddle(snap, "Buy", 0, 0, nil) {
		t.Fatal("missing sizing accepted")
	}
	if m.EnterStraddle(snap, "Buy", 0, 1, &target) {
		t.Fatal("both quantity and gamma accepted")
	}
	if m.EnterStraddle(snap, "Buy", 40, 1, nil) {
		t.Fatal("offset without a listed straddle accepted")
	}
}

func TestHedgeDeltaBuysOffsettingPuts(t *testing.T) {
	s, m, snap := macroSim(t)

	// Two long 155 calls carry +1.0 of delta. Hedging all of it with
	// 50-delta puts buys two of the -0.50 puts at the same strike.
	chain := snap.Contracts()
	var atmCall domain.Contract
	for _, c := range chain {
		if c.Strike == 155 && c.Right == domain.Call {
			atmCall = c
		}
	}
	if _, ok := s.Orders.CreateMarketOrder([]orders.Leg{{Quantity: 2, Contract: atmCall}}); !ok {
		t.Fatal("opening order failed")
	}

	if !m.HedgeDelta(snap, "Buy", 100, 50) {
		t.Fatal("HedgeDelta returned false")
	}
	if got := positionQty(t, s, 155, domain.Put); got != 2 {
		t.Fatalf("hedge put quantity = %d, want 2", got)
	}
}

func TestHedgeDeltaPartialPercentage(t *testing.T) {
	s, m, snap := macroSim(t)

	chain := snap.Contracts()
	var atmCall domain.Contract
	for _, c := range chain {
		if c.Strike == 155 && c.Right == domain.Call {
			atmCall = c
		}
	}
	if _, ok := s.Orders.CreateMarketOrder([]orders.Leg{{Quantity: 4, Contract: atmCall}}); !ok {
		t.Fatal("opening order failed")
	}

	// 50% of +2.0 delta hedged with 30-delta puts: the -0.30 strike is not
	// listed, so the closest is the -0.40 put at 150, and 1.0/0.40 floors
	// to two contracts.
	if !m.HedgeDelta(snap, "Buy", 50, 30) {
		t.Fatal("HedgeDelta returned false")
	}
	if got := positionQty(t, s, 150, domain.Put); got != 2 {
		t.Fatalf("hedge put quantity = %d, want 2", got)
	}
}

func TestResizeByGammaAddsStraddle(t *testing.T) {
	s, m, snap := macroSim(t)

	// Two long 155 calls carry 0.08 of gamma; doubling it adds one
	// at-the-money straddle (0.08 of gamma per pair).
	chain := snap.Contracts()
	var atmCall domain.Contract
	for _, c := range chain {
		if c.Strike == 155 && c.Right == domain.Call {
			atmCall = c
		}
	}
	if _, ok := s.Orders.CreateMarketOrder([]orders.Leg{{Quantity: 2, Contract: atmCall}}); !ok {
		t.Fatal("opening order failed")
	}

	if !m.ResizeByGamma(snap, 100) {
		t.Fatal("ResizeByGamma returned false")
	}
	if got := positionQty(t, s, 155, domain.Call); got != 3 {
		t.Fatalf("call quantity = %d, want 3", got)
	}
	if got := positionQty(t, s, 155, domain.Put); got != 1 {
		t.Fatalf("put quantity = %d, want 1", got)
	}
}

func TestResizeByGammaScalesShortBook(t *testing.T) {
	s, m, snap := macroSim(t)

	chain := snap.Contracts()
	var atmPut domain.Contract
	for _, c := range chain {
		if c.Strike == 155 && c.Right == domain.Put {
			atmPut = c
		}
	}
	if _, ok := s.Orders.CreateMarketOrder([]orders.Leg{{Quantity: -1, Contract: atmPut}}); !ok {
		t.Fatal("opening order failed")
	}

	// A short book has -0.04 of gamma; scaling by 100% sells one straddle.
	if !m.ResizeByGamma(snap, 100) {
		t.Fatal("ResizeByGamma returned false")
	}
	if got := positionQty(t, s, 155, domain.Call); got != -1 {
		t.Fatalf("call quantity = %d, want -1", got)
	}
	if got := positionQty(t, s, 155, domain.Put); got != -2 {
		t.Fatalf("put quantity = %d, want -2", got)
	}
}

func TestResizeByGammaValidation(t *testing.T) {
	_, m, snap := macroSim(t)

	if m.ResizeByGamma(snap, 0) {
		t.Fatal("zero percentage accepted")
	}
	if m.ResizeByGamma(snap, -50) {
		t.Fatal("negative percentage accepted")
	}
	// A flat book has no gamma to scale.
	if m.ResizeByGamma(snap, 100) {
		t.Fatal("resize of a flat book accepted")
	}
}

func TestHedgeDeltaValidation(t *testing.T) {
	_, m, snap := macroSim(t)

	if m.HedgeDelta(snap, "Hold", 100, 50) {
		t.Fatal("invalid action accepted")
	}
	if m.HedgeDelta(snap, "Buy", 25, 50) {
		t.Fatal("invalid portfolio percentage accepted")
	}
	if m.HedgeDelta(snap, "Buy", 100, 45) {
		t.Fatal("invalid option delta target accepted")
	}
	// A flat book has nothing to hedge.
	if m.HedgeDelta(snap, "Buy", 100, 50) {
		t.Fatal("hedge of a flat book accepted")
	}
}
