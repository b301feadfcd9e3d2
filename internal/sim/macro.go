package sim

import (
	"log/slog"
	"math"

	"github.com/7uyf/backtrade/internal/domain"
	"github.com/7uyf/backtrade/internal/orders"
)

// Macro bundles multi-leg trading shortcuts built on top of the order saga:
// flattening the book, straddle entries, and delta hedges. Each command
// validates its inputs and reports whether a saga was started; the saga
// itself may still reject the order on funding.
type Macro struct {
	account AccountView
	orders  *orders.Service
	log     *slog.Logger
}

// AccountView is the read surface macros need from the account service.
type AccountView interface {
	Snapshot() domain.AccountSnapshot
}

// NewMacro creates a macro command library over the given services.
func NewMacro(account AccountView, orderSvc *orders.Service, log *slog.Logger) *Macro {
	return &Macro{account: account, orders: orderSvc, log: log}
}

// Macro returns the simulation's macro command library.
func (s *Simulation) Macro() *Macro {
	return NewMacro(s.Account, s.Orders, s.log)
}

// ExitAllPositions places one market order that offsets every open position.
func (m *Macro) ExitAllPositions() bool {
	snap := m.account.Snapshot()
	if len(snap.Positions) == 0 {
		m.log.Warn("no positions to exit")
		return false
	}

	legs := make([]orders.Leg, 0, len(snap.Positions))
	for _, pos := range snap.Positions {
		legs = append(legs, orders.Leg{Quantity: -pos.Quantity, Contract: pos.Contract})
	}
	_, ok := m.orders.CreateMarketOrder(legs)
	return ok
}

// EnterStraddle buys or sells a call/put pair at the at-the-money strike
// shifted by offset. Exactly one of quantity or gamma must be provided;
// a gamma target is converted to a contract count using the straddle's
// combined gamma.
func (m *Macro) EnterStraddle(snapshot *domain.ChainSnapshot, action string, offset float64, quantity int, gamma *float64) bool {
	if action != "Buy" && action != "Sell" {
		m.log.Error("invalid straddle action", "action", action)
		return false
	}
	if (quantity == 0) == (gamma == nil) {
		m.log.Error("exactly one of quantity or gamma must be provided")
		return false
	}

	contracts := snapshot.Contracts()
	if len(contracts) == 0 {
		m.log.Error("empty snapshot")
		return false
	}

	strike := closestStrike(contracts[0].Underlying, 5) + offset
	call, put, ok := straddleAt(contracts, strike)
	if !ok {
		m.log.Error("straddle offset out of bounds", "strike", strike)
		return false
	}

	if gamma != nil {
		total := call.Gamma + put.Gamma
		if total == 0 {
			m.log.Error("straddle has no gamma", "strike", strike)
			return false
		}
		quantity = int(math.Round(*gamma / total))
	}
	if quantity <= 0 {
		m.log.Error("straddle quantity must be positive", "quantity", quantity)
		return false
	}
	if action == "Sell" {
		quantity = -quantity
	}

	_, ok = m.orders.CreateMarketOrder([]orders.Leg{
		{Quantity: quantity, Contract: call},
		{Quantity: quantity, Contract: put},
	})
	return ok
}

// HedgeDelta offsets a fraction of the portfolio's delta using the option
// whose delta magnitude is closest to the requested target. pctDelta must be
// one of 33, 50, 100 and targetDelta one of 20, 30, 50 (delta in percent).
func (m *Macro) HedgeDelta(snapshot *domain.ChainSnapshot, action string, pctDelta, targetDelta int) bool {
	if action != "Buy" && action != "Sell" {
		m.log.Error("invalid hedge action", "action", action)
		return false
	}
	if pctDelta != 33 && pctDelta != 50 && pctDelta != 100 {
		m.log.Error("invalid portfolio delta percentage", "pct", pctDelta)
		return false
	}
	if targetDelta != 20 && targetDelta != 30 && targetDelta != 50 {
		m.log.Error("invalid option delta target", "target", targetDelta)
		return false
	}

	portfolioDelta := m.account.Snapshot().Greeks.Delta
	deltaToHedge := portfolioDelta * float64(pctDelta) / 100

	// Hedging long delta means buying puts or selling calls, and vice versa.
	var right domain.Right
	if portfolioDelta > 0 {
		right = domain.Put
		if action == "Sell" {
			right = domain.Call
		}
	} else {
		right = domain.Call
		if action == "Sell" {
			right = domain.Put
		}
	}

	target := float64(targetDelta) / 100
	var closest *domain.Contract
	closestDiff := math.Inf(1)
	for _, c := range snapshot.Contracts() {
		if c.Right != right {
			continue
		}
		diff := math.Abs(math.Abs(c.Delta) - target)
		if diff < closestDiff {
			closestDiff = diff
			cc := c
			closest = &cc
		}
	}
	if closest == nil || closest.Delta == 0 {
		m.log.Warn("no suitable option found for hedging")
		return false
	}

	quantity := int(math.Abs(deltaToHedge) / math.Abs(closest.Delta))
	if quantity == 0 {
		m.log.Warn("hedge rounds to zero contracts", "deltaToHedge", deltaToHedge)
		return false
	}
	if action == "Sell" {
		quantity = -quantity
	}

	_, ok := m.orders.CreateMarketOrder([]orders.Leg{{Quantity: quantity, Contract: *closest}})
	return ok
}

// ResizeByGamma scales the portfolio's gamma exposure by pctGamma percent,
// adding an at-the-money straddle sized to the gamma increase. A short-gamma
// book is scaled with short straddles: the added quantity carries the
// portfolio gamma's sign.
func (m *Macro) ResizeByGamma(snapshot *domain.ChainSnapshot, pctGamma float64) bool {
	if pctGamma <= 0 {
		m.log.Error("gamma percentage must be positive", "pct", pctGamma)
		return false
	}

	contracts := snapshot.Contracts()
	if len(contracts) == 0 {
		m.log.Error("empty snapshot")
		return false
	}

	strike := closestStrike(contracts[0].Underlying, 5)
	call, put, ok := straddleAt(contracts, strike)
	if !ok {
		m.log.Error("no at-the-money straddle listed", "strike", strike)
		return false
	}

	straddleGamma := call.Gamma + put.Gamma
	if straddleGamma == 0 {
		m.log.Error("straddle has no gamma", "strike", strike)
		return false
	}

	gammaToAdd := m.account.Snapshot().Greeks.Gamma * pctGamma / 100
	quantity := int(math.Round(gammaToAdd / straddleGamma))
	if quantity == 0 {
		m.log.Warn("gamma increase rounds to zero contracts", "gammaToAdd", gammaToAdd)
		return false
	}

	_, ok = m.orders.CreateMarketOrder([]orders.Leg{
		{Quantity: quantity, Contract: call},
		{Quantity: quantity, Contract: put},
	})
	return ok
}

// closestStrike rounds price to the nearest multiple of step.
func closestStrike(price, step float64) float64 {
	return math.Round(price/step) * step
}

// straddleAt finds the call and put at the given strike, preferring the
// earliest expiration when several are listed.
func straddleAt(contracts []domain.Contract, strike float64) (call, put domain.Contract, ok bool) {
	var haveCall, havePut bool
	for _, c := range contracts {
		if c.Strike != strike {
			continue
		}
		switch c.Right {
		case domain.Call:
			if !haveCall || c.Expiration.Before(call.Expiration) {
				call, haveCall = c, true
			}
		case domain.Put:
			if !havePut || c.Expiration.Before(put.Expiration) {
				put, havePut = c, true
			}
		}
	}
	return call, put, haveCall && havePut
}
