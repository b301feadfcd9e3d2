// Package account owns the portfolio, margin bookkeeping, and the
// reserve/approve/release funding protocol that order sagas run through.
package account

import (
	"github.com/7uyf/backtrade/internal/domain"
)

// Portfolio is the mutable mapping from contract identity to position.
type Portfolio struct {
	positions map[domain.ContractKey]*domain.Position
}

// NewPortfolio creates an empty portfolio.
func NewPortfolio() *Portfolio {
	return &Portfolio{positions: make(map[domain.ContractKey]*domain.Position)}
}

// Positions returns the live position map. Callers must hold the owning
// service's lock; mutations flow through ApplyFill/Mark on the values.
func (p *Portfolio) Positions() map[domain.ContractKey]*domain.Position {
	return p.positions
}

// Len returns the number of open identities.
func (p *Portfolio) Len() int {
	return len(p.positions)
}

// MarkToMarket revalues every position against the snapshot by identity
// lookup. Identities absent from the snapshot keep their previous mark.
func (p *Portfolio) MarkToMarket(snapshot *domain.ChainSnapshot) {
	for key, pos := range p.positions {
		if c, ok := snapshot.Lookup(key); ok {
			pos.Mark(c)
		}
	}
}

// AggregatePnL sums the latest daily P&L across all positions.
func (p *Portfolio) AggregatePnL() float64 {
	var pnl float64
	for _, pos := range p.positions {
		pnl += pos.DailyPnL
	}
	return pnl
}

// AggregateGreeks sums position-weighted greeks across all positions.
func (p *Portfolio) AggregateGreeks() domain.Greeks {
	var g domain.Greeks
	for _, pos := range p.positions {
		qty := float64(pos.Quantity)
		g.Delta += pos.Contract.Delta * qty
		g.Gamma += pos.Contract.Gamma * qty
		g.Theta += pos.Contract.Theta * qty
		g.Vega += pos.Contract.Vega * qty
	}
	return g
}

// Value sums the latest mark value across all positions.
func (p *Portfolio) Value() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.MarkValue
	}
	return total
}

// Clone deep-copies the position map for hypothetical projections.
func (p *Portfolio) Clone() map[domain.ContractKey]*domain.Position {
	out := make(map[domain.ContractKey]*domain.Position, len(p.positions))
	for key, pos := range p.positions {
		out[key] = pos.Clone()
	}
	return out
}

// SetPositions replaces the live map, pruning identities whose quantity
// settled to zero.
func (p *Portfolio) SetPositions(positions map[domain.ContractKey]*domain.Position) {
	for key, pos := range positions {
		if pos.Quantity == 0 {
			delete(positions, key)
		}
	}
	p.positions = positions
}

// PositionList returns value copies of all positions for read models.
func (p *Portfolio) PositionList() []domain.Position {
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos.Clone())
	}
	return out
}
