package domain

// Position is the mutable per-identity aggregate of fills against one
// contract. Quantity is signed: positive long, negative short. Premiums
// holds one entry per unit (len(Premiums) == abs(Quantity)); each entry is
// the per-unit entry premium, always stored positive. TotalPremium carries
// the sign of Quantity.
type Position struct {
	Contract     Contract  `json:"contract"` // latest market data for the identity
	Quantity     int       `json:"quantity"`
	Premiums     []float64 `json:"premiums"`
	TotalPremium float64   `json:"total_premium"`
	AvgPrice     float64   `json:"avg_price"`
	MarkValue    float64   `json:"mark_value"`
	DailyPnL     float64   `json:"daily_pnl"`
}

// NewPosition opens a position from a filled order item. The entry premium
// per unit is the execution-time midpoint times the contract multiplier.
func NewPosition(item OrderItem) *Position {
	c := item.ExecutionContract()
	p := &Position{
		Contract: c,
		Quantity: item.Quantity,
	}
	premium := c.Mid() * Multiplier
	n := item.Quantity
	if n < 0 {
		n = -n
	}
	p.Premiums = make([]float64, 0, n)
	for i := 0; i < n; i++ {
		p.Premiums = append(p.Premiums, premium)
	}
	p.TotalPremium = premium * float64(item.Quantity)
	if item.Quantity != 0 {
		p.AvgPrice = premium
	}
	p.MarkValue = p.TotalPremium
	return p
}

// ApplyFill folds a filled order item for the same identity into the
// position. Additions append per-unit entry premiums at the execution mark;
// reductions consume entry premiums first-in first-out. A fill that crosses
// through zero closes the book and reopens the remainder at the fill price.
func (p *Position) ApplyFill(item OrderItem) {
	qty := item.Quantity
	if qty == 0 {
		return
	}
	premium := item.ExecutionContract().Mid() * Multiplier

	// Opposite-signed fill reduces the existing book first.
	for qty != 0 && p.Quantity != 0 && sign(qty) != sign(p.Quantity) {
		p.Premiums = p.Premiums[1:]
		p.Quantity -= sign(p.Quantity)
		qty -= sign(qty)
	}
	// Whatever remains extends (or reopens) in the fill's direction.
	for i := 0; i < abs(qty); i++ {
		p.Premiums = append(p.Premiums, premium)
	}
	p.Quantity += qty

	if p.Quantity == 0 {
		p.Premiums = nil
		p.TotalPremium = 0
		p.AvgPrice = 0
		p.MarkValue = 0
		p.DailyPnL = 0
		return
	}
	var sum float64
	for _, prem := range p.Premiums {
		sum += prem
	}
	p.TotalPremium = sum * float64(sign(p.Quantity))
	p.AvgPrice = sum / float64(abs(p.Quantity))
}

// Mark revalues the position against the latest market data for its
// identity. DailyPnL is the unrealized difference between mark value and
// entry premium.
func (p *Position) Mark(c Contract) {
	p.Contract = c
	p.MarkValue = c.Mid() * Multiplier * float64(p.Quantity)
	p.DailyPnL = p.MarkValue - p.TotalPremium
}

// Clone returns a deep copy, used for hypothetical projections.
func (p *Position) Clone() *Position {
	cp := *p
	cp.Premiums = make([]float64, len(p.Premiums))
	copy(cp.Premiums, p.Premiums)
	return &cp
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
