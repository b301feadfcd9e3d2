// Package domain defines the core value types shared across the backtrade
// engine: option contracts, chain snapshots, positions, orders, and account
// read models.
package domain

import (
	"fmt"
	"time"
)

// Multiplier is the standard option contract multiplier: one contract
// controls 100 units of the underlying. All premium and valuation math
// applies it consistently.
const Multiplier = 100.0

// Right distinguishes calls from puts.
type Right string

const (
	Call Right = "C"
	Put  Right = "P"
)

// ContractKey uniquely identifies an option regardless of time: two quote
// records with the same key are the same contract observed at different
// instants. Expiration is an ISO date (YYYY-MM-DD) so keys are comparable
// and sort chronologically as strings.
type ContractKey struct {
	Symbol     string  `json:"symbol"`
	Expiration string  `json:"expiration"`
	Strike     float64 `json:"strike"`
	Right      Right   `json:"right"`
}

// String renders the key in a compact human-readable form.
func (k ContractKey) String() string {
	return fmt.Sprintf("%s %s %g%s", k.Symbol, k.Expiration, k.Strike, k.Right)
}

// Contract is an immutable snapshot of a single option's quote and greeks at
// one instant. Identity is the (symbol, expiration, strike, right) tuple;
// price fields are time-varying and excluded from identity.
type Contract struct {
	Time       time.Time `json:"time"`
	Symbol     string    `json:"symbol"`
	Expiration time.Time `json:"expiration"`
	Strike     float64   `json:"strike"`
	Underlying float64   `json:"underlying"`
	Right      Right     `json:"right"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	IV         float64   `json:"iv"`
	Delta      float64   `json:"delta"`
	Gamma      float64   `json:"gamma"`
	Theta      float64   `json:"theta"`
	Vega       float64   `json:"vega"`
}

// Key returns the contract's identity.
func (c Contract) Key() ContractKey {
	return ContractKey{
		Symbol:     c.Symbol,
		Expiration: c.Expiration.Format("2006-01-02"),
		Strike:     c.Strike,
		Right:      c.Right,
	}
}

// Mid returns the bid/ask midpoint, the mark price used for valuation.
func (c Contract) Mid() float64 {
	return (c.Bid + c.Ask) / 2
}

// SameContract reports whether two records share an identity.
func (c Contract) SameContract(other Contract) bool {
	return c.Key() == other.Key()
}

// ChainSnapshot is all contracts for one universe at a single as-of time,
// indexed by identity. It is immutable once constructed.
type ChainSnapshot struct {
	time      time.Time
	contracts []Contract
	byKey     map[ContractKey]int
}

// NewChainSnapshot builds a snapshot from the given contracts. When the same
// identity appears more than once the last record wins. The contract slice
// is copied; callers may reuse theirs.
func NewChainSnapshot(t time.Time, contracts []Contract) *ChainSnapshot {
	s := &ChainSnapshot{
		time:  t,
		byKey: make(map[ContractKey]int, len(contracts)),
	}
	for _, c := range contracts {
		key := c.Key()
		if i, ok := s.byKey[key]; ok {
			s.contracts[i] = c
			continue
		}
		s.byKey[key] = len(s.contracts)
		s.contracts = append(s.contracts, c)
	}
	return s
}

// Time returns the snapshot's as-of timestamp.
func (s *ChainSnapshot) Time() time.Time {
	return s.time
}

// Lookup returns the contract with the given identity, if present.
func (s *ChainSnapshot) Lookup(key ContractKey) (Contract, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return Contract{}, false
	}
	return s.contracts[i], true
}

// Contracts returns the snapshot's contracts in insertion order. The
// returned slice is a copy.
func (s *ChainSnapshot) Contracts() []Contract {
	out := make([]Contract, len(s.contracts))
	copy(out, s.contracts)
	return out
}

// Len returns the number of distinct contracts in the snapshot.
func (s *ChainSnapshot) Len() int {
	return len(s.contracts)
}
