// Package margin computes the worst-case maintenance margin for a set of
// option positions using vertical-spread netting. Puts and calls are netted
// independently; the requirement is the larger of the two totals.
package margin

import (
	"sort"

	"github.com/7uyf/backtrade/internal/domain"
)

// UnmatchedShortPenalty is the conservative charge for a short leg with no
// qualifying long to pair against: the full multiplier times a fixed 440
// reference width.
const UnmatchedShortPenalty = domain.Multiplier * 440

// leg is one contract unit with its entry premium.
type leg struct {
	contract domain.Contract
	premium  float64
}

// Requirement returns the maintenance margin for the given position set.
//
// Each position is decomposed into per-unit (contract, entry premium) legs,
// partitioned long/short and put/call. Within a side, short legs are matched
// greedily against the earliest-expiring unmatched long leg whose expiration
// does not exceed the short's; spreads contribute a capped or debit amount,
// unmatched shorts the fixed penalty, and never-consumed longs their own
// premium. Reservation decisions depend on this number exactly as computed,
// so the matching order and constants must not change.
func Requirement(positions map[domain.ContractKey]*domain.Position) float64 {
	var longPuts, shortPuts, longCalls, shortCalls []leg

	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		for _, premium := range p.Premiums {
			l := leg{contract: p.Contract, premium: premium}
			switch {
			case p.Contract.Right == domain.Put && p.Quantity > 0:
				longPuts = append(longPuts, l)
			case p.Contract.Right == domain.Put:
				shortPuts = append(shortPuts, l)
			case p.Quantity > 0:
				longCalls = append(longCalls, l)
			default:
				shortCalls = append(shortCalls, l)
			}
		}
	}

	sortLegs(longPuts)
	sortLegs(shortPuts)
	sortLegs(longCalls)
	sortLegs(shortCalls)

	putMargin := sideMargin(shortPuts, longPuts, putSpread)
	callMargin := sideMargin(shortCalls, longCalls, callSpread)

	if putMargin > callMargin {
		return putMargin
	}
	return callMargin
}

// sortLegs orders legs by expiration ascending so earlier expirations match
// first. Strike then symbol break ties to keep the scan deterministic.
func sortLegs(legs []leg) {
	sort.SliceStable(legs, func(i, j int) bool {
		a, b := legs[i].contract, legs[j].contract
		if !a.Expiration.Equal(b.Expiration) {
			return a.Expiration.Before(b.Expiration)
		}
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		return a.Symbol < b.Symbol
	})
}

// sideMargin runs the first-fit matching scan for one side. Each long leg is
// consumable at most once.
func sideMargin(shorts, longs []leg, spread func(short, long leg) float64) float64 {
	var total float64
	consumed := make([]bool, len(longs))

	for _, s := range shorts {
		matched := false
		for i, l := range longs {
			if consumed[i] {
				continue
			}
			if l.contract.Expiration.After(s.contract.Expiration) {
				continue
			}
			total += spread(s, l)
			consumed[i] = true
			matched = true
			break
		}
		if !matched {
			total += UnmatchedShortPenalty
		}
	}

	// Longs never consumed owe nothing beyond the capital already spent.
	for i, l := range longs {
		if !consumed[i] {
			total += l.premium
		}
	}
	return total
}

// putSpread prices a short put against a matched long put. A short strike at
// or above the long strike is a credit spread capped at the strike width; a
// lower short strike is a debit spread paying both premiums.
func putSpread(short, long leg) float64 {
	if short.contract.Strike >= long.contract.Strike {
		width := (short.contract.Strike - long.contract.Strike) * domain.Multiplier
		return width - (short.premium + long.premium)
	}
	return long.premium + short.premium
}

// callSpread prices a short call against a matched long call. A long strike
// strictly above the short strike is a credit spread capped at the strike
// width; otherwise the long covers the short and only the premium difference
// remains.
func callSpread(short, long leg) float64 {
	if long.contract.Strike > short.contract.Strike {
		width := (long.contract.Strike - short.contract.Strike) * domain.Multiplier
		return width - (short.premium + long.premium)
	}
	return long.premium - short.premium
}
