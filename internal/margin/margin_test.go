package margin

import (
	"testing"
	"time"

	"github.com/7uyf/backtrade/internal/domain"
)

func contract(strike float64, right domain.Right, exp time.Time) domain.Contract {
	return domain.Contract{
		Time:       time.Date(2016, 1, 12, 9, 30, 0, 0, time.UTC),
		Symbol:     "SPX",
		Expiration: exp,
		Strike:     strike,
		Right:      right,
		Bid:        2.45,
		Ask:        2.50,
	}
}

func position(qty int, c domain.Contract, premium float64) *domain.Position {
	p := &domain.Position{Contract: c, Quantity: qty}
	for i := 0; i < absInt(qty); i++ {
		p.Premiums = append(p.Premiums, premium)
	}
	p.TotalPremium = premium * float64(qty)
	if qty != 0 {
		p.AvgPrice = premium
	}
	return p
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func positionSet(positions ...*domain.Position) map[domain.ContractKey]*domain.Position {
	m := make(map[domain.ContractKey]*domain.Position, len(positions))
	for _, p := range positions {
		m[p.Contract.Key()] = p
	}
	return m
}

var exp = time.Date(2016, 1, 22, 0, 0, 0, 0, time.UTC)

func TestRequirementEmpty(t *testing.T) {
	if got := Requirement(nil); got != 0 {
		t.Errorf("Requirement(nil) = %v, want 0", got)
	}
	if got := Requirement(positionSet()); got != 0 {
		t.Errorf("Requirement(empty) = %v, want 0", got)
	}
}

func TestRequirementNakedShort(t *testing.T) {
	short := position(-1, contract(155, domain.Put, exp), 247.5)
	if got := Requirement(positionSet(short)); got != UnmatchedShortPenalty {
		t.Errorf("naked short margin = %v, want %v", got, UnmatchedShortPenalty)
	}

	// Each uncovered unit adds the full penalty.
	short3 := position(-3, contract(155, domain.Put, exp), 247.5)
	if got := Requirement(positionSet(short3)); got != 3*UnmatchedShortPenalty {
		t.Errorf("3-lot naked short margin = %v, want %v", got, 3*UnmatchedShortPenalty)
	}
}

func TestRequirementLongOnly(t *testing.T) {
	long := position(2, contract(150, domain.Call, exp), 247.5)
	if got := Requirement(positionSet(long)); got != 495 {
		t.Errorf("long-only margin = %v, want 495", got)
	}
}

func TestRequirementPutCreditSpread(t *testing.T) {
	// Short 155 put / long 150 put: width 5 * 100 minus combined premium.
	short := position(-1, contract(155, domain.Put, exp), 247.5)
	long := position(1, contract(150, domain.Put, exp), 100)

	want := (155-150)*domain.Multiplier - (247.5 + 100)
	if got := Requirement(positionSet(short, long)); got != want {
		t.Errorf("put credit spread margin = %v, want %v", got, want)
	}
}

func TestRequirementPutDebitSpread(t *testing.T) {
	// Short 150 put / long 155 put: combined premium owed.
	short := position(-1, contract(150, domain.Put, exp), 247.5)
	long := position(1, contract(155, domain.Put, exp), 100)

	want := 247.5 + 100.0
	if got := Requirement(positionSet(short, long)); got != want {
		t.Errorf("put debit spread margin = %v, want %v", got, want)
	}
}

func TestRequirementCallSpreads(t *testing.T) {
	// Credit: long strike above short strike.
	short := position(-1, contract(150, domain.Call, exp), 247.5)
	long := position(1, contract(160, domain.Call, exp), 100)
	want := (160-150)*domain.Multiplier - (247.5 + 100)
	if got := Requirement(positionSet(short, long)); got != want {
		t.Errorf("call credit spread margin = %v, want %v", got, want)
	}

	// Covered: long strike at or below short strike, premium difference.
	short2 := position(-1, contract(160, domain.Call, exp), 50)
	long2 := position(1, contract(150, domain.Call, exp), 247.5)
	want2 := 247.5 - 50.0
	if got := Requirement(positionSet(short2, long2)); got != want2 {
		t.Errorf("covered call margin = %v, want %v", got, want2)
	}
}

func TestRequirementLongExpirationMustNotExceedShort(t *testing.T) {
	laterExp := exp.AddDate(0, 1, 0)

	// The long expires after the short, so it cannot cover it: the short is
	// naked and the long contributes its premium.
	short := position(-1, contract(155, domain.Put, exp), 247.5)
	long := position(1, contract(150, domain.Put, laterExp), 100)

	want := UnmatchedShortPenalty + 100.0
	if got := Requirement(positionSet(short, long)); got != want {
		t.Errorf("margin = %v, want %v", got, want)
	}
}

func TestRequirementEarlierExpirationMatchedFirst(t *testing.T) {
	earlyExp := exp
	lateExp := exp.AddDate(0, 1, 0)
	shortExp := exp.AddDate(0, 2, 0)

	// Two candidate longs; the earlier expiration is consumed first.
	short := position(-1, contract(155, domain.Put, shortExp), 200)
	early := position(1, contract(150, domain.Put, earlyExp), 10)
	late := position(1, contract(150, domain.Put, lateExp), 90)

	// Spread with the early long, late long stays unconsumed.
	want := (155-150)*domain.Multiplier - (200 + 10) + 90
	if got := Requirement(positionSet(short, early, late)); got != want {
		t.Errorf("margin = %v, want %v", got, want)
	}
}

func TestRequirementTakesMaxOfSides(t *testing.T) {
	nakedPut := position(-1, contract(155, domain.Put, exp), 247.5)
	longCall := position(1, contract(150, domain.Call, exp), 300)

	// Put side dominates: penalty vs the call side's 300 premium.
	if got := Requirement(positionSet(nakedPut, longCall)); got != UnmatchedShortPenalty {
		t.Errorf("margin = %v, want %v", got, UnmatchedShortPenalty)
	}
}

func TestRequirementHedgeNeverIncreasesSideMargin(t *testing.T) {
	// Margin monotonicity: adding a fully-hedged long to a naked short must
	// not push the side's total above the unhedged case.
	short := position(-1, contract(155, domain.Put, exp), 247.5)
	unhedged := Requirement(positionSet(short))

	hedge := position(1, contract(155, domain.Put, exp), 247.5)
	hedged := Requirement(positionSet(short, hedge))

	if hedged > unhedged {
		t.Errorf("hedged margin %v exceeds unhedged %v", hedged, unhedged)
	}
}

func TestRequirementPerUnitMatching(t *testing.T) {
	// A 2-lot short against a 1-lot long: one unit spreads, one is naked.
	short := position(-2, contract(155, domain.Put, exp), 200)
	long := position(1, contract(150, domain.Put, exp), 100)

	want := (155-150)*domain.Multiplier - (200 + 100) + UnmatchedShortPenalty
	if got := Requirement(positionSet(short, long)); got != want {
		t.Errorf("margin = %v, want %v", got, want)
	}
}

func TestRequirementIgnoresFlatPositions(t *testing.T) {
	flat := &domain.Position{Contract: contract(150, domain.Put, exp)}
	if got := Requirement(positionSet(flat)); got != 0 {
		t.Errorf("flat position margin = %v, want 0", got)
	}
}
