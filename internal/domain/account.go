package domain

import "time"

// Greeks aggregates position-weighted greeks across a portfolio.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// AccountSnapshot is an immutable read model of the account at one instant.
// A fresh snapshot is constructed for every observer notification; the
// position slice holds copies, never live state.
type AccountSnapshot struct {
	Time              time.Time  `json:"time"`
	Positions         []Position `json:"positions"`
	AggregatePnL      float64    `json:"aggregate_pnl"`
	Greeks            Greeks     `json:"greeks"`
	MaintenanceMargin float64    `json:"maintenance_margin"`
	NetValue          float64    `json:"net_value"`
	Halted            bool       `json:"halted"`
}
