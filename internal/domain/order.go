package domain

import (
	"fmt"
	"time"
)

// OrderKind tags the two order variants.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// OrderStatus is the order lifecycle state. Pending is the only non-terminal
// state; Filled, Cancelled, and Rejected are terminal with no re-entry.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderItem is one leg of an order: a signed quantity plus the contract as
// quoted at placement, and at execution once filled.
type OrderItem struct {
	Quantity    int       `json:"quantity"`
	AtPlacement Contract  `json:"at_placement"`
	AtExecution *Contract `json:"at_execution,omitempty"` // nil until filled
}

// ExecutionContract returns the execution-time contract, falling back to the
// placement-time contract when the item has not been filled.
func (i OrderItem) ExecutionContract() Contract {
	if i.AtExecution != nil {
		return *i.AtExecution
	}
	return i.AtPlacement
}

// Order is a Market or Limit order over one or more legs. LimitPrice is
// meaningful only when Kind is OrderKindLimit: it is the maximum net debit
// (positive) or minimum net credit (negative) the caller will accept.
type Order struct {
	ID         string      `json:"id"`
	Kind       OrderKind   `json:"kind"`
	Items      []OrderItem `json:"items"`
	LimitPrice float64     `json:"limit_price,omitempty"`
	PlacedAt   time.Time   `json:"placed_at"`
	ExecutedAt time.Time   `json:"executed_at,omitzero"`
	Status     OrderStatus `json:"status"`
}

// NewMarketOrder creates a Pending market order.
func NewMarketOrder(id string, items []OrderItem, placedAt time.Time) *Order {
	return &Order{
		ID:       id,
		Kind:     OrderKindMarket,
		Items:    items,
		PlacedAt: placedAt,
		Status:   OrderStatusPending,
	}
}

// NewLimitOrder creates a Pending limit order with the given net price
// threshold.
func NewLimitOrder(id string, items []OrderItem, limitPrice float64, placedAt time.Time) *Order {
	return &Order{
		ID:         id,
		Kind:       OrderKindLimit,
		Items:      items,
		LimitPrice: limitPrice,
		PlacedAt:   placedAt,
		Status:     OrderStatusPending,
	}
}

// Fill transitions the order to Filled, stamping every item with its
// execution-time contract looked up by identity in the snapshot. Filling a
// non-Pending order is a contract violation and fails loudly.
func (o *Order) Fill(snapshot *ChainSnapshot, at time.Time) error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("order %s cannot be filled: status is %s", o.ID, o.Status)
	}
	for i := range o.Items {
		c, ok := snapshot.Lookup(o.Items[i].AtPlacement.Key())
		if !ok {
			// The identity left the universe; execute at the placement quote.
			c = o.Items[i].AtPlacement
		}
		o.Items[i].AtExecution = &c
	}
	o.ExecutedAt = at
	o.Status = OrderStatusFilled
	return nil
}

// Cancel transitions the order to Cancelled.
func (o *Order) Cancel() error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("order %s cannot be cancelled: status is %s", o.ID, o.Status)
	}
	o.Status = OrderStatusCancelled
	return nil
}

// Reject transitions the order to Rejected.
func (o *Order) Reject() error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("order %s cannot be rejected: status is %s", o.ID, o.Status)
	}
	o.Status = OrderStatusRejected
	return nil
}

// Terminal reports whether the order has reached a terminal status.
func (o *Order) Terminal() bool {
	return o.Status != OrderStatusPending
}

// Clone returns a deep copy of the order. Hypothetical fill projections
// operate on clones so the live order is never mutated.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	for i, item := range o.Items {
		cp.Items[i] = item
		if item.AtExecution != nil {
			c := *item.AtExecution
			cp.Items[i].AtExecution = &c
		}
	}
	return &cp
}
