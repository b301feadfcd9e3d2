// Package orders orchestrates the order saga: create, reserve funds, fill or
// queue, and notify. Queued limit orders are re-evaluated on every market
// data update.
package orders

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/7uyf/backtrade/internal/domain"
)

// Leg is one requested order leg: a signed quantity against a contract as
// currently quoted.
type Leg struct {
	Quantity int
	Contract domain.Contract
}

// Book is the append-only order history. Orders are retained permanently
// regardless of how their lifecycle ends.
type Book struct {
	mu     sync.Mutex
	orders []*domain.Order
}

// NewBook creates an empty order book.
func NewBook() *Book {
	return &Book{}
}

// NewMarketOrder creates and records a Pending market order over the legs.
func (b *Book) NewMarketOrder(legs []Leg, placedAt time.Time) *domain.Order {
	o := domain.NewMarketOrder(uuid.NewString(), legItems(legs), placedAt)
	b.append(o)
	return o
}

// NewLimitOrder creates and records a Pending limit order over the legs.
func (b *Book) NewLimitOrder(legs []Leg, limitPrice float64, placedAt time.Time) *domain.Order {
	o := domain.NewLimitOrder(uuid.NewString(), legItems(legs), limitPrice, placedAt)
	b.append(o)
	return o
}

// History returns the full order history, oldest first. The slice is a copy;
// the orders are the live records.
func (b *Book) History() []*domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*domain.Order, len(b.orders))
	copy(out, b.orders)
	return out
}

// Len returns the number of orders ever created.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func (b *Book) append(o *domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, o)
}

func legItems(legs []Leg) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(legs))
	for _, leg := range legs {
		items = append(items, domain.OrderItem{Quantity: leg.Quantity, AtPlacement: leg.Contract})
	}
	return items
}
