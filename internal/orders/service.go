package orders

import (
	"log/slog"
	"sync"
	"time"

	"github.com/7uyf/backtrade/internal/domain"
)

// Funding is the three-phase reservation protocol the saga runs through.
// The account service satisfies it.
type Funding interface {
	ReserveFunds(order *domain.Order) bool
	ApproveFunds() error
	ReleaseFunds() error
}

// Observer receives order lifecycle notifications. Every callback carries
// the affected order and the full order history.
type Observer interface {
	OnOrderCreated(order *domain.Order, history []*domain.Order)
	OnOrderFilled(order *domain.Order, history []*domain.Order)
	OnOrderRejected(order *domain.Order, history []*domain.Order)
	OnOrderCanceled(order *domain.Order, history []*domain.Order)
}

// Service orchestrates order sagas against the funding protocol and retries
// queued limit orders on every snapshot.
type Service struct {
	log     *slog.Logger
	book    *Book
	account Funding
	now     func() time.Time

	mu            sync.Mutex
	latest        *domain.ChainSnapshot
	pendingLimits []*domain.Order
	observers     []Observer
	queued        []notification
}

// notification is an order event queued under s.mu for delivery after the
// lock is released. Each carries its own observer snapshot, so registration
// changes during a callback cannot affect an in-flight pass.
type notification struct {
	fn        func(Observer, *domain.Order, []*domain.Order)
	order     *domain.Order
	history   []*domain.Order
	observers []Observer
}

// NewService creates an order management service backed by the given funding
// protocol.
func NewService(account Funding, log *slog.Logger) *Service {
	return &Service{
		log:     log,
		book:    NewBook(),
		account: account,
		now:     time.Now,
	}
}

// Book returns the append-only order history.
func (s *Service) Book() *Book {
	return s.book
}

// Latest returns the most recent snapshot observed, or nil before the first
// market data update.
func (s *Service) Latest() *domain.ChainSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// CreateMarketOrder runs the order saga for a market order: create, reserve,
// fill, approve. It returns the recorded order and whether it filled; a
// false return with a nil order means no market data has been observed yet.
func (s *Service) CreateMarketOrder(legs []Leg) (*domain.Order, bool) {
	return s.createOrderSaga(legs, nil)
}

// CreateLimitOrder runs the order saga for a limit order. When the limit is
// not met the order queues as Pending with its reservation released, and the
// saga reports false.
func (s *Service) CreateLimitOrder(legs []Leg, limitPrice float64) (*domain.Order, bool) {
	return s.createOrderSaga(legs, &limitPrice)
}

func (s *Service) createOrderSaga(legs []Leg, limit *float64) (*domain.Order, bool) {
	s.mu.Lock()
	if s.latest == nil {
		s.mu.Unlock()
		s.log.Warn("cannot create order saga without market data")
		return nil, false
	}

	var order *domain.Order
	if limit == nil {
		order = s.book.NewMarketOrder(legs, s.now())
	} else {
		order = s.book.NewLimitOrder(legs, *limit, s.now())
	}
	s.log.Info("order created", "order", order.ID, "kind", order.Kind, "legs", len(legs))
	s.notifyLocked(order, (Observer).OnOrderCreated)

	var filled bool
	switch {
	case !s.account.ReserveFunds(order):
		s.rejectLocked(order)
	case order.Kind == domain.OrderKindMarket || s.limitPriceMetLocked(order):
		s.fillLocked(order)
		s.approveLocked(order)
		filled = true
	default:
		// Funds are not held while a limit order waits.
		s.log.Info("limit not met, queueing order", "order", order.ID)
		s.pendingLimits = append(s.pendingLimits, order)
		if err := s.account.ReleaseFunds(); err != nil {
			s.log.Error("releasing reservation for queued limit", "order", order.ID, "error", err)
		}
	}

	queued := s.takeQueuedLocked()
	s.mu.Unlock()
	deliver(queued)
	return order, filled
}

// OnMarketDataUpdate adopts the snapshot and re-evaluates every pending
// limit order against it. Orders whose limit is met attempt the reservation
// again: funding conditions may have changed since queuing, so a failed
// reserve now rejects the order.
func (s *Service) OnMarketDataUpdate(snapshot *domain.ChainSnapshot) {
	s.mu.Lock()
	s.latest = snapshot

	pending := make([]*domain.Order, len(s.pendingLimits))
	copy(pending, s.pendingLimits)
	for _, order := range pending {
		if !s.limitPriceMetLocked(order) {
			continue
		}
		s.log.Info("limit price met", "order", order.ID)
		if s.account.ReserveFunds(order) {
			s.fillLocked(order)
			s.approveLocked(order)
		} else {
			s.rejectLocked(order)
		}
	}
	queued := s.takeQueuedLocked()
	s.mu.Unlock()
	deliver(queued)
}

// CancelPendingOrder removes a queued limit order and marks it Cancelled.
// Orders not in the pending collection are left untouched with a warning.
func (s *Service) CancelPendingOrder(order *domain.Order) {
	s.mu.Lock()
	if s.removePendingLocked(order) {
		if err := order.Cancel(); err != nil {
			s.log.Error("cancelling pending order", "order", order.ID, "error", err)
		} else {
			s.log.Info("order cancelled", "order", order.ID)
			s.notifyLocked(order, (Observer).OnOrderCanceled)
		}
	} else {
		s.log.Warn("order not found in pending orders", "order", order.ID)
	}
	queued := s.takeQueuedLocked()
	s.mu.Unlock()
	deliver(queued)
}

// PendingLimits returns the queued limit orders in queue order.
func (s *Service) PendingLimits() []*domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Order, len(s.pendingLimits))
	copy(out, s.pendingLimits)
	return out
}

// RegisterObserver appends an order lifecycle observer.
func (s *Service) RegisterObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// RemoveObserver removes an order lifecycle observer.
func (s *Service) RemoveObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// limitPriceMetLocked computes the order's net cost against the latest
// snapshot: ask for buys, bid for sells, each times the signed quantity. A
// positive net cost is a debit the limit must cover (limit >= cost); a
// non-positive net cost is a credit the limit must not exceed (limit <=
// cost). Market orders and orders with no snapshot never report met.
func (s *Service) limitPriceMetLocked(order *domain.Order) bool {
	if order.Kind != domain.OrderKindLimit || s.latest == nil {
		return false
	}
	var netCost float64
	for _, item := range order.Items {
		c, ok := s.latest.Lookup(item.AtPlacement.Key())
		if !ok {
			continue
		}
		if item.Quantity > 0 {
			netCost += c.Ask * float64(item.Quantity)
		} else if item.Quantity < 0 {
			netCost += c.Bid * float64(item.Quantity)
		}
	}
	if netCost > 0 {
		return order.LimitPrice >= netCost
	}
	return order.LimitPrice <= netCost
}

func (s *Service) fillLocked(order *domain.Order) {
	if err := order.Fill(s.latest, s.now()); err != nil {
		s.log.Error("filling order", "order", order.ID, "error", err)
		return
	}
	s.removePendingLocked(order)
	s.log.Info("order filled", "order", order.ID)
	s.notifyLocked(order, (Observer).OnOrderFilled)
}

func (s *Service) approveLocked(order *domain.Order) {
	if err := s.account.ApproveFunds(); err != nil {
		s.log.Error("approving funds", "order", order.ID, "error", err)
	}
}

func (s *Service) rejectLocked(order *domain.Order) {
	s.removePendingLocked(order)
	if err := order.Reject(); err != nil {
		s.log.Error("rejecting order", "order", order.ID, "error", err)
		return
	}
	s.log.Info("order rejected", "order", order.ID)
	s.notifyLocked(order, (Observer).OnOrderRejected)
}

func (s *Service) removePendingLocked(order *domain.Order) bool {
	for i, pending := range s.pendingLimits {
		if pending == order {
			s.pendingLimits = append(s.pendingLimits[:i], s.pendingLimits[i+1:]...)
			return true
		}
	}
	return false
}

// notifyLocked queues an order event for delivery once s.mu is released.
// Callbacks never run under the lock: an observer may re-enter the service,
// including removing itself.
func (s *Service) notifyLocked(order *domain.Order, fn func(Observer, *domain.Order, []*domain.Order)) {
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.queued = append(s.queued, notification{
		fn:        fn,
		order:     order,
		history:   s.book.History(),
		observers: observers,
	})
}

// takeQueuedLocked drains the notification queue for delivery by the caller
// after it unlocks.
func (s *Service) takeQueuedLocked() []notification {
	queued := s.queued
	s.queued = nil
	return queued
}

func deliver(queued []notification) {
	for _, n := range queued {
		for _, o := range n.observers {
			n.fn(o, n.order, n.history)
		}
	}
}
