package account

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/7uyf/backtrade/internal/domain"
	"github.com/7uyf/backtrade/internal/margin"
)

// Observer receives account read models. OnMarginCall replaces the normal
// update notification when net value drops below maintenance margin.
type Observer interface {
	OnAccountUpdate(snapshot domain.AccountSnapshot)
	OnMarginCall(snapshot domain.AccountSnapshot)
}

// Reservation binds one in-flight order to the hypothetical post-fill state
// proven against it. At most one reservation is outstanding per service.
type reservation struct {
	order             *domain.Order
	positions         map[domain.ContractKey]*domain.Position
	marginRequirement float64
	netValue          float64
}

// Service owns the portfolio, net-value bookkeeping, and the three-phase
// reserve/approve/release funding protocol. It subscribes to the market data
// feed to mark positions and recompute net value.
type Service struct {
	log *slog.Logger

	mu                sync.Mutex
	portfolio         *Portfolio
	maintenanceMargin float64
	netValue          float64
	latest            *domain.ChainSnapshot
	lastPnL           float64
	reservation       *reservation
	halted            bool
	observers         []Observer
}

// NewService creates an account funded with the given initial capital.
func NewService(initialCapital float64, log *slog.Logger) *Service {
	return &Service{
		log:       log,
		portfolio: NewPortfolio(),
		netValue:  initialCapital,
	}
}

// OnMarketDataUpdate marks every position to the new snapshot, folds the
// P&L delta into net value, and either notifies observers with a fresh
// account snapshot or, when net value falls below maintenance margin, enters
// the margin-call path: the account halts and blocks new reservations until
// externally resolved.
func (s *Service) OnMarketDataUpdate(snapshot *domain.ChainSnapshot) {
	s.mu.Lock()
	s.latest = snapshot
	s.portfolio.MarkToMarket(snapshot)

	pnl := s.portfolio.AggregatePnL()
	s.netValue += pnl - s.lastPnL
	s.lastPnL = pnl

	marginCall := s.netValue < s.maintenanceMargin
	if marginCall {
		s.halted = true
	}
	snap := s.snapshotLocked()
	observers := s.observersLocked()
	s.mu.Unlock()

	if marginCall {
		s.log.Warn("margin call triggered",
			"netValue", snap.NetValue, "maintenanceMargin", snap.MaintenanceMargin)
		for _, o := range observers {
			o.OnMarginCall(snap)
		}
		return
	}
	for _, o := range observers {
		o.OnAccountUpdate(snap)
	}
}

// ReserveFunds projects the order as if filled against the latest snapshot
// and reserves funds iff the hypothetical net value strictly exceeds the
// hypothetical margin requirement. It returns false, with no side effects,
// when a reservation is already outstanding, no snapshot has been observed,
// the account is halted, or funding is insufficient.
func (s *Service) ReserveFunds(order *domain.Order) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted {
		s.log.Debug("reserve refused: account halted", "order", order.ID)
		return false
	}
	if s.reservation != nil {
		s.log.Debug("reserve refused: reservation outstanding",
			"order", order.ID, "held", s.reservation.order.ID)
		return false
	}
	if s.latest == nil {
		s.log.Debug("reserve refused: no market data", "order", order.ID)
		return false
	}

	filled := order.Clone()
	if err := filled.Fill(s.latest, s.latest.Time()); err != nil {
		s.log.Error("hypothetical fill failed", "order", order.ID, "error", err)
		return false
	}

	hypothetical := s.portfolio.Clone()
	for _, item := range filled.Items {
		key := item.AtPlacement.Key()
		if pos, ok := hypothetical[key]; ok {
			pos.ApplyFill(item)
			pos.Mark(item.ExecutionContract())
		} else {
			hypothetical[key] = domain.NewPosition(item)
		}
	}

	marginRequirement := margin.Requirement(hypothetical)
	orderCost := positionsValue(hypothetical) - s.portfolio.Value()
	hypotheticalNet := s.netValue - orderCost

	s.log.Debug("reservation attempt", "order", order.ID, "cost", orderCost,
		"hypMargin", marginRequirement, "hypNetValue", hypotheticalNet)

	if hypotheticalNet <= marginRequirement {
		s.log.Debug("reserve refused: insufficient funds", "order", order.ID)
		return false
	}

	s.reservation = &reservation{
		order:             order,
		positions:         hypothetical,
		marginRequirement: marginRequirement,
		netValue:          hypotheticalNet,
	}
	return true
}

// ApproveFunds commits the outstanding reservation: the hypothetical
// positions become the live portfolio (zero-quantity identities pruned), the
// hypothetical net value and margin become current, and observers receive a
// fresh account snapshot. Calling it with no outstanding reservation is a
// contract violation.
func (s *Service) ApproveFunds() error {
	s.mu.Lock()
	if s.reservation == nil {
		s.mu.Unlock()
		return fmt.Errorf("approve funds: no outstanding reservation")
	}
	r := s.reservation
	s.reservation = nil

	s.portfolio.SetPositions(r.positions)
	s.netValue = r.netValue
	s.maintenanceMargin = r.marginRequirement
	// Re-baseline P&L so the next snapshot's delta reflects market movement
	// only, not the portfolio replacement itself.
	s.lastPnL = s.portfolio.AggregatePnL()

	s.log.Debug("funds approved", "order", r.order.ID,
		"netValue", s.netValue, "maintenanceMargin", s.maintenanceMargin)

	snap := s.snapshotLocked()
	observers := s.observersLocked()
	s.mu.Unlock()

	for _, o := range observers {
		o.OnAccountUpdate(snap)
	}
	return nil
}

// ReleaseFunds clears the outstanding reservation without committing
// anything. Calling it with no outstanding reservation is a contract
// violation.
func (s *Service) ReleaseFunds() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reservation == nil {
		return fmt.Errorf("release funds: no outstanding reservation")
	}
	s.log.Debug("funds released", "order", s.reservation.order.ID)
	s.reservation = nil
	return nil
}

// ResolveMarginCall lifts the halted state after external intervention.
func (s *Service) ResolveMarginCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		s.log.Info("margin call resolved")
		s.halted = false
	}
}

// Halted reports whether the account is blocked by an unresolved margin call.
func (s *Service) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// NetValue returns the current account equity.
func (s *Service) NetValue() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.netValue
}

// MaintenanceMargin returns the current margin requirement.
func (s *Service) MaintenanceMargin() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintenanceMargin
}

// Snapshot builds a fresh immutable account read model.
func (s *Service) Snapshot() domain.AccountSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// RegisterObserver appends an account observer.
func (s *Service) RegisterObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// RemoveObserver removes an account observer without affecting any
// notification pass already in flight.
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

func (s *Service) snapshotLocked() domain.AccountSnapshot {
	snap := domain.AccountSnapshot{
		Positions:         s.portfolio.PositionList(),
		AggregatePnL:      s.portfolio.AggregatePnL(),
		Greeks:            s.portfolio.AggregateGreeks(),
		MaintenanceMargin: s.maintenanceMargin,
		NetValue:          s.netValue,
		Halted:            s.halted,
	}
	if s.latest != nil {
		snap.Time = s.latest.Time()
	}
	return snap
}

func (s *Service) observersLocked() []Observer {
	out := make([]Observer, len(s.observers))
	copy(out, s.observers)
	return out
}

func positionsValue(positions map[domain.ContractKey]*domain.Position) float64 {
	var total float64
	for _, pos := range positions {
		total += pos.MarkValue
	}
	return total
}
