// Package store defines storage interfaces for persisting simulation
// configurations and order history, with a SQLite implementation.
package store

import (
	"context"

	"github.com/7uyf/backtrade/internal/domain"
	"github.com/7uyf/backtrade/internal/sim"
)

// SimulationStore persists simulation configurations across restarts.
type SimulationStore interface {
	SaveSimulation(ctx context.Context, cfg sim.Config) error
	GetSimulation(ctx context.Context, id string) (sim.Config, error)
	ListSimulations(ctx context.Context, ownerID string) ([]sim.Config, error)
	DeleteSimulation(ctx context.Context, id string) error
}

// OrderLogStore persists the order history of a simulation. Orders are
// upserted by id so status transitions overwrite the stored row.
type OrderLogStore interface {
	SaveOrders(ctx context.Context, simulationID string, orders []*domain.Order) error
	ListOrders(ctx context.Context, simulationID string) ([]*domain.Order, error)
}
