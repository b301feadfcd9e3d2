package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/7uyf/backtrade/internal/domain"
	"github.com/7uyf/backtrade/internal/sim"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ SimulationStore = (*SQLiteStore)(nil)
var _ OrderLogStore = (*SQLiteStore)(nil)

// SQLiteStore implements SimulationStore and OrderLogStore backed by a
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS simulations (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	kind            TEXT NOT NULL,
	start_time      TEXT NOT NULL,
	initial_capital REAL NOT NULL,
	playback_speed  REAL NOT NULL,
	universe        TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id            TEXT PRIMARY KEY,
	simulation_id TEXT NOT NULL,
	status        TEXT NOT NULL,
	placed_at     TEXT NOT NULL,
	payload       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_simulation ON orders (simulation_id, placed_at);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema migration, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// SimulationStore implementation
// ---------------------------------------------------------------------------

// SaveSimulation inserts or replaces a simulation configuration.
func (s *SQLiteStore) SaveSimulation(ctx context.Context, cfg sim.Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("saving simulation: empty id")
	}
	universe, err := json.Marshal(cfg.Universe)
	if err != nil {
		return fmt.Errorf("encoding universe: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO simulations
			(id, owner_id, kind, start_time, initial_capital, playback_speed, universe, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			kind = excluded.kind,
			start_time = excluded.start_time,
			initial_capital = excluded.initial_capital,
			playback_speed = excluded.playback_speed,
			universe = excluded.universe`,
		cfg.ID, cfg.OwnerID, cfg.Kind, cfg.StartTime.UTC().Format(time.RFC3339Nano),
		cfg.InitialCapital, cfg.PlaybackSpeed, string(universe),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving simulation %s: %w", cfg.ID, err)
	}
	return nil
}

// GetSimulation retrieves a simulation configuration by id.
func (s *SQLiteStore) GetSimulation(ctx context.Context, id string) (sim.Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, start_time, initial_capital, playback_speed, universe
		FROM simulations WHERE id = ?`, id)
	cfg, err := scanSimulation(row)
	if err == sql.ErrNoRows {
		return sim.Config{}, fmt.Errorf("simulation %s not found", id)
	}
	return cfg, err
}

// ListSimulations returns every simulation owned by ownerID, or all
// simulations when ownerID is empty.
func (s *SQLiteStore) ListSimulations(ctx context.Context, ownerID string) ([]sim.Config, error) {
	query := `
		SELECT id, owner_id, kind, start_time, initial_capital, playback_speed, universe
		FROM simulations`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []sim.Config
	for rows.Next() {
		cfg, err := scanSimulation(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// DeleteSimulation removes a simulation and its order history.
func (s *SQLiteStore) DeleteSimulation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE simulation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting orders for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM simulations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting simulation %s: %w", id, err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSimulation(row rowScanner) (sim.Config, error) {
	var cfg sim.Config
	var startTime, universe string
	if err := row.Scan(&cfg.ID, &cfg.OwnerID, &cfg.Kind, &startTime,
		&cfg.InitialCapital, &cfg.PlaybackSpeed, &universe); err != nil {
		return sim.Config{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, startTime)
	if err != nil {
		return sim.Config{}, fmt.Errorf("parsing start_time: %w", err)
	}
	cfg.StartTime = t
	if err := json.Unmarshal([]byte(universe), &cfg.Universe); err != nil {
		return sim.Config{}, fmt.Errorf("decoding universe: %w", err)
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// OrderLogStore implementation
// ---------------------------------------------------------------------------

// SaveOrders upserts a batch of orders for a simulation.
func (s *SQLiteStore) SaveOrders(ctx context.Context, simulationID string, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO orders (id, simulation_id, status, placed_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range orders {
		payload, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encoding order %s: %w", o.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, o.ID, simulationID, string(o.Status),
			o.PlacedAt.UTC().Format(time.RFC3339Nano), string(payload)); err != nil {
			return fmt.Errorf("saving order %s: %w", o.ID, err)
		}
	}
	return tx.Commit()
}

// ListOrders returns a simulation's order history in placement order.
func (s *SQLiteStore) ListOrders(ctx context.Context, simulationID string) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM orders WHERE simulation_id = ? ORDER BY placed_at, id`, simulationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var o domain.Order
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, fmt.Errorf("decoding order: %w", err)
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}
