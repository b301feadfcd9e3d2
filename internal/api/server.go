// Package api exposes the simulation platform over HTTP: REST endpoints for
// the simulation lifecycle and a WebSocket stream per simulation for market,
// account, and order events.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/7uyf/backtrade/internal/config"
	"github.com/7uyf/backtrade/internal/domain"
	"github.com/7uyf/backtrade/internal/ingest"
	"github.com/7uyf/backtrade/internal/sim"
	"github.com/7uyf/backtrade/internal/store"
)

// Store is the persistence surface the server needs.
type Store interface {
	store.SimulationStore
	store.OrderLogStore
}

// Server hosts the simulation REST API and WebSocket streams.
type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	manager *sim.Manager
	store   Store
	chains  *ingest.ChainStore
}

// NewServer creates an API server over the given simulation manager and
// stores.
func NewServer(cfg *config.Config, manager *sim.Manager, st Store, chains *ingest.ChainStore, log *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		manager: manager,
		store:   st,
		chains:  chains,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/simulations", s.handleCreateSimulation)
	mux.HandleFunc("GET /api/simulations", s.handleListSimulations)
	mux.HandleFunc("GET /api/simulations/{id}", s.handleGetSimulation)
	mux.HandleFunc("DELETE /api/simulations/{id}", s.handleDeleteSimulation)
	mux.HandleFunc("GET /api/simulations/{id}/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/simulations/{id}/ws", s.handleWebSocket)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// ---------------------------------------------------------------------------
// Simulation lifecycle
// ---------------------------------------------------------------------------

// createSimulationRequest is the POST body for a new simulation. Omitted
// numeric fields fall back to the configured defaults.
type createSimulationRequest struct {
	ID             string    `json:"id,omitempty"`
	OwnerID        string    `json:"owner_id"`
	Kind           string    `json:"kind"`
	StartTime      time.Time `json:"start_time"`
	InitialCapital float64   `json:"initial_capital"`
	PlaybackSpeed  *float64  `json:"playback_speed,omitempty"`
	Universe       []string  `json:"universe"`
}

// simulationStatus is the GET response for a simulation: its configuration
// plus live account state when the simulation is running.
type simulationStatus struct {
	Config sim.Config `json:"config"`
	Live   bool       `json:"live"`
	State  *liveState `json:"state,omitempty"`
}

type liveState struct {
	Account       domain.AccountSnapshot `json:"account"`
	PendingOrders int                    `json:"pending_orders"`
	PlaybackSpeed float64                `json:"playback_speed"`
	Paused        bool                   `json:"paused"`
}

func (s *Server) handleCreateSimulation(w http.ResponseWriter, r *http.Request) {
	var req createSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := sim.Config{
		ID:             req.ID,
		OwnerID:        req.OwnerID,
		Kind:           req.Kind,
		StartTime:      req.StartTime,
		InitialCapital: req.InitialCapital,
		PlaybackSpeed:  s.cfg.Simulation.DefaultPlaybackSpeed,
		Universe:       req.Universe,
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = s.cfg.Simulation.DefaultInitialCapital
	}
	if req.PlaybackSpeed != nil {
		cfg.PlaybackSpeed = *req.PlaybackSpeed
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SaveSimulation(r.Context(), cfg); err != nil {
		s.log.Error("saving simulation", "simulation", cfg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "saving simulation")
		return
	}

	if _, err := s.startSimulation(cfg); err != nil {
		s.log.Error("starting simulation", "simulation", cfg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "starting simulation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(cfg)
}

// startSimulation ensures a live simulation for the config and attaches the
// order history persister when this call started it. An already-live id keeps
// its existing persister.
func (s *Server) startSimulation(cfg sim.Config) (*sim.Simulation, error) {
	source := ingest.NewStoreSource(s.chains, cfg.Universe, cfg.StartTime)
	live, started, err := s.manager.Ensure(cfg, source)
	if err != nil {
		return nil, err
	}
	if started {
		live.Orders.RegisterObserver(&orderPersister{
			simulationID: cfg.ID,
			store:        s.store,
			log:          s.log,
		})
	}
	return live, nil
}

func (s *Server) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListSimulations(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		s.log.Error("listing simulations", "error", err)
		writeError(w, http.StatusInternalServerError, "listing simulations")
		return
	}
	if configs == nil {
		configs = []sim.Config{}
	}
	writeJSON(w, configs)
}

func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cfg, err := s.store.GetSimulation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	status := simulationStatus{Config: cfg}
	if live, ok := s.manager.Get(id); ok {
		status.Live = true
		status.State = &liveState{
			Account:       live.Account.Snapshot(),
			PendingOrders: len(live.Orders.PendingLimits()),
			PlaybackSpeed: live.Feed.Speed(),
			Paused:        live.Feed.Paused(),
		}
	}
	writeJSON(w, status)
}

func (s *Server) handleDeleteSimulation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.manager.Get(id); ok {
		if err := s.manager.Teardown(id); err != nil {
			s.log.Error("tearing down simulation", "simulation", id, "error", err)
			writeError(w, http.StatusInternalServerError, "tearing down simulation")
			return
		}
	}
	if err := s.store.DeleteSimulation(r.Context(), id); err != nil {
		s.log.Error("deleting simulation", "simulation", id, "error", err)
		writeError(w, http.StatusInternalServerError, "deleting simulation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Prefer the live book; fall back to the persisted history.
	if live, ok := s.manager.Get(id); ok {
		writeJSON(w, live.Orders.Book().History())
		return
	}
	orders, err := s.store.ListOrders(r.Context(), id)
	if err != nil {
		s.log.Error("listing orders", "simulation", id, "error", err)
		writeError(w, http.StatusInternalServerError, "listing orders")
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	writeJSON(w, orders)
}

// ---------------------------------------------------------------------------
// Order history persistence
// ---------------------------------------------------------------------------

// orderPersister mirrors every order event into the order log store.
type orderPersister struct {
	simulationID string
	store        store.OrderLogStore
	log          *slog.Logger
}

func (p *orderPersister) persist(order *domain.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.SaveOrders(ctx, p.simulationID, []*domain.Order{order}); err != nil {
		p.log.Error("persisting order", "simulation", p.simulationID, "order", order.ID, "error", err)
	}
}

func (p *orderPersister) OnOrderCreated(order *domain.Order, _ []*domain.Order)  { p.persist(order) }
func (p *orderPersister) OnOrderFilled(order *domain.Order, _ []*domain.Order)   { p.persist(order) }
func (p *orderPersister) OnOrderRejected(order *domain.Order, _ []*domain.Order) { p.persist(order) }
func (p *orderPersister) OnOrderCanceled(order *domain.Order, _ []*domain.Order) { p.persist(order) }

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
