package backtrade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCreateSimulation(t *testing.T) {
	var gotBody CreateSimulationRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/simulations" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(SimulationConfig{
			ID: "sim-1", OwnerID: gotBody.OwnerID, Universe: gotBody.Universe,
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	cfg, err := c.CreateSimulation(context.Background(), CreateSimulationRequest{
		OwnerID:   "alice",
		Kind:      "replay",
		StartTime: time.Date(2016, 1, 12, 9, 30, 0, 0, time.UTC),
		Universe:  []string{"SPX"},
	})
	if err != nil {
		t.Fatalf("CreateSimulation: %v", err)
	}
	if cfg.ID != "sim-1" || cfg.OwnerID != "alice" {
		t.Fatalf("config = %+v, want sim-1 owned by alice", cfg)
	}
	if gotBody.Kind != "replay" || len(gotBody.Universe) != 1 {
		t.Fatalf("request body = %+v", gotBody)
	}
}

func TestGetSimulation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/simulations/sim-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(SimulationStatus{
			Config: SimulationConfig{ID: "sim-1"},
			Live:   true,
			State: &SimulationState{
				Account: AccountState{NetValue: 100_000},
				Paused:  true,
			},
		})
	}))
	defer ts.Close()

	status, err := NewClient(ts.URL).GetSimulation(context.Background(), "sim-1")
	if err != nil {
		t.Fatalf("GetSimulation: %v", err)
	}
	if !status.Live || status.State == nil || !status.State.Paused {
		t.Fatalf("status = %+v, want live paused", status)
	}
	if status.State.Account.NetValue != 100_000 {
		t.Fatalf("net value = %v, want 100000", status.State.Account.NetValue)
	}
}

func TestErrorResponsesSurfaceMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "simulation sim-9 not found"})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).GetSimulation(context.Background(), "sim-9")
	if err == nil {
		t.Fatal("error response did not surface")
	}
	if got := err.Error(); !strings.Contains(got, "sim-9 not found") {
		t.Fatalf("error = %q, want it to carry the server message", got)
	}
}

func TestListOrders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/simulations/sim-1/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]Order{
			{ID: "ord-1", Kind: "market", Status: "filled"},
		})
	}))
	defer ts.Close()

	orders, err := NewClient(ts.URL).ListOrders(context.Background(), "sim-1")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != "filled" {
		t.Fatalf("orders = %+v, want one filled order", orders)
	}
}
