// Package backtrade provides a Go SDK for the backtrade-server API: REST
// calls for the simulation lifecycle and a WebSocket stream for live
// simulation events.
package backtrade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client provides access to the backtrade-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// SimulationConfig mirrors the server's simulation configuration.
type SimulationConfig struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Kind           string    `json:"kind"`
	StartTime      time.Time `json:"start_time"`
	InitialCapital float64   `json:"initial_capital"`
	PlaybackSpeed  float64   `json:"playback_speed"`
	Universe       []string  `json:"universe"`
}

// CreateSimulationRequest is the creation payload. Zero-valued numeric
// fields fall back to server defaults; a nil PlaybackSpeed uses the default
// speed and an explicit zero starts the simulation paused.
type CreateSimulationRequest struct {
	ID             string    `json:"id,omitempty"`
	OwnerID        string    `json:"owner_id"`
	Kind           string    `json:"kind"`
	StartTime      time.Time `json:"start_time"`
	InitialCapital float64   `json:"initial_capital"`
	PlaybackSpeed  *float64  `json:"playback_speed,omitempty"`
	Universe       []string  `json:"universe"`
}

// AccountState is the account summary carried in status responses and
// account events.
type AccountState struct {
	Time              time.Time `json:"time"`
	AggregatePnL      float64   `json:"aggregate_pnl"`
	MaintenanceMargin float64   `json:"maintenance_margin"`
	NetValue          float64   `json:"net_value"`
	Halted            bool      `json:"halted"`
}

// SimulationState is the live portion of a simulation status.
type SimulationState struct {
	Account       AccountState `json:"account"`
	PendingOrders int          `json:"pending_orders"`
	PlaybackSpeed float64      `json:"playback_speed"`
	Paused        bool         `json:"paused"`
}

// SimulationStatus is the server's view of one simulation.
type SimulationStatus struct {
	Config SimulationConfig `json:"config"`
	Live   bool             `json:"live"`
	State  *SimulationState `json:"state,omitempty"`
}

// Order is one order as recorded by the server. Items are kept raw;
// callers needing leg detail can decode them against their own types.
type Order struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	LimitPrice float64         `json:"limit_price,omitempty"`
	PlacedAt   time.Time       `json:"placed_at"`
	ExecutedAt time.Time       `json:"executed_at,omitzero"`
	Items      json.RawMessage `json:"items"`
}

// ---------------------------------------------------------------------------
// REST
// ---------------------------------------------------------------------------

// CreateSimulation creates and starts a simulation, returning its config as
// recorded by the server.
func (c *Client) CreateSimulation(ctx context.Context, req CreateSimulationRequest) (SimulationConfig, error) {
	var cfg SimulationConfig
	err := c.doJSON(ctx, http.MethodPost, "/api/simulations", req, &cfg)
	return cfg, err
}

// GetSimulation fetches a simulation's config and live state.
func (c *Client) GetSimulation(ctx context.Context, id string) (SimulationStatus, error) {
	var status SimulationStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/simulations/"+url.PathEscape(id), nil, &status)
	return status, err
}

// ListSimulations lists simulations, optionally filtered by owner.
func (c *Client) ListSimulations(ctx context.Context, ownerID string) ([]SimulationConfig, error) {
	path := "/api/simulations"
	if ownerID != "" {
		path += "?owner=" + url.QueryEscape(ownerID)
	}
	var configs []SimulationConfig
	err := c.doJSON(ctx, http.MethodGet, path, nil, &configs)
	return configs, err
}

// DeleteSimulation tears down and deletes a simulation.
func (c *Client) DeleteSimulation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/simulations/"+url.PathEscape(id), nil, nil)
}

// ListOrders fetches a simulation's order history.
func (c *Client) ListOrders(ctx context.Context, id string) ([]Order, error) {
	var orders []Order
	err := c.doJSON(ctx, http.MethodGet, "/api/simulations/"+url.PathEscape(id)+"/orders", nil, &orders)
	return orders, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// Event is one message from a simulation stream.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Stream is a live WebSocket connection to one simulation.
type Stream struct {
	conn *websocket.Conn
}

// Connect opens the event stream for a simulation.
func (c *Client) Connect(ctx context.Context, id string) (*Stream, error) {
	wsURL := c.baseURL
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + strings.TrimPrefix(wsURL, "https")
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	}
	wsURL += "/api/simulations/" + url.PathEscape(id) + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks until the next event arrives.
func (s *Stream) Next() (Event, error) {
	var e Event
	if err := s.conn.ReadJSON(&e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Close closes the stream.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// send writes a control command to the stream.
func (s *Stream) send(cmd map[string]any) error {
	return s.conn.WriteJSON(cmd)
}

// Pause suspends the replay.
func (s *Stream) Pause() error {
	return s.send(map[string]any{"action": "pause"})
}

// Resume continues a paused replay.
func (s *Stream) Resume() error {
	return s.send(map[string]any{"action": "resume"})
}

// SetPlaybackSpeed changes the replay speed; zero or negative pauses.
func (s *Stream) SetPlaybackSpeed(speed float64) error {
	return s.send(map[string]any{"action": "set_playback_speed", "speed": speed})
}

// OrderLeg identifies one contract leg by key plus a signed quantity.
type OrderLeg struct {
	Quantity   int     `json:"quantity"`
	Symbol     string  `json:"symbol"`
	Expiration string  `json:"expiration"` // YYYY-MM-DD
	Strike     float64 `json:"strike"`
	Right      string  `json:"right"` // "C" or "P"
}

// PlaceMarketOrder submits a market order over the stream.
func (s *Stream) PlaceMarketOrder(legs []OrderLeg) error {
	return s.send(map[string]any{"action": "place_order", "kind": "market", "legs": legs})
}

// PlaceLimitOrder submits a limit order over the stream.
func (s *Stream) PlaceLimitOrder(legs []OrderLeg, limitPrice float64) error {
	return s.send(map[string]any{
		"action": "place_order", "kind": "limit", "legs": legs, "limit_price": limitPrice,
	})
}

// CancelOrder cancels a pending limit order by id.
func (s *Stream) CancelOrder(orderID string) error {
	return s.send(map[string]any{"action": "cancel_order", "order_id": orderID})
}

// ExitAllPositions flattens every open position with one market order.
func (s *Stream) ExitAllPositions() error {
	return s.send(map[string]any{"action": "exit_all_positions"})
}
