package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/7uyf/backtrade/internal/domain"
	"github.com/7uyf/backtrade/internal/orders"
	"github.com/7uyf/backtrade/internal/sim"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser client is served from a different origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ---------------------------------------------------------------------------
// Wire messages
// ---------------------------------------------------------------------------

// event is an outbound stream message.
type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// command is an inbound control message.
type command struct {
	Action string `json:"action"`

	// set_playback_speed
	Speed float64 `json:"speed,omitempty"`

	// place_order
	Kind       string    `json:"kind,omitempty"`
	Legs       []wireLeg `json:"legs,omitempty"`
	LimitPrice float64   `json:"limit_price,omitempty"`

	// cancel_order
	OrderID string `json:"order_id,omitempty"`

	// macros
	Direction   string   `json:"direction,omitempty"`
	Quantity    int      `json:"quantity,omitempty"`
	Offset      float64  `json:"offset,omitempty"`
	Gamma       *float64 `json:"gamma,omitempty"`
	PctDelta    int      `json:"pct_delta,omitempty"`
	OptionDelta int      `json:"option_delta,omitempty"`
	PctGamma    float64  `json:"pct_gamma,omitempty"`
}

// wireLeg identifies a contract by key plus a signed quantity. The contract
// is resolved against the latest snapshot before the order is placed.
type wireLeg struct {
	Quantity   int     `json:"quantity"`
	Symbol     string  `json:"symbol"`
	Expiration string  `json:"expiration"` // YYYY-MM-DD
	Strike     float64 `json:"strike"`
	Right      string  `json:"right"`
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// wsClient streams one simulation to one WebSocket connection. It observes
// the feed, account, and order services; events are queued on a buffered
// channel and flushed by the write pump. A client that cannot keep up is
// dropped.
type wsClient struct {
	sim  *sim.Simulation
	conn *websocket.Conn
	send chan event
	log  *slog.Logger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	live, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no live simulation with id "+id)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "simulation", id, "error", err)
		return
	}

	c := &wsClient{
		sim:  live,
		conn: conn,
		send: make(chan event, sendBufferSize),
		log:  s.log.With("simulation", id, "remote", conn.RemoteAddr().String()),
	}

	live.Feed.RegisterObserver(c)
	live.Account.RegisterObserver(c)
	live.Orders.RegisterObserver(c)

	go c.writePump()
	go c.readPump()
}

// detach unregisters the client from every service. Safe to call more than
// once; observer removal is a no-op when already removed.
func (c *wsClient) detach() {
	c.sim.Feed.RemoveObserver(c)
	c.sim.Account.RemoveObserver(c)
	c.sim.Orders.RemoveObserver(c)
}

// queue enqueues an event, dropping the connection when the buffer is full.
func (c *wsClient) queue(e event) {
	select {
	case c.send <- e:
	default:
		c.log.Warn("websocket client too slow, dropping")
		c.detach()
		c.conn.Close()
	}
}

// ---------------------------------------------------------------------------
// Observer callbacks
// ---------------------------------------------------------------------------

func (c *wsClient) OnMarketDataUpdate(snapshot *domain.ChainSnapshot) {
	c.queue(event{Type: "market_data", Payload: snapshot.Contracts()})
}

func (c *wsClient) OnAccountUpdate(snapshot domain.AccountSnapshot) {
	c.queue(event{Type: "account", Payload: snapshot})
}

func (c *wsClient) OnMarginCall(snapshot domain.AccountSnapshot) {
	c.queue(event{Type: "margin_call", Payload: snapshot})
}

func (c *wsClient) OnOrderCreated(order *domain.Order, _ []*domain.Order) {
	c.queue(event{Type: "order_created", Payload: order})
}

func (c *wsClient) OnOrderFilled(order *domain.Order, _ []*domain.Order) {
	c.queue(event{Type: "order_filled", Payload: order})
}

func (c *wsClient) OnOrderRejected(order *domain.Order, _ []*domain.Order) {
	c.queue(event{Type: "order_rejected", Payload: order})
}

func (c *wsClient) OnOrderCanceled(order *domain.Order, _ []*domain.Order) {
	c.queue(event{Type: "order_canceled", Payload: order})
}

// ---------------------------------------------------------------------------
// Pumps
// ---------------------------------------------------------------------------

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case e, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
				c.log.Debug("websocket write failed", "error", err)
				c.detach()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.detach()
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read failed", "error", err)
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.queue(event{Type: "error", Payload: "invalid command: " + err.Error()})
			continue
		}
		c.handleCommand(cmd)
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (c *wsClient) handleCommand(cmd command) {
	switch cmd.Action {
	case "pause":
		c.sim.Feed.Pause()
		c.queue(event{Type: "paused"})
	case "resume":
		c.sim.Feed.Resume()
		c.queue(event{Type: "resumed"})
	case "set_playback_speed":
		c.sim.Feed.SetPlaybackSpeed(cmd.Speed)
		c.queue(event{Type: "playback_speed", Payload: c.sim.Feed.Speed()})
	case "place_order":
		c.placeOrder(cmd)
	case "cancel_order":
		c.cancelOrder(cmd.OrderID)
	case "exit_all_positions":
		if !c.sim.Macro().ExitAllPositions() {
			c.queue(event{Type: "error", Payload: "exit all positions failed"})
		}
	case "enter_straddle":
		snap := c.latestSnapshot()
		if snap == nil {
			c.queue(event{Type: "error", Payload: "no market data yet"})
			return
		}
		if !c.sim.Macro().EnterStraddle(snap, cmd.Direction, cmd.Offset, cmd.Quantity, cmd.Gamma) {
			c.queue(event{Type: "error", Payload: "enter straddle failed"})
		}
	case "hedge_delta":
		snap := c.latestSnapshot()
		if snap == nil {
			c.queue(event{Type: "error", Payload: "no market data yet"})
			return
		}
		if !c.sim.Macro().HedgeDelta(snap, cmd.Direction, cmd.PctDelta, cmd.OptionDelta) {
			c.queue(event{Type: "error", Payload: "hedge delta failed"})
		}
	case "resize_gamma":
		snap := c.latestSnapshot()
		if snap == nil {
			c.queue(event{Type: "error", Payload: "no market data yet"})
			return
		}
		if !c.sim.Macro().ResizeByGamma(snap, cmd.PctGamma) {
			c.queue(event{Type: "error", Payload: "resize gamma failed"})
		}
	default:
		c.queue(event{Type: "error", Payload: "unknown action " + cmd.Action})
	}
}

func (c *wsClient) placeOrder(cmd command) {
	legs, err := c.resolveLegs(cmd.Legs)
	if err != nil {
		c.queue(event{Type: "error", Payload: err.Error()})
		return
	}

	var placed bool
	switch cmd.Kind {
	case "limit":
		_, placed = c.sim.Orders.CreateLimitOrder(legs, cmd.LimitPrice)
	default:
		_, placed = c.sim.Orders.CreateMarketOrder(legs)
	}
	if !placed {
		// A rejection event has already been streamed when the saga ran;
		// this covers the no-market-data case.
		c.queue(event{Type: "error", Payload: "order not placed"})
	}
}

func (c *wsClient) cancelOrder(orderID string) {
	for _, o := range c.sim.Orders.PendingLimits() {
		if o.ID == orderID {
			c.sim.Orders.CancelPendingOrder(o)
			return
		}
	}
	c.queue(event{Type: "error", Payload: "no pending order with id " + orderID})
}

// resolveLegs maps wire legs to contracts in the latest snapshot.
func (c *wsClient) resolveLegs(wire []wireLeg) ([]orders.Leg, error) {
	snap := c.latestSnapshot()
	if snap == nil {
		return nil, errors.New("no market data yet")
	}
	legs := make([]orders.Leg, 0, len(wire))
	for _, l := range wire {
		contract, ok := snap.Lookup(domain.ContractKey{
			Symbol:     l.Symbol,
			Expiration: l.Expiration,
			Strike:     l.Strike,
			Right:      domain.Right(l.Right),
		})
		if !ok {
			return nil, fmt.Errorf("unknown contract %s %s %v %s", l.Symbol, l.Expiration, l.Strike, l.Right)
		}
		legs = append(legs, orders.Leg{Quantity: l.Quantity, Contract: contract})
	}
	return legs, nil
}

func (c *wsClient) latestSnapshot() *domain.ChainSnapshot {
	return c.sim.Orders.Latest()
}
