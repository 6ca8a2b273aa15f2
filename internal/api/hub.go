package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"inventory_go/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512

	clientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AlertFrame is pushed to stream clients.
type AlertFrame struct {
	Type      string                `json:"type"` // "alert" or "cleared"
	ProductID string                `json:"productId"`
	Alert     *domain.LowStockAlert `json:"alert,omitempty"`
}

func frameFor(c domain.AlertChange) AlertFrame {
	f := AlertFrame{Type: "cleared", ProductID: c.ProductID, Alert: c.Alert}
	if c.Active() {
		f.Type = "alert"
	}
	return f
}

// AlertSource is satisfied by inventory.AlertEmitter.
type AlertSource interface {
	Subscribe(buffer int) (<-chan domain.AlertChange, func())
}

type streamClient struct {
	hub    *AlertHub
	conn   *websocket.Conn
	send   chan AlertFrame
	seller string
}

// AlertHub fans alert changes out to websocket clients of the owning
// seller. Slow clients are disconnected rather than blocking the hub.
type AlertHub struct {
	source     AlertSource
	register   chan *streamClient
	unregister chan *streamClient
	done       chan struct{}

	mu      sync.RWMutex
	sellers map[string]map[*streamClient]struct{}
}

func NewAlertHub(source AlertSource) *AlertHub {
	return &AlertHub{
		source:     source,
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient, 64),
		done:       make(chan struct{}),
		sellers:    make(map[string]map[*streamClient]struct{}),
	}
}

// Run pumps changes until ctx is cancelled, then closes every client.
func (h *AlertHub) Run(ctx context.Context) {
	changes, unsubscribe := h.source.Subscribe(256)
	defer unsubscribe()
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			set := h.sellers[c.seller]
			if set == nil {
				set = make(map[*streamClient]struct{})
				h.sellers[c.seller] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.remove(c)

		case change, ok := <-changes:
			if !ok {
				h.shutdown()
				return
			}
			h.broadcast(change)

		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

func (h *AlertHub) broadcast(change domain.AlertChange) {
	frame := frameFor(change)
	var slow []*streamClient

	h.mu.RLock()
	for c := range h.sellers[change.SellerID] {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("Alert stream client too slow, disconnecting", slog.String("seller", c.seller))
		h.remove(c)
	}
}

func (h *AlertHub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sellers[c.seller]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.sellers, c.seller)
	}
	close(c.send)
}

func (h *AlertHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for seller, set := range h.sellers {
		for c := range set {
			close(c.send)
		}
		delete(h.sellers, seller)
	}
}

// Clients reports connected clients (for health output and tests).
func (h *AlertHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.sellers {
		n += len(set)
	}
	return n
}

// ServeWS upgrades the request and streams the seller's alert changes.
func (h *AlertHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	seller := sellerFrom(r.Context())

	select {
	case <-h.done:
		writeFail(w, http.StatusServiceUnavailable, "unavailable", "alert stream is shutting down", nil)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &streamClient{hub: h, conn: conn, send: make(chan AlertFrame, clientBuffer), seller: seller}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; clients have nothing to say.
func (c *streamClient) readPump() {
	defer func() {
		c.conn.Close()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Alert stream read error", slog.Any("error", err))
			}
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
