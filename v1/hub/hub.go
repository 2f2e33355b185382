package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	uuid "github.com/hashicorp/go-uuid"

	flerrors "github.com/formloom/formloom/v1/errors"
	"github.com/formloom/formloom/v1/events"
	"github.com/formloom/formloom/v1/metrics"
	"github.com/formloom/formloom/v1/presence"
	"github.com/formloom/formloom/v1/session"
	"github.com/formloom/formloom/v1/tap"
)

const defaultSendBuffer = 32

type client struct {
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}
	sess *session.Conn
}

// writePump serializes all writes to the websocket; gorilla connections do
// not support concurrent writers.
func (c *client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.quit:
			return
		}
	}
}

// Hub owns the websocket connections and implements session.Broadcaster.
// Fan-out targets come from the presence registry, the single source of form
// membership. Delivery is enqueue-and-return: a slow connection drops events
// rather than stalling the engine.
type Hub struct {
	reg      *presence.Registry
	tap      tap.Tap
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.RWMutex
	clients map[string]*client
}

// Option configures a Hub.
type Option func(*Hub)

// WithTap mirrors every broadcast to t.
func WithTap(t tap.Tap) Option {
	return func(h *Hub) {
		h.tap = t
	}
}

// WithSendBuffer sets the per-connection outbound queue size.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// New returns a Hub using reg for broadcast membership.
func New(reg *presence.Registry, opts ...Option) *Hub {
	h := &Hub{
		reg:     reg,
		buffer:  defaultSendBuffer,
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SendTo implements session.Broadcaster.SendTo.
func (h *Hub) SendTo(ctx context.Context, connID string, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return flerrors.ErrConnectionClosed
	}
	h.enqueue(c, data)
	return nil
}

// BroadcastToForm implements session.Broadcaster.BroadcastToForm.
func (h *Hub) BroadcastToForm(ctx context.Context, formID string, env events.Envelope, excludeConnID string) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	for _, p := range h.reg.Participants(formID) {
		if p.ConnID == excludeConnID {
			continue
		}
		h.mu.RLock()
		c := h.clients[p.ConnID]
		h.mu.RUnlock()
		if c != nil {
			h.enqueue(c, data)
		}
	}
	if h.tap != nil {
		go func() {
			if err := h.tap.Publish(context.Background(), formID, data); err != nil {
				slog.Debug("formloom: tap publish failed", "form", formID, "err", err)
			}
		}()
	}
	return nil
}

func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("formloom: dropping event for slow connection", "conn", c.sess.ID())
	}
}

// Handler returns the websocket endpoint. Each connection gets an opaque id,
// a write pump, and a read loop dispatching inbound events to the engine.
// Disconnect cleanup runs unconditionally when the read loop exits.
func (h *Hub) Handler(e *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		id, err := uuid.GenerateUUID()
		if err != nil {
			_ = ws.Close()
			return
		}
		c := &client{
			conn: ws,
			send: make(chan []byte, h.buffer),
			quit: make(chan struct{}),
			sess: session.NewConn(id),
		}
		h.mu.Lock()
		h.clients[id] = c
		h.mu.Unlock()
		metrics.ConnectionGauge.Inc()
		go c.writePump()

		h.readLoop(r.Context(), e, c)

		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		close(c.quit)
		e.HandleDisconnect(context.Background(), c.sess)
		metrics.ConnectionGauge.Dec()
	}
}

func (h *Hub) readLoop(ctx context.Context, e *session.Engine, c *client) {
	defer c.conn.Close()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := events.Decode(raw)
		if err != nil {
			h.sendError(ctx, c, "Malformed event")
			continue
		}
		h.dispatch(ctx, e, c, env)
	}
}

func (h *Hub) dispatch(ctx context.Context, e *session.Engine, c *client, env events.Envelope) {
	switch env.Type {
	case events.TypeJoinForm:
		var ev events.JoinForm
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			h.sendError(ctx, c, "Malformed event")
			return
		}
		_ = e.HandleJoin(ctx, c.sess, ev)
	case events.TypeFieldUpdate:
		var ev events.FieldUpdate
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			h.sendError(ctx, c, "Malformed event")
			return
		}
		_ = e.HandleFieldUpdate(ctx, c.sess, ev)
	case events.TypeFieldLock:
		var ev events.FieldLock
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			h.sendError(ctx, c, "Malformed event")
			return
		}
		_ = e.HandleFieldLock(ctx, c.sess, ev)
	case events.TypeFieldUnlock:
		var ev events.FieldUnlock
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			h.sendError(ctx, c, "Malformed event")
			return
		}
		_ = e.HandleFieldUnlock(ctx, c.sess, ev)
	default:
		h.sendError(ctx, c, "Unknown event type")
	}
}

func (h *Hub) sendError(ctx context.Context, c *client, msg string) {
	env, err := events.Wrap(events.TypeError, events.Error{Message: msg})
	if err != nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.enqueue(c, data)
}

// Connections returns the number of live websocket connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return n
}
