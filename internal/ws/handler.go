package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Vasu1712/scenyx-sync/internal/engine"
	"github.com/Vasu1712/scenyx-sync/internal/middleware"
	"github.com/Vasu1712/scenyx-sync/internal/models"
	"github.com/gorilla/websocket"
)

// SyncEngine is the part of the synchronization engine driven by
// connection events.
type SyncEngine interface {
	Admit(ctx context.Context, connID string, rawID json.RawMessage) (*engine.PendingJoin, bool)
	Update(ctx context.Context, connID string, req models.UpdateRequest)
	Disconnect(ctx context.Context, connID string)
}

// Handler upgrades HTTP requests to websocket connections and feeds their
// events to the engine.
type Handler struct {
	engine   SyncEngine
	fabric   Fabric
	upgrader websocket.Upgrader
	conns    sync.WaitGroup
}

// NewHandler creates a Handler. allowedOrigin "*" accepts any origin; an
// empty Origin header (non-browser clients) is always accepted.
func NewHandler(engine SyncEngine, fabric Fabric, allowedOrigin string) *Handler {
	return &Handler{
		engine: engine,
		fabric: fabric,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

// ServeHTTP runs one connection. It returns once the connection is closed and
// its disconnect has been processed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var userID string
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		userID = claims.Login
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "upgrading websocket", "remote", r.RemoteAddr, "error", err)
		return
	}

	h.conns.Add(1)
	defer h.conns.Done()

	client := NewClient(conn, userID)
	if err := h.fabric.Register(client); err != nil {
		slog.WarnContext(r.Context(), "registering connection", "error", err)
		_ = conn.Close()
		return
	}
	slog.InfoContext(r.Context(), "client connected", "conn", client.ID(), "user", userID, "remote", r.RemoteAddr)

	go client.writePump()
	h.readPump(r.Context(), client)
}

// Wait blocks until every connection has finished its disconnect or ctx is
// done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump decodes inbound frames until the connection fails, then runs the
// disconnect path.
func (h *Handler) readPump(parent context.Context, c *Client) {
	ctx, cancel := context.WithCancel(parent)
	var joins sync.WaitGroup

	defer func() {
		cancel()
		joins.Wait()

		h.engine.Disconnect(context.WithoutCancel(ctx), c.ID())
		h.fabric.Unregister(c.ID())
		_ = c.Conn.Close()
		slog.InfoContext(ctx, "client disconnected", "conn", c.ID())
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "websocket read", "conn", c.ID(), "error", err)
			}
			return
		}
		h.dispatch(ctx, c, message, &joins)
	}
}

func (h *Handler) dispatch(ctx context.Context, c *Client, message []byte, joins *sync.WaitGroup) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic handling frame", "conn", c.ID(), "panic", r)
		}
	}()

	var env models.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		slog.DebugContext(ctx, "ignoring undecodable frame", "conn", c.ID(), "error", err)
		return
	}

	switch env.Event {
	case models.EventJoinScenario:
		// Admission is synchronous so the entry exists before the next frame
		// is read; updates sent right behind the join queue on it. Only the
		// wait for the load runs beside the read loop.
		pending, ok := h.engine.Admit(ctx, c.ID(), env.Data)
		if !ok {
			return
		}
		joins.Add(1)
		go func() {
			defer joins.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(ctx, "panic handling join", "conn", c.ID(), "panic", r)
				}
			}()
			pending.Wait(ctx)
		}()

	case models.EventScenarioUpdate:
		var req models.UpdateRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			slog.DebugContext(ctx, "ignoring malformed update", "conn", c.ID(), "error", err)
			return
		}
		h.engine.Update(ctx, c.ID(), req)

	default:
		slog.DebugContext(ctx, "ignoring unknown event", "conn", c.ID(), "event", env.Event)
	}
}
