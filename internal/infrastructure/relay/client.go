package relay

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/domain/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// EventHandler processes decoded client events. Handlers run on the read
// goroutine of the connection and must not block for long.
type EventHandler interface {
	HandleEvent(ctx context.Context, c *Client, env Envelope)
}

// Client is one WebSocket connection.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	principal identity.Principal
	send      chan []byte
	limiter   *rate.Limiter
	log       zerolog.Logger

	// rooms is guarded by hub.mu.
	rooms map[string]struct{}

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client bound to hub. conn may be nil for clients that
// are fed directly through Send.
func (h *Hub) NewClient(conn *websocket.Conn, principal identity.Principal) *Client {
	id := uuid.NewString()
	return &Client{
		id:        id,
		hub:       h,
		conn:      conn,
		principal: principal,
		send:      make(chan []byte, sendBuffer),
		limiter:   rate.NewLimiter(rate.Limit(h.settings.EventsPerSecond), h.settings.EventBurst),
		rooms:     make(map[string]struct{}),
		log:       h.log.With().Str("conn_id", id).Str("user_id", principal.ID).Logger(),
	}
}

func (c *Client) ID() string                    { return c.id }
func (c *Client) Principal() identity.Principal { return c.principal }

// Send exposes the outgoing queue.
func (c *Client) Send() <-chan []byte { return c.send }

// Join adds the connection to room.
func (c *Client) Join(room string) { c.hub.Join(c, room) }

// Leave removes the connection from room.
func (c *Client) Leave(room string) { c.hub.Leave(c, room) }

// InRoom reports room membership.
func (c *Client) InRoom(room string) bool { return c.hub.InRoom(c, room) }

// Emit sends an event to this connection only.
func (c *Client) Emit(event string, payload any) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("failed to encode relay frame")
		return
	}
	c.hub.observer.ObserveEvent(event, "out")
	if !c.enqueue(frame) {
		c.hub.observer.ObserveDrop("slow_consumer")
		c.hub.Unregister(c)
	}
}

// EmitError replies with an error event.
func (c *Client) EmitError(code, message, event string) {
	c.Emit(realtime.EventError, realtime.ErrorPayload{Code: code, Message: message, Event: event})
}

func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Serve registers the connection and pumps it until the peer goes away or ctx
// ends. It blocks.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, principal identity.Principal, handler EventHandler) {
	c := h.NewClient(conn, principal)
	h.Register(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	go c.writePump()
	c.readPump(ctx, handler)
}

func (c *Client) readPump(ctx context.Context, handler EventHandler) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		env, err := DecodeEnvelope(raw)
		if err != nil || env.Event == "" {
			c.EmitError("VALIDATION_ERROR", "Malformed event frame", "")
			continue
		}
		c.hub.observer.ObserveEvent(env.Event, "in")

		if !c.limiter.Allow() {
			c.hub.observer.ObserveDrop("rate_limited")
			c.EmitError("RATE_LIMIT_EXCEEDED", "Too many events, slow down", env.Event)
			continue
		}
		handler.HandleEvent(ctx, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// NewUpgrader accepts the listed origins; "*" or an empty list accepts any.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			_, ok := allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
			return ok
		},
	}
}
