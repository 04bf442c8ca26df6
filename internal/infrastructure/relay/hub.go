package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/castmatch/castmatch-server/internal/domain/realtime"
)

// broadcastRoom holds every connection on this instance.
const broadcastRoom = "all"

// Observer receives relay traffic signals.
type Observer interface {
	ObserveConnection(delta int)
	ObserveEvent(event, direction string)
	ObserveDrop(reason string)
}

type nopObserver struct{}

func (nopObserver) ObserveConnection(int)       {}
func (nopObserver) ObserveEvent(string, string) {}
func (nopObserver) ObserveDrop(string)          {}

// Publisher forwards room frames to other instances.
type Publisher interface {
	Publish(room string, frame []byte) error
}

// Settings tunes per-connection behaviour.
type Settings struct {
	TypingTTL       time.Duration
	PresenceGrace   time.Duration
	EventsPerSecond float64
	EventBurst      int
}

// Hub keeps track of connections and the rooms they are in.
type Hub struct {
	instanceID string
	settings   Settings

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	closed  bool

	presence *Presence
	typing   *Typing
	bridge   Publisher
	observer Observer
	log      zerolog.Logger
}

func NewHub(settings Settings, log zerolog.Logger) *Hub {
	if settings.TypingTTL <= 0 {
		settings.TypingTTL = 5 * time.Second
	}
	if settings.EventsPerSecond <= 0 {
		settings.EventsPerSecond = 20
	}
	if settings.EventBurst <= 0 {
		settings.EventBurst = 40
	}
	return &Hub{
		instanceID: uuid.NewString(),
		settings:   settings,
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		presence:   NewPresence(settings.PresenceGrace),
		typing:     NewTyping(settings.TypingTTL),
		observer:   nopObserver{},
		log:        log.With().Str("component", "relay-hub").Logger(),
	}
}

func (h *Hub) WithObserver(o Observer) *Hub {
	if o != nil {
		h.observer = o
	}
	return h
}

// AttachBridge enables cross-instance fan-out.
func (h *Hub) AttachBridge(p Publisher) {
	h.mu.Lock()
	h.bridge = p
	h.mu.Unlock()
}

// InstanceID identifies this hub on the bridge.
func (h *Hub) InstanceID() string { return h.instanceID }

func (h *Hub) Presence() *Presence { return h.presence }

// Register adds the client and joins its user and role rooms.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	h.clients[c] = struct{}{}
	h.joinLocked(c, broadcastRoom)
	h.joinLocked(c, realtime.UserRoom(c.principal.ID))
	h.joinLocked(c, realtime.RoleRoom(string(c.principal.Role)))
	h.mu.Unlock()

	h.observer.ObserveConnection(1)
	h.log.Debug().Str("conn_id", c.id).Str("user_id", c.principal.ID).Msg("client registered")

	if h.presence.Connect(c.principal.ID, c.id) {
		h.EmitToRoom(broadcastRoom, realtime.EventPresenceUpdate, realtime.PresencePayload{
			UserID: c.principal.ID,
			Online: true,
		})
	}
}

// Unregister removes the client from every room and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()

	c.close()
	h.observer.ObserveConnection(-1)
	h.log.Debug().Str("conn_id", c.id).Str("user_id", c.principal.ID).Msg("client unregistered")

	userID := c.principal.ID
	last := h.presence.Disconnect(userID, c.id, func() {
		h.EmitToRoom(broadcastRoom, realtime.EventPresenceUpdate, realtime.PresencePayload{
			UserID: userID,
			Online: false,
		})
	})
	if last {
		for _, convID := range h.typing.ClearUser(userID) {
			h.emitTyping(convID, userID, false)
		}
	}
}

// Join adds the client to room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.joinLocked(c, room)
}

// Leave removes the client from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

// InRoom reports whether the client is a member of room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// RoomSize returns the number of local members of room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of local connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EmitToRoom sends an event to every member of room, locally and through the
// bridge when one is attached.
func (h *Hub) EmitToRoom(room, event string, payload any) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode relay frame")
		return
	}
	h.observer.ObserveEvent(event, "out")
	h.deliver(room, frame)

	h.mu.RLock()
	bridge := h.bridge
	h.mu.RUnlock()
	if bridge == nil {
		return
	}
	if err := bridge.Publish(room, frame); err != nil {
		h.log.Warn().Err(err).Str("room", room).Str("event", event).Msg("failed to publish relay frame")
	}
}

// DeliverRemote hands a frame received from another instance to local members.
func (h *Hub) DeliverRemote(room string, frame []byte) {
	h.deliver(room, frame)
}

func (h *Hub) deliver(room string, frame []byte) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if c.enqueue(frame) {
			continue
		}
		h.observer.ObserveDrop("slow_consumer")
		h.log.Warn().Str("conn_id", c.id).Str("room", room).Msg("dropping slow relay client")
		h.Unregister(c)
	}
}

// StartTyping marks userID as typing in the conversation.
func (h *Hub) StartTyping(conversationID, userID string) {
	started := h.typing.Start(conversationID, userID, func() {
		h.emitTyping(conversationID, userID, false)
	})
	if started {
		h.emitTyping(conversationID, userID, true)
	}
}

// StopTyping clears the indicator.
func (h *Hub) StopTyping(conversationID, userID string) {
	if h.typing.Stop(conversationID, userID) {
		h.emitTyping(conversationID, userID, false)
	}
}

func (h *Hub) emitTyping(conversationID, userID string, typing bool) {
	h.EmitToRoom(realtime.ConversationRoom(conversationID), realtime.EventTypingUpdate, realtime.TypingPayload{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       typing,
	})
}

// Run blocks until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}

// Close disconnects all clients and stops pending timers.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.observer.ObserveConnection(-len(clients))
	h.presence.Stop()
	h.typing.Close()
	h.log.Info().Int("clients", len(clients)).Msg("relay hub closed")
}

var _ realtime.Broadcaster = (*Hub)(nil)
