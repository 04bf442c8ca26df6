package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/domain/realtime"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func nextFrame(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case raw, ok := <-c.Send():
		require.True(t, ok, "send queue closed")
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return frame{}
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.Send():
		default:
			return
		}
	}
}

func expectSilence(t *testing.T, c *Client, d time.Duration) {
	t.Helper()
	select {
	case raw := <-c.Send():
		t.Fatalf("unexpected frame %s", raw)
	case <-time.After(d):
	}
}

func newTestHub(settings Settings) *Hub {
	return NewHub(settings, zerolog.Nop())
}

func actor(id string) identity.Principal {
	return identity.Principal{ID: id, Role: identity.RoleActor}
}

func TestHub_RegisterJoinsUserAndRoleRooms(t *testing.T) {
	hub := newTestHub(Settings{PresenceGrace: time.Second})
	c := hub.NewClient(nil, actor("user-1"))
	hub.Register(c)

	assert.True(t, c.InRoom(realtime.UserRoom("user-1")))
	assert.True(t, c.InRoom(realtime.RoleRoom("actor")))
	assert.Equal(t, 1, hub.ClientCount())

	f := nextFrame(t, c)
	assert.Equal(t, realtime.EventPresenceUpdate, f.Event)
	var p realtime.PresencePayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, realtime.PresencePayload{UserID: "user-1", Online: true}, p)
}

func TestHub_EmitToRoomReachesMembersOnly(t *testing.T) {
	hub := newTestHub(Settings{PresenceGrace: time.Second})
	a := hub.NewClient(nil, actor("a"))
	b := hub.NewClient(nil, actor("b"))
	hub.Register(a)
	hub.Register(b)
	drain(a)
	drain(b)

	a.Join(realtime.ConversationRoom("conv-1"))
	hub.EmitToRoom(realtime.ConversationRoom("conv-1"), realtime.EventMessageNew, map[string]string{"id": "m1"})

	f := nextFrame(t, a)
	assert.Equal(t, realtime.EventMessageNew, f.Event)
	assert.JSONEq(t, `{"id":"m1"}`, string(f.Data))
	expectSilence(t, b, 50*time.Millisecond)

	a.Leave(realtime.ConversationRoom("conv-1"))
	assert.Equal(t, 0, hub.RoomSize(realtime.ConversationRoom("conv-1")))
}

func TestHub_PresenceGraceWindow(t *testing.T) {
	hub := newTestHub(Settings{PresenceGrace: 80 * time.Millisecond})
	watcher := hub.NewClient(nil, actor("watcher"))
	hub.Register(watcher)
	drain(watcher)

	first := hub.NewClient(nil, actor("user-1"))
	hub.Register(first)
	assert.Equal(t, realtime.EventPresenceUpdate, nextFrame(t, watcher).Event)

	hub.Unregister(first)
	assert.True(t, hub.Presence().IsOnline("user-1"))

	second := hub.NewClient(nil, actor("user-1"))
	hub.Register(second)
	expectSilence(t, watcher, 150*time.Millisecond)

	hub.Unregister(second)
	f := nextFrame(t, watcher)
	assert.Equal(t, realtime.EventPresenceUpdate, f.Event)
	var p realtime.PresencePayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.False(t, p.Online)
	assert.False(t, hub.Presence().IsOnline("user-1"))
}

func TestHub_MultipleConnectionsStayOnline(t *testing.T) {
	hub := newTestHub(Settings{PresenceGrace: 10 * time.Millisecond})
	c1 := hub.NewClient(nil, actor("user-1"))
	c2 := hub.NewClient(nil, actor("user-1"))
	hub.Register(c1)
	hub.Register(c2)
	drain(c2)

	hub.Unregister(c1)
	expectSilence(t, c2, 60*time.Millisecond)
	assert.Equal(t, []string{"user-1"}, hub.Presence().Online())
}

func TestHub_TypingExpires(t *testing.T) {
	hub := newTestHub(Settings{TypingTTL: 50 * time.Millisecond, PresenceGrace: time.Second})
	c := hub.NewClient(nil, actor("user-1"))
	hub.Register(c)
	drain(c)
	c.Join(realtime.ConversationRoom("conv-1"))

	hub.StartTyping("conv-1", "user-1")
	hub.StartTyping("conv-1", "user-1")

	var p realtime.TypingPayload
	f := nextFrame(t, c)
	assert.Equal(t, realtime.EventTypingUpdate, f.Event)
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.True(t, p.IsTyping)

	f = nextFrame(t, c)
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.False(t, p.IsTyping)
	assert.Equal(t, "conv-1", p.ConversationID)
}

func TestHub_TypingStopIsIdempotent(t *testing.T) {
	hub := newTestHub(Settings{TypingTTL: time.Second, PresenceGrace: time.Second})
	c := hub.NewClient(nil, actor("user-1"))
	hub.Register(c)
	drain(c)
	c.Join(realtime.ConversationRoom("conv-1"))

	hub.StartTyping("conv-1", "user-1")
	nextFrame(t, c)
	hub.StopTyping("conv-1", "user-1")
	nextFrame(t, c)
	hub.StopTyping("conv-1", "user-1")
	expectSilence(t, c, 50*time.Millisecond)
}

func TestHub_DropsSlowClient(t *testing.T) {
	obs := &countingObserver{}
	hub := newTestHub(Settings{PresenceGrace: time.Second}).WithObserver(obs)
	c := hub.NewClient(nil, actor("slow"))
	hub.Register(c)

	for i := 0; i < sendBuffer+1; i++ {
		hub.EmitToRoom(realtime.UserRoom("slow"), realtime.EventMessageNew, i)
	}
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 1, obs.drops())
}

func TestHub_CloseDisconnectsEveryone(t *testing.T) {
	hub := newTestHub(Settings{PresenceGrace: time.Second})
	c := hub.NewClient(nil, actor("user-1"))
	hub.Register(c)
	drain(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, ok := <-c.Send()
	assert.False(t, ok)

	late := hub.NewClient(nil, actor("late"))
	hub.Register(late)
	assert.Equal(t, 0, hub.ClientCount())
}

type recordingPublisher struct {
	mu    sync.Mutex
	rooms []string
}

func (p *recordingPublisher) Publish(room string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms = append(p.rooms, room)
	return nil
}

func TestHub_BridgeReceivesEmissions(t *testing.T) {
	hub := newTestHub(Settings{PresenceGrace: time.Second})
	pub := &recordingPublisher{}
	hub.AttachBridge(pub)

	hub.EmitToRoom(realtime.ConversationRoom("conv-9"), realtime.EventMessageDeleted, nil)
	assert.Equal(t, []string{"conversation:conv-9"}, pub.rooms)
}

func TestNATSBridge_SubjectsAndOrigin(t *testing.T) {
	hub := newTestHub(Settings{PresenceGrace: time.Second})
	bridge := NewNATSBridge(nil, "castmatch.relay.", hub, zerolog.Nop())

	assert.Equal(t, "castmatch.relay.conversation:abc", bridge.Subject("conversation:abc"))
	room, ok := bridge.Room("castmatch.relay.user:u1")
	assert.True(t, ok)
	assert.Equal(t, "user:u1", room)
	_, ok = bridge.Room("other.user:u1")
	assert.False(t, ok)

	c := hub.NewClient(nil, actor("u1"))
	hub.Register(c)
	drain(c)

	own := nats.NewMsg("castmatch.relay.user:u1")
	own.Header.Set(originHeader, hub.InstanceID())
	own.Data = []byte(`{"event":"message:new","data":{}}`)
	bridge.handle(own)
	expectSilence(t, c, 30*time.Millisecond)

	remote := nats.NewMsg("castmatch.relay.user:u1")
	remote.Header.Set(originHeader, "other-instance")
	remote.Data = []byte(`{"event":"message:new","data":{}}`)
	bridge.handle(remote)
	assert.Equal(t, realtime.EventMessageNew, nextFrame(t, c).Event)
}

type countingObserver struct {
	mu      sync.Mutex
	dropped int
}

func (o *countingObserver) ObserveConnection(int)       {}
func (o *countingObserver) ObserveEvent(string, string) {}
func (o *countingObserver) ObserveDrop(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func (o *countingObserver) drops() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

type echoHandler struct{}

func (echoHandler) HandleEvent(_ context.Context, c *Client, env Envelope) {
	var body map[string]any
	if err := env.Bind(&body); err != nil {
		c.EmitError("VALIDATION_ERROR", err.Error(), env.Event)
		return
	}
	c.Emit(env.Event, body)
}

func TestServe_RoundTripOverWebSocket(t *testing.T) {
	hub := newTestHub(Settings{PresenceGrace: time.Second, EventsPerSecond: 1, EventBurst: 2})
	upgrader := NewUpgrader(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), conn, actor("ws-user"), echoHandler{})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() frame {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	}

	assert.Equal(t, realtime.EventPresenceUpdate, read().Event)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping","data":{"n":1}}`)))
	f := read()
	assert.Equal(t, "ping", f.Event)
	assert.JSONEq(t, `{"n":1}`, string(f.Data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	assert.Equal(t, realtime.EventError, read().Event)

	// burst of 2 already spent by the first event plus this one
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`)))
	assert.Equal(t, "ping", read().Event)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`)))
	f = read()
	assert.Equal(t, realtime.EventError, f.Event)
	assert.Contains(t, string(f.Data), "RATE_LIMIT_EXCEEDED")
}

func TestNewUpgrader_CheckOrigin(t *testing.T) {
	up := NewUpgrader([]string{"https://app.castmatch.io/"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://app.castmatch.io")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(req))

	assert.True(t, NewUpgrader([]string{"*"}).CheckOrigin(req))
}
