package relayhandler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/castmatch-server/internal/domain/aichat"
	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/domain/ratelimit"
	"github.com/castmatch/castmatch-server/internal/domain/realtime"
	"github.com/castmatch/castmatch-server/internal/infrastructure/cache"
	"github.com/castmatch/castmatch-server/internal/infrastructure/inference"
	"github.com/castmatch/castmatch-server/internal/infrastructure/relay"
	"github.com/castmatch/castmatch-server/internal/infrastructure/store"
)

var (
	owner    = identity.Principal{ID: "director-1", Role: identity.RoleCastingDirector}
	stranger = identity.Principal{ID: "actor-9", Role: identity.RoleActor}
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fixture struct {
	hub     *relay.Hub
	service *conversation.ConversationService
	handler *RelayHandler
	conv    *conversation.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore(zerolog.Nop())
	svc := conversation.NewConversationService(mem, mem.Messages())

	budget := ratelimit.Budget{Points: 100, Duration: time.Minute}
	limiter := ratelimit.NewLimiter(cache.NewMemoryBucketStore(), ratelimit.Config{
		Tiers:        map[identity.Role]ratelimit.Budget{identity.RoleActor: budget},
		Global:       budget,
		Conversation: budget,
	}, zerolog.Nop())

	hub := relay.NewHub(relay.Settings{PresenceGrace: time.Second}, zerolog.Nop())
	orch := aichat.NewOrchestrator(svc, limiter, inference.NewEchoProvider("", 0), aichat.Config{HistoryLimit: 20}, zerolog.Nop()).
		WithBroadcaster(hub)

	title := "Callback notes"
	conv, err := svc.CreateConversation(context.Background(), conversation.CreateConversationInput{UserID: owner.ID, Title: &title})
	require.NoError(t, err)

	h := NewRelayHandler(hub, svc, orch, nil, relay.NewUpgrader(nil), 0, zerolog.Nop())
	return &fixture{hub: hub, service: svc, handler: h, conv: conv}
}

func (f *fixture) connect(p identity.Principal) *relay.Client {
	c := f.hub.NewClient(nil, p)
	f.hub.Register(c)
	drain(c)
	return c
}

func (f *fixture) emit(c *relay.Client, event, data string) {
	f.handler.HandleEvent(context.Background(), c, relay.Envelope{Event: event, Data: json.RawMessage(data)})
}

func drain(c *relay.Client) {
	for {
		select {
		case <-c.Send():
		default:
			return
		}
	}
}

func next(t *testing.T, c *relay.Client) frame {
	t.Helper()
	select {
	case raw := <-c.Send():
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return frame{}
	}
}

func errorPayload(t *testing.T, f frame) realtime.ErrorPayload {
	t.Helper()
	require.Equal(t, realtime.EventError, f.Event)
	var p realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	return p
}

func TestJoin_ReturnsHistoryAndJoinsRoom(t *testing.T) {
	f := newFixture(t)
	author := owner.ID
	_, err := f.service.CreateMessage(context.Background(), conversation.CreateMessageInput{
		ConversationID: f.conv.PublicID, AuthorID: &author, Content: "Scene 4 sides attached",
	})
	require.NoError(t, err)

	c := f.connect(owner)
	f.emit(c, realtime.EventConversationJoin, `{"conversationId":"`+f.conv.PublicID+`"}`)

	fr := next(t, c)
	assert.Equal(t, realtime.EventConversationHistory, fr.Event)
	var history HistoryPayload
	require.NoError(t, json.Unmarshal(fr.Data, &history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "Scene 4 sides attached", history.Messages[0].Content)
	assert.False(t, history.HasMore)
	assert.True(t, c.InRoom(realtime.ConversationRoom(f.conv.PublicID)))
}

func TestJoin_NonOwnerForbidden(t *testing.T) {
	f := newFixture(t)
	c := f.connect(stranger)
	f.emit(c, realtime.EventConversationJoin, `{"conversationId":"`+f.conv.PublicID+`"}`)

	p := errorPayload(t, next(t, c))
	assert.Equal(t, "FORBIDDEN", p.Code)
	assert.Equal(t, realtime.EventConversationJoin, p.Event)
	assert.False(t, c.InRoom(realtime.ConversationRoom(f.conv.PublicID)))
}

func TestSend_BroadcastsToRoom(t *testing.T) {
	f := newFixture(t)
	c := f.connect(owner)
	f.emit(c, realtime.EventConversationJoin, `{"conversationId":"`+f.conv.PublicID+`"}`)
	next(t, c)

	f.emit(c, realtime.EventMessageSend, `{"conversationId":"`+f.conv.PublicID+`","content":"Can you read Tuesday?"}`)
	fr := next(t, c)
	assert.Equal(t, realtime.EventMessageNew, fr.Event)
	var msg conversation.Message
	require.NoError(t, json.Unmarshal(fr.Data, &msg))
	assert.Equal(t, "Can you read Tuesday?", msg.Content)
	assert.Equal(t, conversation.MessageTypeText, msg.Type)
}

func TestSend_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	c := f.connect(owner)

	f.emit(c, realtime.EventMessageSend, `{"conversationId":"`+f.conv.PublicID+`"}`)
	p := errorPayload(t, next(t, c))
	assert.Equal(t, "VALIDATION_ERROR", p.Code)
	assert.Equal(t, "content is required", p.Message)

	f.emit(c, realtime.EventMessageSend, `{"conversationId":"`+f.conv.PublicID+`","content":"x","type":"hologram"}`)
	p = errorPayload(t, next(t, c))
	assert.Contains(t, p.Message, "type must be one of")

	f.emit(c, realtime.EventMessageSend, `[1,2]`)
	p = errorPayload(t, next(t, c))
	assert.Equal(t, "Malformed payload", p.Message)
}

func TestTyping_RequiresMembership(t *testing.T) {
	f := newFixture(t)
	c := f.connect(owner)

	f.emit(c, realtime.EventTypingStart, `{"conversationId":"`+f.conv.PublicID+`"}`)
	assert.Equal(t, "FORBIDDEN", errorPayload(t, next(t, c)).Code)

	f.emit(c, realtime.EventConversationJoin, `{"conversationId":"`+f.conv.PublicID+`"}`)
	next(t, c)
	f.emit(c, realtime.EventTypingStart, `{"conversationId":"`+f.conv.PublicID+`"}`)
	fr := next(t, c)
	assert.Equal(t, realtime.EventTypingUpdate, fr.Event)

	f.emit(c, realtime.EventTypingStop, `{"conversationId":"`+f.conv.PublicID+`"}`)
	var p realtime.TypingPayload
	require.NoError(t, json.Unmarshal(next(t, c).Data, &p))
	assert.False(t, p.IsTyping)
}

func TestSendAI_StreamsIntoRoom(t *testing.T) {
	f := newFixture(t)
	c := f.connect(owner)
	f.emit(c, realtime.EventConversationJoin, `{"conversationId":"`+f.conv.PublicID+`"}`)
	next(t, c)

	f.emit(c, realtime.EventMessageSendAI, `{"conversationId":"`+f.conv.PublicID+`","content":"Suggest a monologue"}`)

	var events []string
	var streamed string
	var aiMessage conversation.Message
	for {
		fr := next(t, c)
		events = append(events, fr.Event)
		switch fr.Event {
		case realtime.EventAIStream:
			var p realtime.AIStreamPayload
			require.NoError(t, json.Unmarshal(fr.Data, &p))
			streamed += p.Content
		case realtime.EventMessageNew:
			var m conversation.Message
			require.NoError(t, json.Unmarshal(fr.Data, &m))
			if m.IsAIResponse {
				aiMessage = m
			}
		}
		if fr.Event == realtime.EventAITyping {
			var p realtime.AITypingPayload
			require.NoError(t, json.Unmarshal(fr.Data, &p))
			if !p.IsTyping {
				break
			}
		}
	}

	assert.Equal(t, realtime.EventMessageNew, events[0])
	assert.Contains(t, events, realtime.EventAIStream)
	assert.Equal(t, "You said: Suggest a monologue", streamed)
	assert.Equal(t, streamed, aiMessage.Content)
	assert.Nil(t, aiMessage.UserID)
}

func TestEditAndDelete(t *testing.T) {
	f := newFixture(t)
	author := owner.ID
	msg, err := f.service.CreateMessage(context.Background(), conversation.CreateMessageInput{
		ConversationID: f.conv.PublicID, AuthorID: &author, Content: "draft",
	})
	require.NoError(t, err)

	intruder := f.connect(stranger)
	f.emit(intruder, realtime.EventMessageEdit, `{"conversationId":"`+f.conv.PublicID+`","messageId":"`+msg.PublicID+`","content":"hijacked"}`)
	assert.Equal(t, "FORBIDDEN", errorPayload(t, next(t, intruder)).Code)

	c := f.connect(owner)
	f.emit(c, realtime.EventConversationJoin, `{"conversationId":"`+f.conv.PublicID+`"}`)
	next(t, c)

	f.emit(c, realtime.EventMessageEdit, `{"conversationId":"`+f.conv.PublicID+`","messageId":"`+msg.PublicID+`","content":"final"}`)
	fr := next(t, c)
	assert.Equal(t, realtime.EventMessageEdited, fr.Event)
	var edited conversation.Message
	require.NoError(t, json.Unmarshal(fr.Data, &edited))
	assert.Equal(t, "final", edited.Content)
	assert.NotNil(t, edited.EditedAt)

	f.emit(c, realtime.EventMessageRead, `{"conversationId":"`+f.conv.PublicID+`","messageId":"`+msg.PublicID+`"}`)
	assert.Equal(t, realtime.EventMessageRead, next(t, c).Event)

	f.emit(c, realtime.EventMessageDelete, `{"conversationId":"`+f.conv.PublicID+`","messageId":"`+msg.PublicID+`"}`)
	fr = next(t, c)
	assert.Equal(t, realtime.EventMessageDeleted, fr.Event)
	var ref realtime.MessageRefPayload
	require.NoError(t, json.Unmarshal(fr.Data, &ref))
	assert.Equal(t, msg.PublicID, ref.MessageID)
}

func TestUnknownEvent(t *testing.T) {
	f := newFixture(t)
	c := f.connect(owner)
	f.emit(c, "conversation:explode", `{}`)
	p := errorPayload(t, next(t, c))
	assert.Equal(t, "Unknown event", p.Message)
}

type stubTokens struct {
	principal identity.Principal
	err       error
}

func (s stubTokens) Validate(context.Context, string) (identity.Principal, error) {
	return s.principal, s.err
}

func TestConnect_RejectsMissingOrInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)

	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/ws", nil)
	f.handler.Connect(ctx)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	f.handler.tokens = stubTokens{err: errors.New("expired")}
	w = httptest.NewRecorder()
	ctx, _ = gin.CreateTestContext(w)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	f.handler.Connect(ctx)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
}
