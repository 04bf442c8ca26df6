package relayhandler

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/castmatch/castmatch-server/internal/domain/aichat"
	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/domain/realtime"
	"github.com/castmatch/castmatch-server/internal/infrastructure/relay"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

const eventTimeout = 10 * time.Second

// TokenValidator turns a bearer token into a principal.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (identity.Principal, error)
}

type RelayHandler struct {
	hub           *relay.Hub
	service       *conversation.ConversationService
	orchestrator  *aichat.Orchestrator
	tokens        TokenValidator
	upgrader      *websocket.Upgrader
	validate      *validator.Validate
	historyOnJoin int
	log           zerolog.Logger
}

func NewRelayHandler(
	hub *relay.Hub,
	service *conversation.ConversationService,
	orchestrator *aichat.Orchestrator,
	tokens TokenValidator,
	upgrader *websocket.Upgrader,
	historyOnJoin int,
	log zerolog.Logger,
) *RelayHandler {
	if historyOnJoin <= 0 {
		historyOnJoin = 50
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &RelayHandler{
		hub:           hub,
		service:       service,
		orchestrator:  orchestrator,
		tokens:        tokens,
		upgrader:      upgrader,
		validate:      v,
		historyOnJoin: historyOnJoin,
		log:           log.With().Str("component", "relay-handler").Logger(),
	}
}

// Connect godoc
// @Summary Open the real-time relay
// @Description Upgrades to a WebSocket. Authenticate with `?token=` or a bearer header.
// @Tags Realtime API
// @Param token query string false "JWT access token"
// @Success 101 "Switching protocols"
// @Failure 401 {object} platformerrors.HTTPErrorResponse "Unauthorized"
// @Router /ws [get]
func (h *RelayHandler) Connect(reqCtx *gin.Context) {
	raw := strings.TrimSpace(reqCtx.Query("token"))
	if raw == "" {
		header := reqCtx.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(header), "bearer ") {
			raw = strings.TrimSpace(header[len("bearer "):])
		}
	}
	if raw == "" {
		platformerrors.WriteUnauthorized(reqCtx, "Authentication required")
		return
	}
	if h.tokens == nil {
		platformerrors.WriteUnauthorized(reqCtx, "Bearer authentication is not configured")
		return
	}

	principal, err := h.tokens.Validate(reqCtx.Request.Context(), raw)
	if err != nil {
		h.log.Debug().Err(err).Msg("relay token rejected")
		platformerrors.WriteUnauthorized(reqCtx, "Invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(reqCtx.Writer, reqCtx.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx := identity.WithPrincipal(reqCtx.Request.Context(), principal)
	h.hub.Serve(ctx, conn, principal, h)
}

type conversationRef struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
}

type sendPayload struct {
	ConversationID  string  `json:"conversationId" validate:"required,max=64"`
	Content         string  `json:"content" validate:"required,max=10000"`
	Type            string  `json:"type,omitempty" validate:"omitempty,oneof=text image video audio document system"`
	ParentMessageID *string `json:"parentMessageId,omitempty" validate:"omitempty,max=64"`
}

type aiPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
	Content        string `json:"content" validate:"required,max=10000"`
}

type messageRef struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
	MessageID      string `json:"messageId" validate:"required,max=64"`
}

type editPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
	MessageID      string `json:"messageId" validate:"required,max=64"`
	Content        string `json:"content" validate:"required,max=10000"`
}

// HistoryPayload answers conversation:join.
type HistoryPayload struct {
	ConversationID string                  `json:"conversationId"`
	Messages       []*conversation.Message `json:"messages"`
	HasMore        bool                    `json:"hasMore"`
}

// HandleEvent implements relay.EventHandler.
func (h *RelayHandler) HandleEvent(ctx context.Context, c *relay.Client, env relay.Envelope) {
	switch env.Event {
	case realtime.EventConversationJoin:
		var p conversationRef
		if h.bind(c, env, &p) {
			h.join(ctx, c, p)
		}
	case realtime.EventConversationLeave:
		var p conversationRef
		if h.bind(c, env, &p) {
			c.Leave(realtime.ConversationRoom(p.ConversationID))
			h.hub.StopTyping(p.ConversationID, c.Principal().ID)
		}
	case realtime.EventMessageSend:
		var p sendPayload
		if h.bind(c, env, &p) {
			h.send(ctx, c, env.Event, p)
		}
	case realtime.EventMessageSendAI:
		var p aiPayload
		if h.bind(c, env, &p) {
			go h.sendAI(ctx, c, env.Event, p)
		}
	case realtime.EventTypingStart, realtime.EventTypingStop:
		var p conversationRef
		if !h.bind(c, env, &p) {
			return
		}
		if !c.InRoom(realtime.ConversationRoom(p.ConversationID)) {
			c.EmitError(string(platformerrors.ErrorTypeForbidden), "Join the conversation first", env.Event)
			return
		}
		if env.Event == realtime.EventTypingStart {
			h.hub.StartTyping(p.ConversationID, c.Principal().ID)
		} else {
			h.hub.StopTyping(p.ConversationID, c.Principal().ID)
		}
	case realtime.EventMessageRead:
		var p messageRef
		if h.bind(c, env, &p) {
			h.markRead(ctx, c, env.Event, p)
		}
	case realtime.EventMessageDelete:
		var p messageRef
		if h.bind(c, env, &p) {
			h.remove(ctx, c, env.Event, p)
		}
	case realtime.EventMessageEdit:
		var p editPayload
		if h.bind(c, env, &p) {
			h.edit(ctx, c, env.Event, p)
		}
	default:
		c.EmitError(string(platformerrors.ErrorTypeValidation), "Unknown event", env.Event)
	}
}

func (h *RelayHandler) bind(c *relay.Client, env relay.Envelope, v any) bool {
	if err := env.Bind(v); err != nil {
		c.EmitError(string(platformerrors.ErrorTypeValidation), "Malformed payload", env.Event)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		c.EmitError(string(platformerrors.ErrorTypeValidation), validationMessage(err), env.Event)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid payload"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

func (h *RelayHandler) join(ctx context.Context, c *relay.Client, p conversationRef) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	page, err := h.service.GetConversationMessages(ctx, conversation.MessagesQuery{
		ConversationID: p.ConversationID,
		RequesterID:    c.Principal().ID,
		Page:           1,
		Limit:          h.historyOnJoin,
	})
	if err != nil {
		h.emitError(c, realtime.EventConversationJoin, err)
		return
	}
	c.Join(realtime.ConversationRoom(p.ConversationID))
	c.Emit(realtime.EventConversationHistory, HistoryPayload{
		ConversationID: p.ConversationID,
		Messages:       page.Messages,
		HasMore:        page.HasMore,
	})
}

func (h *RelayHandler) send(ctx context.Context, c *relay.Client, event string, p sendPayload) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	author := c.Principal().ID
	msg, err := h.service.CreateMessage(ctx, conversation.CreateMessageInput{
		ConversationID:  p.ConversationID,
		AuthorID:        &author,
		Content:         p.Content,
		Type:            conversation.MessageType(p.Type),
		ParentMessageID: p.ParentMessageID,
	})
	if err != nil {
		h.emitError(c, event, err)
		return
	}
	h.hub.StopTyping(p.ConversationID, author)
	h.hub.EmitToRoom(realtime.ConversationRoom(p.ConversationID), realtime.EventMessageNew, msg)
}

// sendAI runs on its own goroutine; chunks reach the room through the
// orchestrator's broadcaster.
func (h *RelayHandler) sendAI(ctx context.Context, c *relay.Client, event string, p aiPayload) {
	h.hub.StopTyping(p.ConversationID, c.Principal().ID)
	reply, err := h.orchestrator.Stream(ctx, aichat.ReplyRequest{
		Principal:      c.Principal(),
		ConversationID: p.ConversationID,
		Content:        p.Content,
	})
	if err != nil {
		h.emitError(c, event, err)
		return
	}
	for ev := range reply.Events {
		if ev.Type == aichat.StreamEventError {
			h.emitError(c, event, ev.Err)
		}
	}
}

func (h *RelayHandler) markRead(ctx context.Context, c *relay.Client, event string, p messageRef) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	if _, err := h.service.MarkMessageRead(ctx, p.ConversationID, p.MessageID, c.Principal().ID); err != nil {
		h.emitError(c, event, err)
		return
	}
	h.hub.EmitToRoom(realtime.ConversationRoom(p.ConversationID), realtime.EventMessageRead, realtime.MessageRefPayload{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		UserID:         c.Principal().ID,
	})
}

func (h *RelayHandler) remove(ctx context.Context, c *relay.Client, event string, p messageRef) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	if _, err := h.service.DeleteMessageForUser(ctx, p.ConversationID, p.MessageID, c.Principal().ID); err != nil {
		h.emitError(c, event, err)
		return
	}
	h.hub.EmitToRoom(realtime.ConversationRoom(p.ConversationID), realtime.EventMessageDeleted, realtime.MessageRefPayload{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		UserID:         c.Principal().ID,
	})
}

func (h *RelayHandler) edit(ctx context.Context, c *relay.Client, event string, p editPayload) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	msg, err := h.service.UpdateMessageForUser(ctx, p.ConversationID, p.MessageID, c.Principal().ID, p.Content)
	if err != nil {
		h.emitError(c, event, err)
		return
	}
	h.hub.EmitToRoom(realtime.ConversationRoom(p.ConversationID), realtime.EventMessageEdited, msg)
}

func (h *RelayHandler) emitError(c *relay.Client, event string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	platformErr := platformerrors.GetPlatformError(err)
	if platformErr == nil {
		h.log.Error().Err(err).Str("event", event).Msg("relay event failed")
		c.EmitError(string(platformerrors.ErrorTypeInternal), "An internal error occurred", event)
		return
	}
	status, body := platformerrors.ToHTTPResponse(platformErr)
	if status >= http.StatusInternalServerError {
		platformerrors.LogError(h.log, platformErr)
	}
	c.EmitError(body.Error, body.Message, event)
}
