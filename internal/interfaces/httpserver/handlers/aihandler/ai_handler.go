package aihandler

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/castmatch/castmatch-server/internal/domain/aichat"
	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/domain/identity"
	"github.com/castmatch/castmatch-server/internal/domain/ratelimit"
	"github.com/castmatch/castmatch-server/internal/infrastructure/metrics"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/middlewares"
	"github.com/castmatch/castmatch-server/internal/interfaces/httpserver/responses"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

const sseDone = "[DONE]"

// SSE frame types.
const (
	FrameUserMessage = "user_message"
	FrameChunk       = "chunk"
	FrameComplete    = "complete"
	FrameError       = "error"
)

// StreamFrame is one `data:` line of the AI stream.
type StreamFrame struct {
	Type    string                `json:"type"`
	Content string                `json:"content,omitempty"`
	Message *conversation.Message `json:"message,omitempty"`
	Error   string                `json:"error,omitempty"`
	Code    string                `json:"code,omitempty"`
}

// ReplyResponse is the batch AI reply payload.
type ReplyResponse struct {
	UserMessage *conversation.Message `json:"userMessage"`
	AIResponse  *conversation.Message `json:"aiResponse"`
	Usage       aichat.Usage          `json:"usage"`
}

// RateLimiter exposes bucket inspection for the status endpoints.
type RateLimiter interface {
	Status(ctx context.Context, userID string, role identity.Role) (*ratelimit.Status, error)
	Reset(ctx context.Context, userID string, role identity.Role) error
}

type AIHandler struct {
	orchestrator *aichat.Orchestrator
	limiter      RateLimiter
	log          zerolog.Logger
}

func NewAIHandler(orchestrator *aichat.Orchestrator, limiter RateLimiter, log zerolog.Logger) *AIHandler {
	return &AIHandler{
		orchestrator: orchestrator,
		limiter:      limiter,
		log:          log.With().Str("component", "ai-handler").Logger(),
	}
}

// Reply answers POST /conversations/:id/messages/ai in batch mode.
func (h *AIHandler) Reply(reqCtx *gin.Context, principal identity.Principal, conversationID, content string) {
	reply, err := h.orchestrator.Reply(reqCtx.Request.Context(), aichat.ReplyRequest{
		Principal:      principal,
		ConversationID: conversationID,
		Content:        content,
	})
	if reply != nil {
		SetRateLimitHeaders(reqCtx, reply.Decision)
		if reply.UserMessage != nil {
			metrics.RecordMessage(false)
		}
	}
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to generate AI response")
		return
	}
	metrics.RecordMessage(true)
	responses.OK(reqCtx, ReplyResponse{
		UserMessage: reply.UserMessage,
		AIResponse:  reply.AIMessage,
		Usage:       reply.Usage,
	})
}

// Stream answers POST /conversations/:id/messages/ai with stream=true. Errors
// before the first byte are regular JSON errors; later ones become an error
// frame. The stream always ends with [DONE] unless the client went away.
func (h *AIHandler) Stream(reqCtx *gin.Context, principal identity.Principal, conversationID, content string) {
	ctx := reqCtx.Request.Context()
	reply, err := h.orchestrator.Stream(ctx, aichat.ReplyRequest{
		Principal:      principal,
		ConversationID: conversationID,
		Content:        content,
	})
	if reply != nil {
		SetRateLimitHeaders(reqCtx, reply.Decision)
		if reply.UserMessage != nil {
			metrics.RecordMessage(false)
		}
	}
	if err != nil {
		responses.HandleError(reqCtx, err, "Failed to start AI stream")
		return
	}

	flusher, ok := middlewares.PrepareSSE(reqCtx)
	if !ok {
		h.log.Error().Msg("response writer does not support flushing")
	}
	reqCtx.Status(200)
	w := reqCtx.Writer
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := WriteFrame(w, StreamFrame{Type: FrameUserMessage, Message: reply.UserMessage}); err != nil {
		h.drain(reply.Events)
		return
	}
	flush()

	for ev := range reply.Events {
		var frame StreamFrame
		switch ev.Type {
		case aichat.StreamEventChunk:
			frame = StreamFrame{Type: FrameChunk, Content: ev.Content}
		case aichat.StreamEventComplete:
			metrics.RecordMessage(true)
			frame = StreamFrame{Type: FrameComplete, Message: ev.Message}
		case aichat.StreamEventError:
			frame = errorFrame(ev.Err)
			if pe := platformerrors.GetPlatformError(ev.Err); pe != nil {
				platformerrors.LogError(h.log, pe)
			}
		}
		if err := WriteFrame(w, frame); err != nil {
			h.drain(reply.Events)
			return
		}
		flush()
	}

	if ctx.Err() != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", sseDone)
	flush()
}

func (h *AIHandler) drain(events <-chan aichat.StreamEvent) {
	for range events {
	}
}

func errorFrame(err error) StreamFrame {
	pe := platformerrors.GetPlatformError(err)
	if pe == nil {
		return StreamFrame{Type: FrameError, Error: "An internal error occurred", Code: string(platformerrors.ErrorTypeInternal)}
	}
	_, body := platformerrors.ToHTTPResponse(pe)
	return StreamFrame{Type: FrameError, Error: body.Message, Code: body.Error}
}

// WriteFrame writes one SSE data frame.
func WriteFrame(w io.Writer, frame StreamFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// SetRateLimitHeaders mirrors the caller's tier bucket onto the response.
func SetRateLimitHeaders(c *gin.Context, d *ratelimit.Decision) {
	if d == nil || d.Limit == 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if !d.Allowed && d.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}

func (h *AIHandler) Summary(ctx context.Context, principal identity.Principal, conversationID string) (*aichat.ConversationSummary, error) {
	return h.orchestrator.Summarize(ctx, principal, conversationID)
}

func (h *AIHandler) Health(ctx context.Context) aichat.HealthReport {
	return h.orchestrator.Health(ctx)
}

func (h *AIHandler) RateLimitStatus(ctx context.Context, userID string, role identity.Role) (*ratelimit.Status, error) {
	return h.limiter.Status(ctx, userID, role)
}

func (h *AIHandler) ResetRateLimit(ctx context.Context, userID string, role identity.Role) error {
	return h.limiter.Reset(ctx, userID, role)
}
