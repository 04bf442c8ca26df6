package inference

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"github.com/castmatch/castmatch-server/internal/domain/aichat"
	"github.com/castmatch/castmatch-server/internal/utils/httpclients"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"

	dataPrefix           = "data: "
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 1024 * 1024
)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float32            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client  *resty.Client
	baseURL string
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

func NewAnthropicProvider(apiKey, baseURL, model string, timeout time.Duration, log zerolog.Logger) *AnthropicProvider {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = anthropicDefaultBaseURL
	}
	client := httpclients.NewClient("anthropic", 0)
	client.SetBaseURL(base)
	client.SetHeader("X-API-Key", apiKey)
	client.SetHeader("Anthropic-Version", anthropicVersion)
	client.SetHeader("Content-Type", "application/json")
	return &AnthropicProvider{
		client:  client,
		baseURL: base,
		model:   model,
		timeout: timeout,
		log:     log.With().Str("provider", "anthropic").Logger(),
	}
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

// withTimeout bounds non-streaming calls; streams rely on the caller's context.
func (p *AnthropicProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *AnthropicProvider) Ping(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	resp, err := p.client.R().SetContext(ctx).SetQueryParam("limit", "1").Get("/v1/models")
	if err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "anthropic ping failed", err, "e370c1f2-b5a7-4201-b430-46652581dc0c")
	}
	if resp.IsError() {
		return p.errorFromResponse(ctx, resp, "anthropic ping failed")
	}
	return nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req aichat.CompletionRequest) (*aichat.Completion, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	var body anthropicResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(p.request(req, false)).
		SetResult(&body).
		Post("/v1/messages")
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "anthropic request failed", err, "600e5daa-955e-4a3e-9cdd-bb6b6c0ee217")
	}
	if resp.IsError() {
		return nil, p.errorFromResponse(ctx, resp, "anthropic request failed")
	}

	var text strings.Builder
	for _, block := range body.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &aichat.Completion{
		Content:      text.String(),
		Model:        body.Model,
		FinishReason: body.StopReason,
		Usage:        toUsage(body.Usage),
	}, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req aichat.CompletionRequest) (<-chan aichat.Chunk, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(p.request(req, true)).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Accept-Encoding", "identity").
		SetDoNotParseResponse(true).
		Post("/v1/messages")
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "anthropic streaming request failed", err, "3b595976-f269-4604-9134-7c31839c10c0")
	}
	if resp.IsError() {
		return nil, p.errorFromResponse(ctx, resp, "anthropic streaming request failed")
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "anthropic streaming request failed: empty response body", nil, "3785ce6b-fd94-4ba1-99ff-8e633a69af77")
	}

	out := make(chan aichat.Chunk)
	go func() {
		defer close(out)
		defer func() {
			if closeErr := resp.RawResponse.Body.Close(); closeErr != nil {
				p.log.Error().Err(closeErr).Msg("unable to close response body")
			}
		}()
		p.readStream(ctx, resp.RawResponse.Body, out)
	}()
	return out, nil
}

// readStream parses Anthropic server-sent events into chunks.
func (p *AnthropicProvider) readStream(ctx context.Context, body io.Reader, out chan<- aichat.Chunk) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	usage := aichat.Usage{}
	finishReason := ""
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, dataPrefix)), &ev); err != nil {
			p.log.Error().Err(err).Str("data", line).Msg("failed to parse stream event")
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.PromptTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Text != "" {
				if !aichat.SendChunk(ctx, out, aichat.Chunk{Content: ev.Delta.Text}) {
					return
				}
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				finishReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				usage.CompletionTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			aichat.SendChunk(ctx, out, aichat.Chunk{Done: true, FinishReason: finishReason, Usage: &usage})
			return
		case "error":
			if ev.Error != nil {
				p.log.Warn().Str("type", ev.Error.Type).Str("detail", ev.Error.Message).Msg("anthropic stream error")
			}
			aichat.SendChunk(ctx, out, aichat.Chunk{Err: platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "anthropic stream error", nil, "4fdec28a-82ab-417d-89ce-d4372e2eee6f")})
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	aichat.SendChunk(ctx, out, aichat.Chunk{Err: platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "anthropic stream ended unexpectedly", err, "0dd130a9-2f0f-4eb3-91b2-4c7313e58482")})
}

func (p *AnthropicProvider) request(req aichat.CompletionRequest, stream bool) anthropicRequest {
	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if out.Model == "" {
		out.Model = p.model
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 1024
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case aichat.ChatRoleSystem:
			system = append(system, m.Content)
		case aichat.ChatRoleAssistant:
			out.Messages = appendAnthropic(out.Messages, "assistant", m.Content)
		default:
			out.Messages = appendAnthropic(out.Messages, "user", m.Content)
		}
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

// appendAnthropic merges consecutive turns of the same role; the Messages API
// requires alternating roles.
func appendAnthropic(msgs []anthropicMessage, role, content string) []anthropicMessage {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content += "\n\n" + content
		return msgs
	}
	return append(msgs, anthropicMessage{Role: role, Content: content})
}

func (p *AnthropicProvider) errorFromResponse(ctx context.Context, resp *resty.Response, message string) error {
	status := resp.StatusCode()
	detail := ""
	if resp.RawResponse != nil && resp.RawResponse.Body != nil && resp.Request.DoNotParseResponse {
		defer resp.RawResponse.Body.Close()
		if body, err := io.ReadAll(io.LimitReader(resp.RawResponse.Body, 4096)); err == nil {
			detail = strings.TrimSpace(string(body))
		}
	} else {
		detail = strings.TrimSpace(resp.String())
	}
	// upstream bodies can echo request content, so they are logged only
	p.log.Warn().Int("status", status).Str("body", detail).Msg(message)
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, message, nil, "31a995d7-9227-434f-b55f-1e289149e621", map[string]any{"status": status})
}

func toUsage(u anthropicUsage) aichat.Usage {
	return aichat.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}
