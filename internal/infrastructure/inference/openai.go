package inference

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/castmatch/castmatch-server/internal/domain/aichat"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

func NewOpenAIProvider(apiKey, baseURL, model string, timeout time.Duration, log zerolog.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	// streams are bounded by the request context, not a client timeout
	cfg.HTTPClient = &http.Client{}
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
		log:     log.With().Str("provider", "openai").Logger(),
	}
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *OpenAIProvider) Ping(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if _, err := p.client.ListModels(ctx); err != nil {
		return p.wrap(ctx, err, "model listing failed")
	}
	return nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req aichat.CompletionRequest) (*aichat.Completion, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	resp, err := p.client.CreateChatCompletion(ctx, p.request(req, false))
	if err != nil {
		return nil, p.wrap(ctx, err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "chat completion returned no choices", nil, "8d799315-730d-4a8c-a003-95d9170a3d20")
	}
	choice := resp.Choices[0]
	return &aichat.Completion{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: aichat.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req aichat.CompletionRequest) (<-chan aichat.Chunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.request(req, true))
	if err != nil {
		return nil, p.wrap(ctx, err, "chat completion stream failed")
	}

	out := make(chan aichat.Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		var (
			usage        *aichat.Usage
			finishReason string
		)
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				aichat.SendChunk(ctx, out, aichat.Chunk{Done: true, FinishReason: finishReason, Usage: usage})
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					aichat.SendChunk(ctx, out, aichat.Chunk{Err: p.wrap(ctx, err, "chat completion stream interrupted")})
				}
				return
			}
			if resp.Usage != nil {
				usage = &aichat.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			for _, choice := range resp.Choices {
				if choice.FinishReason != "" {
					finishReason = string(choice.FinishReason)
				}
				if choice.Delta.Content == "" {
					continue
				}
				if !aichat.SendChunk(ctx, out, aichat.Chunk{Content: choice.Delta.Content}) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *OpenAIProvider) request(req aichat.CompletionRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return out
}

func (p *OpenAIProvider) wrap(ctx context.Context, err error, message string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		p.log.Warn().Int("status", apiErr.HTTPStatusCode).Str("type", apiErr.Type).Str("detail", apiErr.Message).Msg(message)
		return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			message, err, "ddea5392-aa04-4745-834c-3c9a95c84826", map[string]any{"status": apiErr.HTTPStatusCode})
	}
	return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, message, err, "2ae43502-39e6-4b4c-a0e4-46180e8b62bd")
}
