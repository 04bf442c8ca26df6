package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/castmatch/castmatch-server/internal/domain/aichat"
)

// EchoProvider answers deterministically without a network call. It backs
// local development and tests.
type EchoProvider struct {
	model string
	delay time.Duration
}

func NewEchoProvider(model string, chunkDelay time.Duration) *EchoProvider {
	if model == "" {
		model = "echo-1"
	}
	return &EchoProvider{model: model, delay: chunkDelay}
}

func (p *EchoProvider) Name() string  { return "echo" }
func (p *EchoProvider) Model() string { return p.model }

func (p *EchoProvider) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (p *EchoProvider) Complete(ctx context.Context, req aichat.CompletionRequest) (*aichat.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := p.answer(req)
	return &aichat.Completion{
		Content:      content,
		Model:        p.model,
		FinishReason: "stop",
		Usage:        p.usage(req, content),
	}, nil
}

func (p *EchoProvider) Stream(ctx context.Context, req aichat.CompletionRequest) (<-chan aichat.Chunk, error) {
	content := p.answer(req)
	words := strings.SplitAfter(content, " ")
	out := make(chan aichat.Chunk)

	go func() {
		defer close(out)
		for _, w := range words {
			if p.delay > 0 {
				select {
				case <-time.After(p.delay):
				case <-ctx.Done():
					return
				}
			}
			if !aichat.SendChunk(ctx, out, aichat.Chunk{Content: w}) {
				return
			}
		}
		usage := p.usage(req, content)
		aichat.SendChunk(ctx, out, aichat.Chunk{Done: true, FinishReason: "stop", Usage: &usage})
	}()
	return out, nil
}

func (p *EchoProvider) answer(req aichat.CompletionRequest) string {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == aichat.ChatRoleUser {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return "I'm ready to help with your casting questions."
	}
	return fmt.Sprintf("You said: %s", last)
}

func (p *EchoProvider) usage(req aichat.CompletionRequest, content string) aichat.Usage {
	prompt := 0
	for _, m := range req.Messages {
		prompt += len(strings.Fields(m.Content))
	}
	completion := len(strings.Fields(content))
	return aichat.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}
