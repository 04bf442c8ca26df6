package aichat

import (
	"context"
)

type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	Role    ChatRole
	Content string
}

type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float32
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type Completion struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Chunk is one streamed piece of a completion. The producer closes the
// channel after a chunk with Done set or a chunk carrying Err.
type Chunk struct {
	Content      string
	Done         bool
	FinishReason string
	Usage        *Usage
	Err          error
}

// Provider is an LLM backend. Stream returns a receive-only channel fed by a
// producer goroutine that stops on its next send once ctx is cancelled.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Stream(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
	Ping(ctx context.Context) error
}

// BreakerReporter is implemented by providers guarded by a circuit breaker.
type BreakerReporter interface {
	BreakerState() string
}

// SendChunk delivers c unless ctx is done first.
func SendChunk(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
