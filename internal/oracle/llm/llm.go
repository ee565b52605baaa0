// Package llm abstracts the chat-completion backend used for spec and test generation.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat completion call.
type Request struct {
	Messages    []Message
	Temperature float32
	// JSONMode asks the backend for a JSON object reply.
	JSONMode bool
}

// Completion is the backend reply plus call metadata kept for tracing.
type Completion struct {
	Text             string
	Model            string
	Provider         string
	RequestID        string
	LatencyMs        int64
	PromptTokens     int
	CompletionTokens int
}

// Completer performs chat completions.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// FuncCompleter adapts a function of the conversation into a Completer.
type FuncCompleter func(ctx context.Context, req Request) (Completion, error)

func (f FuncCompleter) Complete(ctx context.Context, req Request) (Completion, error) {
	return f(ctx, req)
}
