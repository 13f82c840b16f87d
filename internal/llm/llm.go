package llm

import (
	"context"
	"errors"
)

// Message roles understood by a Completer.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Request is one non-streaming chat completion.
type Request struct {
	System   string
	Messages []Message
	// MaxTokens overrides the client default when positive.
	MaxTokens int
}

// Completion is the backend reply.
type Completion struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
}

// Completer is the text-generation backend. Implementations return the full
// completion in one piece.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// ErrNoChoices is returned when the backend answers without any completion.
var ErrNoChoices = errors.New("completion has no choices")
