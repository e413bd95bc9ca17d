// Package llm provides the text-completion clients the agent loop
// reasons with: Ollama, Anthropic, and OpenAI-compatible endpoints such
// as Groq, plus a router that picks one by model name.
package llm

import (
	"context"
	"strings"
	"time"
)

// Client is the interface that all completion providers implement.
type Client interface {
	// Complete returns the model's continuation of req.Prompt. Providers
	// pass req.Stop to the backend; callers must still truncate at the
	// first stop sequence because not every backend honors them.
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Request is a single-prompt completion request.
type Request struct {
	Model       string
	Prompt      string
	Stop        []string
	MaxTokens   int
	Temperature float64
}

// Completion is a provider's answer to a Request.
type Completion struct {
	Text         string
	Model        string
	Provider     string
	StopReason   string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// DefaultMaxTokens bounds a completion when the request does not.
const DefaultMaxTokens = 1024

// TruncateAtStop cuts text at the earliest occurrence of any stop
// sequence.
func TruncateAtStop(text string, stop []string) string {
	cut := len(text)
	for _, s := range stop {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}

func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}
