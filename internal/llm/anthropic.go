package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient completes prompts with the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	logger *slog.Logger
}

// NewAnthropicClient creates a client. Extra options (base URL, retry
// count) are passed to the SDK after the key and HTTP client.
func NewAnthropicClient(apiKey string, httpClient *http.Client, logger *slog.Logger, opts ...option.RequestOption) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		all = append(all, option.WithHTTPClient(httpClient))
	}
	cl := anthropic.NewClient(append(all, opts...)...)
	return &AnthropicClient{
		client: &cl,
		logger: logger.With("provider", "anthropic"),
	}
}

// Complete implements Client. The prompt is sent as one user message.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	start := time.Now()
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens(req)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		StopSequences: req.Stop,
		Temperature:   anthropic.Float(req.Temperature),
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages %s: %w", req.Model, err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}

	c.logger.Debug("completion done",
		"model", req.Model,
		"stop_reason", msg.StopReason,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"elapsed", time.Since(start),
	)
	return &Completion{
		Text:         b.String(),
		Model:        req.Model,
		Provider:     "anthropic",
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		Duration:     time.Since(start),
	}, nil
}
