// Package agent implements the think/act/observe loop that turns one
// customer message into a reply, invoking at most one tool per step.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/charmbot/internal/config"
	"github.com/nugget/charmbot/internal/llm"
	"github.com/nugget/charmbot/internal/prompts"
	"github.com/nugget/charmbot/internal/tools"
)

// DefaultStop ends a completion before the model invents its own
// observation.
var DefaultStop = []string{"\nObservation:"}

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeResponded             Outcome = "responded"
	OutcomeIterationCap          Outcome = "iteration_cap"
	OutcomeCapabilityUnavailable Outcome = "capability_unavailable"
)

// TurnResult is the answer to one customer message. Reply is never
// empty.
type TurnResult struct {
	Reply      string         `json:"reply"`
	Outcome    Outcome        `json:"outcome"`
	Iterations int            `json:"iterations"`
	Scratchpad []prompts.Step `json:"scratchpad,omitempty"`

	// Cause is set when Outcome is not OutcomeResponded.
	Cause error `json:"-"`
}

// Retriever supplies the policy passage for a message.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string) (string, error)
}

// Config tunes a Loop. Zero values take the documented defaults.
type Config struct {
	Model            string
	Policy           string        // default prompts.CharmbotPolicy()
	MaxIterations    int           // default 100
	CallTimeout      time.Duration // default 60s
	HistoryTurns     int           // default 20
	RequireRetrieval bool
	FallbackReply    string // default prompts.DefaultFallbackReply
	Stop             []string
	MaxTokens        int
	Temperature      float64
}

func (c *Config) applyDefaults() {
	if c.Policy == "" {
		c.Policy = prompts.CharmbotPolicy()
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 20
	}
	if c.FallbackReply == "" {
		c.FallbackReply = prompts.DefaultFallbackReply
	}
	if len(c.Stop) == 0 {
		c.Stop = DefaultStop
	}
}

// Loop runs customer turns. It holds no per-turn state and is safe for
// concurrent use; callers serialize turns within a conversation.
type Loop struct {
	llm       llm.Client
	tools     *tools.Registry
	retriever Retriever
	cfg       Config
	catalog   []prompts.ToolEntry
	logger    *slog.Logger
}

// NewLoop creates a loop. retriever may be nil, in which case every turn
// runs with an empty passage.
func NewLoop(client llm.Client, reg *tools.Registry, retriever Retriever, cfg Config, logger *slog.Logger) *Loop {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		llm:       client,
		tools:     reg,
		retriever: retriever,
		cfg:       cfg,
		catalog:   catalogFor(reg),
		logger:    logger.With("component", "agent"),
	}
}

// Run handles one customer message given the prior conversation. It
// always returns a result with a reply.
func (l *Loop) Run(ctx context.Context, history []prompts.HistoryEntry, message string) *TurnResult {
	start := time.Now()
	log := l.logger
	if id := SessionIDFrom(ctx); id != "" {
		log = log.With("session", id)
	}
	log.Info("turn started", "model", l.cfg.Model, "history", len(history))

	res := l.run(ctx, log, history, message)

	attrs := []any{
		"outcome", res.Outcome,
		"iterations", res.Iterations,
		"elapsed", time.Since(start),
	}
	if res.Cause != nil {
		log.Warn("turn ended without model reply", append(attrs, "error", res.Cause)...)
	} else {
		log.Info("turn completed", attrs...)
	}
	return res
}

func (l *Loop) run(ctx context.Context, log *slog.Logger, history []prompts.HistoryEntry, message string) *TurnResult {
	passage, err := l.retrieve(ctx, message)
	if err != nil {
		if l.cfg.RequireRetrieval {
			return l.fallback(OutcomeCapabilityUnavailable, 0, nil, &CapabilityUnavailable{Capability: "retrieval", Err: err})
		}
		log.Warn("retrieval failed, continuing without policy passage", "error", err)
		passage = ""
	}

	var steps []prompts.Step
	for iter := 1; iter <= l.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return l.fallback(OutcomeCapabilityUnavailable, iter-1, steps, &CapabilityUnavailable{Capability: "turn", Err: err})
		}

		prompt := prompts.ReAct(prompts.ReActInput{
			Policy:       l.cfg.Policy,
			Tools:        l.catalog,
			History:      history,
			HistoryTurns: l.cfg.HistoryTurns,
			Scratchpad:   steps,
			Passage:      passage,
			Message:      message,
		})
		log.Log(ctx, config.LevelTrace, "prompt", "iteration", iter, "text", prompt)

		text, err := l.complete(ctx, prompt)
		if err != nil {
			return l.fallback(OutcomeCapabilityUnavailable, iter, steps, &CapabilityUnavailable{Capability: "completion", Err: err})
		}
		log.Log(ctx, config.LevelTrace, "completion", "iteration", iter, "text", text)

		action, err := ParseAction(text, l.cfg.Stop, l.tools)
		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				pe = &ParseError{Reason: err.Error(), Err: err}
			}
			log.Debug("unparseable action", "iteration", iter, "reason", pe.Reason)
			steps = append(steps, prompts.Step{
				Action:      sanitizeRaw(llm.TruncateAtStop(text, l.cfg.Stop)),
				Observation: prompts.InvalidResponse(pe.Reason),
			})
			continue
		}

		if action.Kind == ActionRespond {
			return &TurnResult{
				Reply:      action.Reply,
				Outcome:    OutcomeResponded,
				Iterations: iter,
				Scratchpad: steps,
			}
		}

		obs := l.invoke(ctx, log, action)
		steps = append(steps, prompts.Step{
			Thought:     action.Thought,
			Action:      action.Canonical(),
			Observation: obs,
		})
	}

	return l.fallback(OutcomeIterationCap, l.cfg.MaxIterations, steps, ErrIterationCap)
}

func (l *Loop) retrieve(ctx context.Context, message string) (string, error) {
	if l.retriever == nil {
		return "", nil
	}
	rctx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()
	return l.retriever.RetrieveContext(rctx, message)
}

func (l *Loop) complete(ctx context.Context, prompt string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()
	resp, err := l.llm.Complete(cctx, llm.Request{
		Model:       l.cfg.Model,
		Prompt:      prompt,
		Stop:        l.cfg.Stop,
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (l *Loop) invoke(ctx context.Context, log *slog.Logger, a *Action) string {
	tctx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	out, err := l.tools.Execute(tctx, a.Tool, a.Args)
	if err != nil {
		obs := tools.Observation(err)
		log.Info("tool failed", "tool", a.Tool, "args", a.Args, "error", err, "elapsed", time.Since(start))
		return obs
	}
	log.Info("tool executed", "tool", a.Tool, "args", a.Args, "elapsed", time.Since(start))
	return out
}

func (l *Loop) fallback(outcome Outcome, iterations int, steps []prompts.Step, cause error) *TurnResult {
	return &TurnResult{
		Reply:      l.cfg.FallbackReply,
		Outcome:    outcome,
		Iterations: iterations,
		Scratchpad: steps,
		Cause:      cause,
	}
}

// sanitizeRaw keeps an unparseable completion readable inside the
// scratchpad's fenced Action block.
func sanitizeRaw(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
	const limit = 500
	if len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	if s == "" {
		s = "(empty response)"
	}
	return s
}

func catalogFor(reg *tools.Registry) []prompts.ToolEntry {
	descs := reg.Describe()
	out := make([]prompts.ToolEntry, len(descs))
	for i, d := range descs {
		args := make([]prompts.ToolArg, len(d.Params))
		for j, p := range d.Params {
			args[j] = prompts.ToolArg{Name: p.Name, Description: p.Description, Required: p.Required}
		}
		out[i] = prompts.ToolEntry{Name: d.Name, Description: d.Description, Args: args}
	}
	return out
}
