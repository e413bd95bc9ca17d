package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/nugget/charmbot/internal/email"
	"github.com/nugget/charmbot/internal/llm"
	"github.com/nugget/charmbot/internal/orders"
	"github.com/nugget/charmbot/internal/prompts"
	"github.com/nugget/charmbot/internal/tools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedLLM returns canned completions in order and records every
// prompt it was given. Once the script runs out it returns prose with
// no action block.
type scriptedLLM struct {
	mu      sync.Mutex
	outputs []string
	prompts []string
	err     error
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Prompt)
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.prompts) - 1
	out := "I am not sure what to do."
	if i < len(s.outputs) {
		out = s.outputs[i]
	}
	return &llm.Completion{Text: out}, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type blockingLLM struct{}

func (blockingLLM) Complete(ctx context.Context, _ llm.Request) (*llm.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type stubRetriever struct {
	passage string
	err     error
	queries []string
}

func (r *stubRetriever) RetrieveContext(_ context.Context, q string) (string, error) {
	r.queries = append(r.queries, q)
	return r.passage, r.err
}

func call(tool string, input string) string {
	return fmt.Sprintf("Thought: using %s\nAction:\n```\n{\"action\": %q, \"action_input\": %s}\n```", tool, tool, input)
}

func answer(reply string) string {
	return fmt.Sprintf("Thought: I know what to respond\nAction:\n```\n{\"action\": \"Final Answer\", \"action_input\": %q}\n```", reply)
}

type fixture struct {
	store  *orders.SQLStore
	sender *email.LogSender
	reg    *tools.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := orders.NewSQLStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Seed(context.Background(), orders.SampleOrders()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sender := email.NewLogSender(quietLogger())
	reg := tools.NewRegistry()
	if err := tools.RegisterOrderTools(reg, store); err != nil {
		t.Fatalf("order tools: %v", err)
	}
	err = tools.RegisterEmailTools(reg, sender, tools.VoucherConfig{
		From:    "support@charmbot.test",
		NewCode: func() (string, error) { return "ABCDE23456", nil },
	})
	if err != nil {
		t.Fatalf("email tools: %v", err)
	}
	return &fixture{store: store, sender: sender, reg: reg}
}

func TestLoop_AsksForMissingOrderNumber(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{outputs: []string{answer("Sorry to hear that! What is your order number?")}}
	loop := NewLoop(model, f.reg, nil, Config{}, quietLogger())

	res := loop.Run(context.Background(), nil, "my pizza was late")

	if res.Outcome != OutcomeResponded {
		t.Fatalf("Outcome = %s, cause %v", res.Outcome, res.Cause)
	}
	if !strings.Contains(res.Reply, "order number") {
		t.Errorf("Reply = %q", res.Reply)
	}
	if res.Iterations != 1 || len(res.Scratchpad) != 0 {
		t.Errorf("Iterations = %d, Scratchpad = %d steps, want 1 and 0", res.Iterations, len(res.Scratchpad))
	}
	if len(f.sender.Sent()) != 0 {
		t.Error("no email should be sent")
	}
}

func TestLoop_LateDeliveryVoucher(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{outputs: []string{
		call("get_order_status", `{"order_id": "2743"}`),
		call("get_email_for_order", `{"order_id": "2743"}`),
		call("send_voucher_email", `{"email_to": "user1@example.com", "email_subject": "Sorry for the delay", "email_body": "We apologise for the delay."}`),
		answer("I have sent you a voucher by email."),
	}}
	loop := NewLoop(model, f.reg, nil, Config{}, quietLogger())

	res := loop.Run(context.Background(), nil, "order 2743 was late, I want compensation")

	if res.Outcome != OutcomeResponded {
		t.Fatalf("Outcome = %s, cause %v", res.Outcome, res.Cause)
	}
	if res.Iterations != 4 {
		t.Errorf("Iterations = %d, want 4", res.Iterations)
	}

	wantObs := []string{
		"payment_status: paid, status: late delivery",
		"user1@example.com",
		"Voucher email sent to user1@example.com",
	}
	if len(res.Scratchpad) != len(wantObs) {
		t.Fatalf("Scratchpad has %d steps, want %d", len(res.Scratchpad), len(wantObs))
	}
	for i, want := range wantObs {
		if res.Scratchpad[i].Observation != want {
			t.Errorf("step %d observation = %q, want %q", i, res.Scratchpad[i].Observation, want)
		}
	}

	sent := f.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sent))
	}
	if sent[0].To[0] != "user1@example.com" {
		t.Errorf("To = %v", sent[0].To)
	}
	if !strings.HasSuffix(sent[0].Body, "The $5 voucher code is ABCDE23456") {
		t.Errorf("Body = %q", sent[0].Body)
	}

	// The observation from step one is visible in the prompt for step two.
	if !strings.Contains(model.prompts[1], "Observation: payment_status: paid, status: late delivery\n") {
		t.Error("second prompt is missing the first observation")
	}
}

func TestLoop_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{outputs: []string{
		call("get_order_status", `{"order_id": "9999"}`),
		answer("I could not find that order. Could you double-check the order number?"),
	}}
	loop := NewLoop(model, f.reg, nil, Config{}, quietLogger())

	res := loop.Run(context.Background(), nil, "order 9999 never arrived")

	if res.Outcome != OutcomeResponded {
		t.Fatalf("Outcome = %s", res.Outcome)
	}
	if got := res.Scratchpad[0].Observation; got != tools.ObsOrderNotFound {
		t.Errorf("observation = %q, want %q", got, tools.ObsOrderNotFound)
	}
	if !strings.Contains(model.prompts[1], "Observation: "+tools.ObsOrderNotFound) {
		t.Error("second prompt is missing the not-found observation")
	}
}

func TestLoop_CompletionUnavailable(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{err: errors.New("connection refused")}
	loop := NewLoop(model, f.reg, nil, Config{FallbackReply: "Please try again later."}, quietLogger())

	res := loop.Run(context.Background(), nil, "hello")

	if res.Outcome != OutcomeCapabilityUnavailable {
		t.Fatalf("Outcome = %s", res.Outcome)
	}
	if res.Reply != "Please try again later." {
		t.Errorf("Reply = %q", res.Reply)
	}
	var cu *CapabilityUnavailable
	if !errors.As(res.Cause, &cu) || cu.Capability != "completion" {
		t.Errorf("Cause = %v, want completion CapabilityUnavailable", res.Cause)
	}
	if model.calls() != 1 {
		t.Errorf("calls = %d, want 1", model.calls())
	}
}

func TestLoop_ParseErrorsRecoverUntilCap(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{}
	loop := NewLoop(model, f.reg, nil, Config{MaxIterations: 5}, quietLogger())

	res := loop.Run(context.Background(), nil, "hello")

	if res.Outcome != OutcomeIterationCap {
		t.Fatalf("Outcome = %s", res.Outcome)
	}
	if !errors.Is(res.Cause, ErrIterationCap) {
		t.Errorf("Cause = %v", res.Cause)
	}
	if res.Reply != prompts.DefaultFallbackReply {
		t.Errorf("Reply = %q", res.Reply)
	}
	if model.calls() != 5 || res.Iterations != 5 {
		t.Errorf("calls = %d, iterations = %d, want 5", model.calls(), res.Iterations)
	}
	for i, s := range res.Scratchpad {
		if !strings.HasPrefix(s.Observation, "Invalid or incomplete response:") {
			t.Errorf("step %d observation = %q", i, s.Observation)
		}
	}
}

func TestLoop_RecoversAfterBadOutput(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{outputs: []string{
		"Thought: hmm\nAction:\n```\n{\"action\": \"refund_all\", \"action_input\": {}}\n```",
		answer("What is your order number?"),
	}}
	loop := NewLoop(model, f.reg, nil, Config{}, quietLogger())

	res := loop.Run(context.Background(), nil, "hi")

	if res.Outcome != OutcomeResponded || res.Iterations != 2 {
		t.Fatalf("Outcome = %s, Iterations = %d", res.Outcome, res.Iterations)
	}
	if strings.Contains(res.Scratchpad[0].Action, "```") {
		t.Errorf("raw output not sanitized: %q", res.Scratchpad[0].Action)
	}
	if !strings.Contains(res.Scratchpad[0].Observation, "unknown action") {
		t.Errorf("observation = %q", res.Scratchpad[0].Observation)
	}
}

func TestLoop_WrongInputObservation(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{outputs: []string{
		call("get_order_status", `{"order_id": "not an id!"}`),
		answer("Could you give me your order number?"),
	}}
	loop := NewLoop(model, f.reg, nil, Config{}, quietLogger())

	res := loop.Run(context.Background(), nil, "where is my food")
	if got := res.Scratchpad[0].Observation; got != tools.ObsWrongInput {
		t.Errorf("observation = %q, want %q", got, tools.ObsWrongInput)
	}
}

func TestLoop_SetStatusMutatesStore(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{outputs: []string{
		call("set_refund_status", `{"order_id": 2745}`),
		answer("Your refund is being processed."),
	}}
	loop := NewLoop(model, f.reg, nil, Config{}, quietLogger())

	res := loop.Run(context.Background(), nil, "order 2745 was cold, refund please")
	if res.Scratchpad[0].Observation != "Status set to refund" {
		t.Errorf("observation = %q", res.Scratchpad[0].Observation)
	}
	o, err := f.store.Get(context.Background(), "2745")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if o.Status != orders.StatusRefund {
		t.Errorf("Status = %s, want refund", o.Status)
	}
}

func TestLoop_CompletionTimeout(t *testing.T) {
	f := newFixture(t)
	loop := NewLoop(blockingLLM{}, f.reg, nil, Config{CallTimeout: 20 * time.Millisecond}, quietLogger())

	res := loop.Run(context.Background(), nil, "hello")

	if res.Outcome != OutcomeCapabilityUnavailable {
		t.Fatalf("Outcome = %s", res.Outcome)
	}
	if !errors.Is(res.Cause, context.DeadlineExceeded) {
		t.Errorf("Cause = %v, want deadline exceeded", res.Cause)
	}
}

func TestLoop_ToolTimeoutBecomesObservation(t *testing.T) {
	reg := tools.NewRegistry()
	err := reg.Register(&tools.Tool{
		Name:        "slow",
		Description: "never finishes",
		Params:      []tools.Param{{Name: "order_id", Required: true}},
		Handler: func(ctx context.Context, _ tools.Args) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	model := &scriptedLLM{outputs: []string{
		call("slow", `{"order_id": "1"}`),
		answer("Let me get a human to help."),
	}}
	loop := NewLoop(model, reg, nil, Config{CallTimeout: 20 * time.Millisecond}, quietLogger())

	res := loop.Run(context.Background(), nil, "hi")

	if res.Outcome != OutcomeResponded {
		t.Fatalf("Outcome = %s, cause %v", res.Outcome, res.Cause)
	}
	if !strings.Contains(res.Scratchpad[0].Observation, "timed out") {
		t.Errorf("observation = %q", res.Scratchpad[0].Observation)
	}
}

func TestLoop_CancelledContext(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{outputs: []string{answer("hi")}}
	loop := NewLoop(model, f.reg, nil, Config{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := loop.Run(ctx, nil, "hello")

	if res.Outcome != OutcomeCapabilityUnavailable {
		t.Fatalf("Outcome = %s", res.Outcome)
	}
	if !errors.Is(res.Cause, context.Canceled) {
		t.Errorf("Cause = %v", res.Cause)
	}
	if model.calls() != 0 {
		t.Errorf("calls = %d, want 0", model.calls())
	}
	if res.Reply == "" {
		t.Error("Reply is empty")
	}
}

func TestLoop_Retrieval(t *testing.T) {
	f := newFixture(t)

	t.Run("passage reaches prompt", func(t *testing.T) {
		r := &stubRetriever{passage: "Late orders get a $5 voucher."}
		model := &scriptedLLM{outputs: []string{answer("ok")}}
		NewLoop(model, f.reg, r, Config{}, quietLogger()).Run(context.Background(), nil, "late pizza")

		if len(r.queries) != 1 || r.queries[0] != "late pizza" {
			t.Errorf("queries = %v", r.queries)
		}
		if !strings.Contains(model.prompts[0], "RAG: Late orders get a $5 voucher.\n") {
			t.Error("prompt is missing the passage")
		}
	})

	t.Run("failure degrades to empty passage", func(t *testing.T) {
		r := &stubRetriever{err: errors.New("index offline")}
		model := &scriptedLLM{outputs: []string{answer("ok")}}
		res := NewLoop(model, f.reg, r, Config{}, quietLogger()).Run(context.Background(), nil, "late pizza")

		if res.Outcome != OutcomeResponded {
			t.Fatalf("Outcome = %s", res.Outcome)
		}
		if !strings.Contains(model.prompts[0], "RAG: \n") {
			t.Error("prompt should carry an empty passage")
		}
	})

	t.Run("required retrieval fails the turn", func(t *testing.T) {
		r := &stubRetriever{err: errors.New("index offline")}
		model := &scriptedLLM{outputs: []string{answer("ok")}}
		res := NewLoop(model, f.reg, r, Config{RequireRetrieval: true}, quietLogger()).Run(context.Background(), nil, "late pizza")

		if res.Outcome != OutcomeCapabilityUnavailable {
			t.Fatalf("Outcome = %s", res.Outcome)
		}
		if model.calls() != 0 {
			t.Errorf("calls = %d, want 0", model.calls())
		}
	})
}

func TestLoop_HistoryInPrompt(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{outputs: []string{answer("ok")}}
	history := []prompts.HistoryEntry{
		{Speaker: prompts.SpeakerCustomer, Text: "my pizza was late"},
		{Speaker: prompts.SpeakerAgent, Text: "What is your order number?"},
	}
	NewLoop(model, f.reg, nil, Config{}, quietLogger()).Run(context.Background(), history, "2743")

	p := model.prompts[0]
	if !strings.Contains(p, "Customer: my pizza was late\nCharmbot: What is your order number?\n") {
		t.Errorf("history not rendered:\n%s", p)
	}
	if !strings.Contains(p, "Question: 2743\n") {
		t.Error("question not rendered")
	}
}

func TestLoop_PromptGrowsByOneStep(t *testing.T) {
	f := newFixture(t)
	model := &scriptedLLM{outputs: []string{
		call("get_order_status", `{"order_id": "2743"}`),
		"no json here",
		call("get_email_for_order", `{"order_id": "2743"}`),
		answer("done"),
	}}
	NewLoop(model, f.reg, nil, Config{}, quietLogger()).Run(context.Background(), nil, "order 2743")

	checkMonotonic(t, model.prompts)
}

func checkMonotonic(t *testing.T, ps []string) {
	t.Helper()
	if len(ps) == 0 {
		return
	}
	base := strings.Count(ps[0], "\nObservation: ")
	for k := 1; k < len(ps); k++ {
		prev := strings.TrimSuffix(ps[k-1], "Thought:")
		if !strings.HasPrefix(ps[k], prev) {
			t.Errorf("prompt %d does not extend prompt %d", k+1, k)
		}
		if got := strings.Count(ps[k], "\nObservation: ") - base; got != k {
			t.Errorf("prompt %d carries %d steps, want %d", k+1, got, k)
		}
	}
}

func TestSanitizeRaw(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "   ", "(empty response)"},
		{"strips fences", "```json\n{\"action\": 1}\n```", `json
{"action": 1}`},
		{"short kept", "hello", "hello"},
		{"ascii cut", strings.Repeat("a", 600), strings.Repeat("a", 500) + "..."},
		{"cut backs off to rune start", strings.Repeat("a", 499) + "é" + "tail", strings.Repeat("a", 499) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeRaw(tt.in)
			if got != tt.want {
				t.Errorf("sanitizeRaw = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("sanitizeRaw produced invalid UTF-8: %q", got)
			}
		})
	}
}
