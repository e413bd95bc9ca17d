package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/charmbot/internal/email"
	"github.com/nugget/charmbot/internal/orders"
)

// memStore is an in-memory orders.Store.
type memStore struct {
	mu     sync.Mutex
	orders map[string]*orders.Order
	err    error
}

func newMemStore() *memStore {
	s := &memStore{orders: make(map[string]*orders.Order)}
	for _, o := range orders.SampleOrders() {
		s.orders[o.ID] = &o
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orders.ErrNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) SetStatus(_ context.Context, id string, status orders.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", orders.ErrNotFound, id)
	}
	o.Status = status
	return nil
}

func (s *memStore) Email(ctx context.Context, id string) (string, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return o.Email, nil
}

type failingSender struct{ err error }

func (f failingSender) Send(context.Context, email.Message) error { return f.err }

func newTestRegistry(t *testing.T, store orders.Store, sender email.Sender) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := RegisterOrderTools(r, store); err != nil {
		t.Fatalf("RegisterOrderTools: %v", err)
	}
	err := RegisterEmailTools(r, sender, VoucherConfig{
		From:    "support@example.com",
		NewCode: func() (string, error) { return "ABCDE23456", nil },
	})
	if err != nil {
		t.Fatalf("RegisterEmailTools: %v", err)
	}
	return r
}

func logSender() *email.LogSender {
	return email.NewLogSender(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_DescribeOrder(t *testing.T) {
	r := newTestRegistry(t, newMemStore(), logSender())

	want := []string{
		"get_order_status",
		"get_email_for_order",
		"set_humancheck_status",
		"set_refund_status",
		"send_voucher_email",
	}
	for run := 0; run < 3; run++ {
		got := r.Describe()
		if len(got) != len(want) {
			t.Fatalf("Describe() returned %d tools, want %d", len(got), len(want))
		}
		for i, d := range got {
			if d.Name != want[i] {
				t.Errorf("Describe()[%d] = %q, want %q", i, d.Name, want[i])
			}
		}
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	tool := func() *Tool {
		return &Tool{Name: "echo", Handler: func(context.Context, Args) (string, error) { return "", nil }}
	}
	if err := r.Register(tool()); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(tool()); err == nil {
		t.Error("duplicate Register should fail")
	}
	if err := r.Register(&Tool{Name: "nohandler"}); err == nil {
		t.Error("Register without handler should fail")
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := newTestRegistry(t, newMemStore(), logSender())
	if _, err := r.Resolve("get_order_status"); err != nil {
		t.Errorf("Resolve(get_order_status): %v", err)
	}
	var unavailable *ErrToolUnavailable
	if _, err := r.Resolve("delete_order"); !errors.As(err, &unavailable) {
		t.Errorf("Resolve(delete_order) err = %v, want ErrToolUnavailable", err)
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := newTestRegistry(t, newMemStore(), logSender())

	tests := []struct {
		name    string
		tool    string
		raw     map[string]any
		wantErr string
	}{
		{name: "ok", tool: "get_order_status", raw: map[string]any{"order_id": "2743"}},
		{name: "missing", tool: "get_order_status", raw: map[string]any{}, wantErr: "order_id"},
		{name: "nil args", tool: "get_order_status", raw: nil, wantErr: "order_id"},
		{name: "extra", tool: "get_order_status", raw: map[string]any{"order_id": "2743", "note": "x"}, wantErr: "note"},
		{name: "wrong type", tool: "get_order_status", raw: map[string]any{"order_id": 2743.0}, wantErr: "string"},
		{name: "email missing body", tool: "send_voucher_email", raw: map[string]any{"email_to": "a@b.c", "email_subject": "s"}, wantErr: "email_body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := r.Validate(tt.tool, tt.raw)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				if args["order_id"] != "2743" {
					t.Errorf("args = %v", args)
				}
				return
			}
			var in *ToolInputError
			if !errors.As(err, &in) {
				t.Fatalf("err = %v, want *ToolInputError", err)
			}
			if !strings.Contains(in.Reason(), tt.wantErr) {
				t.Errorf("reason %q does not mention %q", in.Reason(), tt.wantErr)
			}
		})
	}
}

func TestOrderTools(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(t, store, logSender())
	ctx := context.Background()

	tests := []struct {
		name    string
		tool    string
		orderID string
		want    string
	}{
		{"status", "get_order_status", "2743", "payment_status: paid, status: late delivery"},
		{"email", "get_email_for_order", "2744", "user2@example.com"},
		{"humancheck", "set_humancheck_status", "2745", "Status set to humancheck"},
		{"refund", "set_refund_status", "2746", "Status set to refund"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Execute(ctx, tt.tool, Args{"order_id": tt.orderID})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if o, _ := store.Get(ctx, "2746"); o.Status != orders.StatusRefund {
		t.Errorf("2746 status = %q, want refund", o.Status)
	}
}

func TestOrderTools_Failures(t *testing.T) {
	r := newTestRegistry(t, newMemStore(), logSender())
	ctx := context.Background()

	tests := []struct {
		name    string
		tool    string
		orderID string
		wantObs string
	}{
		{"status not found", "get_order_status", "9999", ObsOrderNotFound},
		{"email not found", "get_email_for_order", "9999", ObsOrderNotFound},
		{"refund not found", "set_refund_status", "9999", ObsOrderNotFound},
		{"humancheck not found", "set_humancheck_status", "9999", ObsOrderNotFound},
		{"garbage id", "get_order_status", "my pizza", ObsWrongInput},
		{"empty id", "set_refund_status", "", ObsWrongInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Execute(ctx, tt.tool, Args{"order_id": tt.orderID})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := Observation(err); got != tt.wantObs {
				t.Errorf("Observation = %q, want %q", got, tt.wantObs)
			}
		})
	}
}

func TestSendVoucherEmail(t *testing.T) {
	sender := logSender()
	r := newTestRegistry(t, newMemStore(), sender)

	got, err := r.Execute(context.Background(), "send_voucher_email", Args{
		"email_to":      "user1@example.com",
		"email_subject": "Sorry about your late order",
		"email_body":    "We apologise for the delay.",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "Voucher email sent to user1@example.com" {
		t.Errorf("got %q", got)
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	wantBody := "We apologise for the delay.\n\nThe $5 voucher code is ABCDE23456"
	if sent[0].Body != wantBody {
		t.Errorf("body = %q, want %q", sent[0].Body, wantBody)
	}
	if sent[0].From != "support@example.com" {
		t.Errorf("from = %q", sent[0].From)
	}
}

func TestSendVoucherEmail_Failures(t *testing.T) {
	r := newTestRegistry(t, newMemStore(), failingSender{err: errors.New("535 authentication failed")})
	ctx := context.Background()

	_, err := r.Execute(ctx, "send_voucher_email", Args{"email_to": "user1@example.com", "email_subject": "s", "email_body": "b"})
	if got := Observation(err); got != "Email delivery failed: 535 authentication failed" {
		t.Errorf("Observation = %q", got)
	}

	_, err = r.Execute(ctx, "send_voucher_email", Args{"email_to": "nobody", "email_subject": "s", "email_body": "b"})
	if got := Observation(err); !strings.HasPrefix(got, "Wrong input given: ") {
		t.Errorf("Observation = %q", got)
	}
}

func TestObservation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", &ToolExecutionError{Tool: "x", Err: ctx.Err()}, "Tool call timed out, try again or escalate to a human agent."},
		{"unavailable", &ErrToolUnavailable{ToolName: "x"}, `Tool "x" is not available.`},
		{"generic", &ToolExecutionError{Tool: "x", Err: errors.New("disk full")}, "Tool failed: x failed: disk full"},
		{"invalid id sentinel", fmt.Errorf("wrap: %w", orders.ErrInvalidID), ObsWrongInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Observation(tt.err); got != tt.want {
				t.Errorf("Observation = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchema(t *testing.T) {
	s := Schema([]Param{{Name: "a", Required: true}, {Name: "b"}})
	if s["additionalProperties"] != false {
		t.Error("schema must forbid additional properties")
	}
	req, _ := s["required"].([]string)
	if len(req) != 1 || req[0] != "a" {
		t.Errorf("required = %v", s["required"])
	}
}
