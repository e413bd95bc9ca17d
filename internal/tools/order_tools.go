package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/charmbot/internal/orders"
)

var orderIDParam = Param{
	Name:        "order_id",
	Description: "The customer's order number, e.g. 2743",
	Required:    true,
}

// RegisterOrderTools adds the lookup and status tools backed by store.
func RegisterOrderTools(r *Registry, store orders.Store) error {
	h := &orderHandlers{store: store}
	for _, t := range []*Tool{
		{
			Name:        "get_order_status",
			Description: "Returns the payment status and current status of the order based on the order ID.",
			Params:      []Param{orderIDParam},
			Handler:     h.getOrderStatus,
		},
		{
			Name:        "get_email_for_order",
			Description: "Returns the email associated with the given order ID.",
			Params:      []Param{orderIDParam},
			Handler:     h.getEmail,
		},
		{
			Name:        "set_humancheck_status",
			Description: "Sets the status of the order to 'humancheck' to indicate manual review is required.",
			Params:      []Param{orderIDParam},
			Handler:     h.setStatus(orders.StatusHumanCheck),
		},
		{
			Name:        "set_refund_status",
			Description: "Sets the status of the order to 'refund' to indicate the order is being refunded.",
			Params:      []Param{orderIDParam},
			Handler:     h.setStatus(orders.StatusRefund),
		},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type orderHandlers struct {
	store orders.Store
}

func (h *orderHandlers) orderID(tool string, args Args) (string, error) {
	id := args["order_id"]
	if err := orders.ValidateID(id); err != nil {
		return "", &ToolInputError{Tool: tool, Param: "order_id", Reasons: []string{err.Error()}}
	}
	return id, nil
}

func (h *orderHandlers) getOrderStatus(ctx context.Context, args Args) (string, error) {
	id, err := h.orderID("get_order_status", args)
	if err != nil {
		return "", err
	}
	o, err := h.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("payment_status: %s, status: %s", o.PaymentStatus, o.Status), nil
}

func (h *orderHandlers) getEmail(ctx context.Context, args Args) (string, error) {
	id, err := h.orderID("get_email_for_order", args)
	if err != nil {
		return "", err
	}
	return h.store.Email(ctx, id)
}

func (h *orderHandlers) setStatus(status orders.Status) Handler {
	tool := "set_" + string(status) + "_status"
	return func(ctx context.Context, args Args) (string, error) {
		id, err := h.orderID(tool, args)
		if err != nil {
			return "", err
		}
		if err := h.store.SetStatus(ctx, id, status); err != nil {
			return "", err
		}
		return "Status set to " + string(status), nil
	}
}

// Observation strings for outcomes the model must recognize.
const (
	ObsOrderNotFound = "Order not found"
	ObsWrongInput    = "Wrong input given, please provide order no."
)

// Observation renders a tool failure as the text the model sees. It
// never includes stack traces or driver internals beyond the error text.
func Observation(err error) string {
	var (
		unavailable *ErrToolUnavailable
		input       *ToolInputError
		delivery    *DeliveryError
	)
	switch {
	case errors.As(err, &input):
		if input.Param == "order_id" {
			return ObsWrongInput
		}
		return "Wrong input given: " + input.Reason()
	case errors.Is(err, orders.ErrNotFound):
		return ObsOrderNotFound
	case errors.Is(err, orders.ErrInvalidID):
		return ObsWrongInput
	case errors.As(err, &delivery):
		return "Email delivery failed: " + delivery.Err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Tool call timed out, try again or escalate to a human agent."
	case errors.As(err, &unavailable):
		return fmt.Sprintf("Tool %q is not available.", unavailable.ToolName)
	default:
		return "Tool failed: " + err.Error()
	}
}
