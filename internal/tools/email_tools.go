package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/charmbot/internal/email"
)

// VoucherConfig controls the compensation email tool.
type VoucherConfig struct {
	From   string
	Amount string

	// NewCode overrides voucher generation in tests.
	NewCode func() (string, error)
}

// RegisterEmailTools adds send_voucher_email backed by sender.
func RegisterEmailTools(r *Registry, sender email.Sender, cfg VoucherConfig) error {
	if cfg.Amount == "" {
		cfg.Amount = "$5"
	}
	if cfg.NewCode == nil {
		cfg.NewCode = email.NewVoucherCode
	}
	h := &voucherHandler{sender: sender, cfg: cfg}
	return r.Register(&Tool{
		Name: "send_voucher_email",
		Description: "Sends an email with a voucher code by taking the recipient's email, subject, and body information. " +
			"The voucher is automatically included in the email body.",
		Params: []Param{
			{Name: "email_to", Description: "Recipient email address", Required: true},
			{Name: "email_subject", Description: "Subject line", Required: true},
			{Name: "email_body", Description: "Apology text; the voucher line is appended", Required: true},
		},
		Handler: h.send,
	})
}

type voucherHandler struct {
	sender email.Sender
	cfg    VoucherConfig
}

func (h *voucherHandler) send(ctx context.Context, args Args) (string, error) {
	to := strings.TrimSpace(args["email_to"])
	if !strings.Contains(to, "@") {
		return "", &ToolInputError{
			Tool:    "send_voucher_email",
			Param:   "email_to",
			Reasons: []string{fmt.Sprintf("%q is not an email address", to)},
		}
	}

	code, err := h.cfg.NewCode()
	if err != nil {
		return "", fmt.Errorf("generate voucher: %w", err)
	}
	msg := email.Message{
		From:    h.cfg.From,
		To:      []string{to},
		Subject: args["email_subject"],
		Body:    email.AppendVoucher(args["email_body"], h.cfg.Amount, code),
	}
	if err := h.sender.Send(ctx, msg); err != nil {
		return "", &DeliveryError{Err: err}
	}
	return "Voucher email sent to " + to, nil
}
