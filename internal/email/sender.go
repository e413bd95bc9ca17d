package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Message is one outbound email as authored by the agent.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages. Implementations must honor ctx cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender composes and delivers messages over SMTP.
type SMTPSender struct {
	cfg    Config
	logger *slog.Logger
}

// NewSMTPSender returns a sender for cfg. The config must have passed
// Validate.
func NewSMTPSender(cfg Config, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, logger: logger.With("component", "email")}
}

// Send composes msg and delivers it, adding the configured owner as a
// blind copy.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	from := msg.From
	if from == "" {
		from = s.cfg.From
	}
	raw, err := ComposeMessage(ComposeOptions{
		From:    from,
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}

	var bcc []string
	if s.cfg.BccOwner != "" {
		bcc = []string{s.cfg.BccOwner}
	}
	rcpts := collectRecipients(msg.To, bcc)

	if err := SendMail(ctx, s.cfg.SMTP, extractAddress(from), rcpts, raw); err != nil {
		return fmt.Errorf("send to %v: %w", msg.To, err)
	}
	s.logger.Info("email sent", "to", msg.To, "subject", msg.Subject, "bytes", len(raw))
	return nil
}

// LogSender records messages and logs them instead of delivering.
// Used for dry runs and when SMTP is not configured.
type LogSender struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

// NewLogSender returns a LogSender that logs through logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "email", "dry_run", true)}
}

// Send records msg.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	s.logger.Info("email not delivered", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

// Sent returns a copy of every recorded message.
func (s *LogSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
