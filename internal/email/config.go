package email

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds outbound email settings. It is embedded in the top-level
// Charmbot config under the "email" YAML key.
type Config struct {
	// From is the sender address for voucher mail (e.g.,
	// "Charmbot Support <support@example.com>"). Defaults to the SMTP
	// username when empty.
	From string `yaml:"from"`

	// BccOwner receives a blind copy of every voucher email unless it
	// is already a recipient.
	BccOwner string `yaml:"bcc_owner"`

	// VoucherAmount is the display amount in the voucher line.
	// Default: "$5".
	VoucherAmount string `yaml:"voucher_amount"`

	// DryRun logs outbound messages instead of delivering them.
	DryRun bool `yaml:"dry_run"`

	// SMTP configures the submission server.
	SMTP SMTPConfig `yaml:"smtp"`
}

// SMTPConfig holds SMTP server connection parameters for outbound email.
type SMTPConfig struct {
	// Host is the SMTP server hostname (e.g., "smtp.gmail.com").
	Host string `yaml:"host"`

	// Port is the SMTP server port. Default: 587 (submission with STARTTLS).
	Port int `yaml:"port"`

	// Username is the SMTP login username. Supports environment variable
	// expansion via the config loader (e.g., ${EMAIL_ID}).
	Username string `yaml:"username"`

	// Password is the SMTP login password (e.g., ${EMAIL_PASSWORD}).
	Password string `yaml:"password"`

	// StartTLS controls whether to upgrade the connection with STARTTLS.
	// Default: true. Set to false for port 465 (implicit TLS).
	StartTLS bool `yaml:"starttls"`
}

// Configured reports whether SMTP delivery is possible.
func (c Config) Configured() bool {
	return c.SMTP.Host != "" && c.SMTP.Username != ""
}

// ApplyDefaults fills zero-value fields with sensible defaults.
// Called by the parent config's applyDefaults method.
func (c *Config) ApplyDefaults() {
	if c.VoucherAmount == "" {
		c.VoucherAmount = "$5"
	}
	if c.SMTP.Host == "" {
		return
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if !c.SMTP.StartTLS && c.SMTP.Port != 465 {
		c.SMTP.StartTLS = true
	}
	if c.From == "" {
		c.From = c.SMTP.Username
	}
}

// Validate checks that the email configuration is internally consistent.
func (c Config) Validate() error {
	var errs []error
	if c.SMTP.Host != "" {
		if c.SMTP.Username == "" {
			errs = append(errs, errors.New("email.smtp.username is required when email.smtp.host is set"))
		}
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("email.smtp.port %d out of range (1-65535)", c.SMTP.Port))
		}
		if c.From == "" {
			errs = append(errs, errors.New("email.from is required when smtp is configured"))
		}
	}
	if c.BccOwner != "" && !strings.Contains(c.BccOwner, "@") {
		errs = append(errs, fmt.Errorf("email.bcc_owner %q is not an email address", c.BccOwner))
	}
	return errors.Join(errs...)
}
