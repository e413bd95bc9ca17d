// Package orders holds the food-delivery order records the agent looks
// up and transitions, and the SQLite and Postgres stores behind them.
package orders

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Status is an order's lifecycle state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusDelivered    Status = "delivered"
	StatusLateDelivery Status = "late delivery"
	StatusHumanCheck   Status = "humancheck" // flagged for manual review
	StatusRefund       Status = "refund"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDelivered, StatusLateDelivery, StatusHumanCheck, StatusRefund:
		return true
	}
	return false
}

// PaymentStatus reports whether an order has been paid for.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// Item is one line of an order.
type Item struct {
	Item     string  `json:"item"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is a single order record.
type Order struct {
	ID              string        `json:"order_id"`
	Email           string        `json:"email_id"`
	Items           []Item        `json:"order_items"`
	TotalPrice      float64       `json:"total_price"`
	PaymentMethod   string        `json:"payment_method"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	DeliveryAddress string        `json:"delivery_address"`
	OrderedAt       time.Time     `json:"ordering_timestamp"`
	DeliveredAt     *time.Time    `json:"delivery_timestamp,omitempty"`
	Status          Status        `json:"status"`
}

var (
	// ErrNotFound is returned when no order has the requested ID.
	ErrNotFound = errors.New("order not found")

	// ErrInvalidID is returned for identifiers that cannot name an order.
	ErrInvalidID = errors.New("invalid order id")
)

// Order IDs are short alphanumeric tokens (e.g. "2743").
var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,10}$`)

// ValidateID checks that id is a well-formed order identifier.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Store is the order store capability used by the agent's tools.
// Implementations return ErrNotFound for unknown IDs and never create
// or delete records.
type Store interface {
	Get(ctx context.Context, id string) (*Order, error)
	SetStatus(ctx context.Context, id string, status Status) error
	Email(ctx context.Context, id string) (string, error)
}

// Seeder recreates the orders table with sample data. It is an operator
// action and is never exposed to the agent.
type Seeder interface {
	Seed(ctx context.Context, orders []Order) error
}
