package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaPostgres = `
	CREATE TABLE IF NOT EXISTS orders (
		order_id VARCHAR(10) PRIMARY KEY,
		email_id VARCHAR(255) NOT NULL,
		ordering_timestamp TIMESTAMP NOT NULL,
		order_items JSONB NOT NULL,
		total_price DOUBLE PRECISION NOT NULL,
		payment_method VARCHAR(20),
		payment_status VARCHAR(20) NOT NULL DEFAULT 'unpaid',
		delivery_address TEXT,
		delivery_timestamp TIMESTAMP,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
	)`

// PostgresStore is an order store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the orders table if
// needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaPostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the server is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get returns the order with the given ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var (
		o               Order
		items           []byte
		method, address *string
		payment, status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT order_id, email_id, ordering_timestamp, order_items, total_price,
		       payment_method, payment_status, delivery_address, delivery_timestamp, status
		FROM orders WHERE order_id = $1`, id).Scan(
		&o.ID, &o.Email, &o.OrderedAt, &items, &o.TotalPrice,
		&method, &payment, &address, &o.DeliveredAt, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query order %s: %w", id, err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items for %s: %w", id, err)
	}
	if method != nil {
		o.PaymentMethod = *method
	}
	if address != nil {
		o.DeliveryAddress = *address
	}
	o.PaymentStatus = PaymentStatus(payment)
	o.Status = Status(status)
	return &o, nil
}

// SetStatus transitions an existing order.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET status = $1 WHERE order_id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Email returns the customer email address on an order.
func (s *PostgresStore) Email(ctx context.Context, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	var email string
	err := s.pool.QueryRow(ctx, `SELECT email_id FROM orders WHERE order_id = $1`, id).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("query email for %s: %w", id, err)
	}
	return email, nil
}

// Seed drops every existing order and inserts orders in one transaction.
func (s *PostgresStore) Seed(ctx context.Context, orders []Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM orders`); err != nil {
		return fmt.Errorf("clear orders: %w", err)
	}
	for _, o := range orders {
		items, err := json.Marshal(o.Items)
		if err != nil {
			return fmt.Errorf("encode items for %s: %w", o.ID, err)
		}
		var deliveredAt *time.Time
		if o.DeliveredAt != nil {
			t := o.DeliveredAt.UTC()
			deliveredAt = &t
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO orders (order_id, email_id, ordering_timestamp, order_items, total_price,
			                    payment_method, payment_status, delivery_address, delivery_timestamp, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			o.ID, o.Email, o.OrderedAt.UTC(), items, o.TotalPrice,
			o.PaymentMethod, string(o.PaymentStatus), o.DeliveryAddress, deliveredAt, string(o.Status))
		if err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
	}
	return tx.Commit(ctx)
}
