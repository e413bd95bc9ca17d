package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const schemaSQLite = `
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		email_id TEXT NOT NULL,
		ordering_timestamp TEXT NOT NULL,
		order_items TEXT NOT NULL,
		total_price REAL NOT NULL,
		payment_method TEXT,
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		delivery_address TEXT,
		delivery_timestamp TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
	)`

// SQLStore is an order store on a database/sql handle using SQLite
// syntax. Both the mattn/go-sqlite3 and modernc.org/sqlite drivers work.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps db and creates the orders table if needed.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if _, err := db.Exec(schemaSQLite); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the order with the given ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*Order, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var (
		o                Order
		orderedAt, items string
		method, address  sql.NullString
		deliveredAt      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT order_id, email_id, ordering_timestamp, order_items, total_price,
		       payment_method, payment_status, delivery_address, delivery_timestamp, status
		FROM orders WHERE order_id = ?`, id).Scan(
		&o.ID, &o.Email, &orderedAt, &items, &o.TotalPrice,
		&method, &o.PaymentStatus, &address, &deliveredAt, &o.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query order %s: %w", id, err)
	}

	o.PaymentMethod = method.String
	o.DeliveryAddress = address.String
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("decode items for %s: %w", id, err)
	}
	if o.OrderedAt, err = time.Parse(time.RFC3339, orderedAt); err != nil {
		return nil, fmt.Errorf("parse ordering_timestamp for %s: %w", id, err)
	}
	if deliveredAt.Valid {
		t, err := time.Parse(time.RFC3339, deliveredAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse delivery_timestamp for %s: %w", id, err)
		}
		o.DeliveredAt = &t
	}
	return &o, nil
}

// SetStatus transitions an existing order. A single UPDATE keeps the
// change atomic per row; zero affected rows means the order is absent.
func (s *SQLStore) SetStatus(ctx context.Context, id string, status Status) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE order_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Email returns the customer email address on an order.
func (s *SQLStore) Email(ctx context.Context, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email_id FROM orders WHERE order_id = ?`, id).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("query email for %s: %w", id, err)
	}
	return email, nil
}

// Seed drops every existing order and inserts orders in one transaction.
func (s *SQLStore) Seed(ctx context.Context, orders []Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		return fmt.Errorf("clear orders: %w", err)
	}
	for _, o := range orders {
		items, err := json.Marshal(o.Items)
		if err != nil {
			return fmt.Errorf("encode items for %s: %w", o.ID, err)
		}
		var deliveredAt any
		if o.DeliveredAt != nil {
			deliveredAt = o.DeliveredAt.UTC().Format(time.RFC3339)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (order_id, email_id, ordering_timestamp, order_items, total_price,
			                    payment_method, payment_status, delivery_address, delivery_timestamp, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.Email, o.OrderedAt.UTC().Format(time.RFC3339), string(items), o.TotalPrice,
			o.PaymentMethod, string(o.PaymentStatus), o.DeliveryAddress, deliveredAt, string(o.Status))
		if err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
	}
	return tx.Commit()
}
