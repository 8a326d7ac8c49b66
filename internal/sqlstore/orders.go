package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-idempotent-saga/internal/orders"
)

// OrderStore is the SQLite orders.Repository.
type OrderStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewOrderStore returns a store over an opened database.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db, nowFunc: time.Now}
}

const orderColumns = `order_id, product_id, quantity, customer_id, total_amount, status, created_at`

// Save inserts a terminal order; an existing id is rejected with orders.ErrAlreadyExists.
func (s *OrderStore) Save(ctx context.Context, order orders.Order) (orders.Order, error) {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.nowFunc().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO orders (`+orderColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (order_id) DO NOTHING
`, order.OrderID, order.ProductID, order.Quantity, order.CustomerID, order.TotalAmount,
		string(order.Status), order.CreatedAt.UTC().UnixMilli())
	if err != nil {
		return orders.Order{}, fmt.Errorf("insert order: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return orders.Order{}, err
	}
	if !ok {
		return orders.Order{}, fmt.Errorf("save order %s: %w", order.OrderID, orders.ErrAlreadyExists)
	}
	return order, nil
}

// Get returns (nil, nil) when the order does not exist.
func (s *OrderStore) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	return &o, nil
}

func (s *OrderStore) FindByCustomer(ctx context.Context, customerID string) ([]orders.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = ? ORDER BY created_at, order_id`, customerID)
}

func (s *OrderStore) FindByStatus(ctx context.Context, status orders.Status) ([]orders.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY created_at, order_id`, string(status))
}

func (s *OrderStore) list(ctx context.Context, query string, arg any) ([]orders.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (orders.Order, error) {
	var (
		o       orders.Order
		status  string
		created int64
	)
	if err := sc.Scan(&o.OrderID, &o.ProductID, &o.Quantity, &o.CustomerID, &o.TotalAmount, &status, &created); err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	o.CreatedAt = time.UnixMilli(created).UTC()
	return o, nil
}
