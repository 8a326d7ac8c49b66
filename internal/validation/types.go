package validation

import "github.com/imrishuroy/go-idempotent-saga/internal/orders"

// IdempotencyKeyHeader carries the optional client-chosen idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

// CreateOrderRequest is the payload for POST /api/orders
type CreateOrderRequest struct {
	ProductID  string `json:"product_id" validate:"required,max=128"`  // catalog id
	Quantity   int    `json:"quantity" validate:"required,min=1"`      // must be >= 1
	CustomerID string `json:"customer_id" validate:"required,max=128"` // business id for customer
}

// ToOrderRequest converts the payload into the saga input.
func (r CreateOrderRequest) ToOrderRequest() orders.Request {
	return orders.Request{
		ProductID:  r.ProductID,
		Quantity:   r.Quantity,
		CustomerID: r.CustomerID,
	}
}

// ListOrdersQuery is the query string of GET /api/orders. Exactly one filter is required.
type ListOrdersQuery struct {
	CustomerID string `form:"customer_id" validate:"required_without=Status,excluded_with=Status"`
	Status     string `form:"status" validate:"omitempty,oneof=CONFIRMED OUT_OF_STOCK PAYMENT_FAILED ERROR"`
}
