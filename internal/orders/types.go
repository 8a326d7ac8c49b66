package orders

import "time"

// Status is the terminal outcome of one saga run. It is assigned once and never changes.
type Status string

const (
	StatusConfirmed     Status = "CONFIRMED"
	StatusOutOfStock    Status = "OUT_OF_STOCK"
	StatusPaymentFailed Status = "PAYMENT_FAILED"
	StatusError         Status = "ERROR"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusOutOfStock, StatusPaymentFailed, StatusError:
		return true
	}
	return false
}

// Request is the business payload of an order placement.
type Request struct {
	ProductID  string
	Quantity   int
	CustomerID string
}

// Order represents the item stored in the Orders table and the body returned to callers.
type Order struct {
	OrderID     string    `json:"order_id" dynamodbav:"order_id"` // PK
	ProductID   string    `json:"product_id" dynamodbav:"product_id"`
	Quantity    int       `json:"quantity" dynamodbav:"quantity"`
	CustomerID  string    `json:"customer_id" dynamodbav:"customer_id"` // GSI customer_id-index
	TotalAmount float64   `json:"total_amount" dynamodbav:"total_amount"` // whole JPY, exact below 2^53
	Status      Status    `json:"status" dynamodbav:"status"` // GSI status-index
	CreatedAt   time.Time `json:"-" dynamodbav:"created_at"`
}
