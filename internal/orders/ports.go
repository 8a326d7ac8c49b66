package orders

import "context"

// InventoryResult is the inventory collaborator's answer for one product.
type InventoryResult struct {
	Available bool
	Quantity  int
	UnitPrice float64 // whole JPY
}

// InventoryClient checks stock and unit price. Errors are collaborator faults.
type InventoryClient interface {
	Check(ctx context.Context, productID string) (InventoryResult, error)
}

// PaymentOutcome is the settlement outcome reported by the payment collaborator.
type PaymentOutcome string

const (
	PaymentSuccess PaymentOutcome = "SUCCESS"
	PaymentFailed  PaymentOutcome = "FAILED"
	PaymentPending PaymentOutcome = "PENDING"
)

// PaymentResult is the payment collaborator's settlement answer.
type PaymentResult struct {
	Outcome       PaymentOutcome
	TransactionID string
}

// PaymentClient settles an amount for an order. Amounts are whole JPY carried in a
// float64 to match the collaborators' JSON. Errors are collaborator faults.
type PaymentClient interface {
	Settle(ctx context.Context, orderID, customerID string, amount float64) (PaymentResult, error)
}

// Repository is the durable order store.
// Get returns (nil, nil) when the order does not exist.
type Repository interface {
	Save(ctx context.Context, order Order) (Order, error)
	Get(ctx context.Context, orderID string) (*Order, error)
	FindByCustomer(ctx context.Context, customerID string) ([]Order, error)
	FindByStatus(ctx context.Context, status Status) ([]Order, error)
}
