package collaborators

import (
	"context"
	"net/http"

	"github.com/imrishuroy/go-idempotent-saga/internal/orders"
)

// Currency is the only settlement currency the payment service accepts.
const Currency = "JPY"

// PaymentRequest is the body of POST /api/payments.
type PaymentRequest struct {
	OrderID    string  `json:"orderId"`
	CustomerID string  `json:"customerId"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
}

// PaymentResponse is the payment service's settlement answer.
type PaymentResponse struct {
	PaymentID     string `json:"paymentId"`
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

// Payment calls POST {base}/api/payments.
type Payment struct {
	baseURL string
	client  *http.Client
}

// NewPayment returns a payment adapter. A nil client uses http.DefaultClient.
func NewPayment(baseURL string, client *http.Client) *Payment {
	return &Payment{baseURL: baseURL, client: orDefault(client)}
}

// Settle implements orders.PaymentClient. Unknown statuses are reported as-is
// and treated as not settled by the saga.
func (p *Payment) Settle(ctx context.Context, orderID, customerID string, amount float64) (orders.PaymentResult, error) {
	var resp PaymentResponse
	body := PaymentRequest{
		OrderID:    orderID,
		CustomerID: customerID,
		Amount:     amount,
		Currency:   Currency,
	}
	if err := doJSON(ctx, p.client, "payment", http.MethodPost, joinURL(p.baseURL, "/api/payments"), body, &resp); err != nil {
		return orders.PaymentResult{}, err
	}
	return orders.PaymentResult{
		Outcome:       orders.PaymentOutcome(resp.Status),
		TransactionID: resp.TransactionID,
	}, nil
}
