package orders

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-idempotent-saga/internal/metrics"
)

// ExecutorOptions carries the optional collaborators and bounded timeouts of an Executor.
// Zero timeouts disable the bound for that call.
type ExecutorOptions struct {
	Events           EventPublisher
	Metrics          metrics.Recorder
	InventoryTimeout time.Duration
	PaymentTimeout   time.Duration
	StoreTimeout     time.Duration
	NewID            func() string
}

// Executor runs the order saga: stock check, then payment, then one terminal save.
type Executor struct {
	inventory InventoryClient
	payments  PaymentClient
	repo      Repository
	events    EventPublisher
	metrics   metrics.Recorder
	opts      ExecutorOptions
	newID     func() string
	nowFunc   func() time.Time
}

// NewExecutor wires an Executor.
func NewExecutor(inventory InventoryClient, payments PaymentClient, repo Repository, opts ExecutorOptions) *Executor {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Executor{
		inventory: inventory,
		payments:  payments,
		repo:      repo,
		events:    opts.Events,
		metrics:   rec,
		opts:      opts,
		newID:     newID,
		nowFunc:   time.Now,
	}
}

// Execute runs one saga and returns the persisted terminal Order.
// Business outcomes and collaborator faults become Order statuses; only a failure
// to persist the Order is returned as an error.
func (e *Executor) Execute(ctx context.Context, req Request) (Order, error) {
	order := Order{
		OrderID:    e.newID(),
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		CustomerID: req.CustomerID,
	}
	log.Printf("[saga] creating order=%s product=%s qty=%d", order.OrderID, req.ProductID, req.Quantity)

	inv, err := e.checkInventory(ctx, req.ProductID)
	if err != nil {
		log.Printf("[saga] inventory check failed order=%s: %v", order.OrderID, err)
		return e.finish(ctx, order, 0, StatusError)
	}
	if !inv.Available || inv.Quantity < req.Quantity {
		log.Printf("[saga] out of stock order=%s product=%s available=%d", order.OrderID, req.ProductID, inv.Quantity)
		return e.finish(ctx, order, 0, StatusOutOfStock)
	}

	total := inv.UnitPrice * float64(req.Quantity)
	res, err := e.settle(ctx, order.OrderID, req.CustomerID, total)
	if err != nil {
		log.Printf("[saga] payment failed order=%s: %v", order.OrderID, err)
		return e.finish(ctx, order, total, StatusError)
	}
	// PENDING has no order status of its own and is treated as a failed settlement.
	if res.Outcome != PaymentSuccess {
		log.Printf("[saga] payment not settled order=%s outcome=%s", order.OrderID, res.Outcome)
		return e.finish(ctx, order, total, StatusPaymentFailed)
	}

	log.Printf("[saga] confirmed order=%s tx=%s", order.OrderID, res.TransactionID)
	return e.finish(ctx, order, total, StatusConfirmed)
}

func (e *Executor) checkInventory(ctx context.Context, productID string) (InventoryResult, error) {
	ctx, cancel := withTimeout(ctx, e.opts.InventoryTimeout)
	defer cancel()
	return e.inventory.Check(ctx, productID)
}

func (e *Executor) settle(ctx context.Context, orderID, customerID string, amount float64) (PaymentResult, error) {
	ctx, cancel := withTimeout(ctx, e.opts.PaymentTimeout)
	defer cancel()
	return e.payments.Settle(ctx, orderID, customerID, amount)
}

// finish is the single persistence point of every saga path.
func (e *Executor) finish(ctx context.Context, order Order, amount float64, status Status) (Order, error) {
	order.TotalAmount = amount
	order.Status = status
	order.CreatedAt = e.nowFunc().UTC()

	saveCtx, cancel := withTimeout(ctx, e.opts.StoreTimeout)
	saved, err := e.repo.Save(saveCtx, order)
	cancel()
	if err != nil {
		return Order{}, fmt.Errorf("persist order %s: %w", order.OrderID, err)
	}

	e.metrics.Count(ctx, metrics.SagaOutcome, 1, map[string]string{"Status": string(saved.Status)})
	if e.events != nil {
		if err := e.events.PublishOrder(ctx, saved); err != nil {
			log.Printf("[saga] publish event failed order=%s: %v", saved.OrderID, err)
		}
	}
	return saved, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
