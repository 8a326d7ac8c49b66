package orders

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventPublisher announces terminal orders to downstream consumers.
type EventPublisher interface {
	PublishOrder(ctx context.Context, order Order) error
}

type messageSender interface {
	Send(ctx context.Context, messageBody string, attributes map[string]string, groupID, dedupID string) error
}

// OrderEvent is the message body published for each terminal order.
type OrderEvent struct {
	Event string `json:"event"`
	Order Order  `json:"order"`
}

// EventName returns the event type for a status, e.g. "order.CONFIRMED".
func EventName(status Status) string {
	return "order." + string(status)
}

// QueuePublisher publishes order events through a queue sender (the SQS publisher).
type QueuePublisher struct {
	sender messageSender
}

// NewQueuePublisher wraps sender.
func NewQueuePublisher(sender messageSender) *QueuePublisher {
	return &QueuePublisher{sender: sender}
}

func (p *QueuePublisher) PublishOrder(ctx context.Context, order Order) error {
	ev := OrderEvent{Event: EventName(order.Status), Order: order}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	attrs := map[string]string{
		"event":       ev.Event,
		"order_id":    order.OrderID,
		"customer_id": order.CustomerID,
	}
	// an order reaches exactly one terminal status, so the id alone deduplicates
	return p.sender.Send(ctx, string(body), attrs, order.OrderID, order.OrderID)
}
