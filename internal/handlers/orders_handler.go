package handlers

import (
	"context"
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-idempotent-saga/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-saga/internal/orders"
	"github.com/imrishuroy/go-idempotent-saga/internal/validation"
)

// OrderPlacer runs an order placement under an optional idempotency key.
type OrderPlacer interface {
	Handle(ctx context.Context, req orders.Request, key string) (idempotency.Result, error)
}

// OrderReader is the read side of the order store.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	FindByCustomer(ctx context.Context, customerID string) ([]orders.Order, error)
	FindByStatus(ctx context.Context, status orders.Status) ([]orders.Order, error)
}

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	Placer OrderPlacer
	Orders OrderReader
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	g := r.Group("/api/orders")

	g.POST("", func(c *gin.Context) {
		// the key is checked before the body so a bad key never reaches the coordinator;
		// a header sent empty is malformed, not absent
		_, present := c.Request.Header[validation.IdempotencyKeyHeader]
		key := c.GetHeader(validation.IdempotencyKeyHeader)
		if present && (key == "" || !validation.ValidIdempotencyKey(v, key)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_idempotency_key"})
			return
		}

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		res, err := cfg.Placer.Handle(c.Request.Context(), req.ToOrderRequest(), key)
		if err != nil {
			log.Printf("[handlers] place order failed key=%s: %v", key, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		if key != "" {
			c.Header(validation.IdempotencyKeyHeader, key)
		}
		switch r := res.(type) {
		case idempotency.Fresh:
			c.JSON(http.StatusOK, r.Order)
		case idempotency.Cached:
			c.JSON(r.StatusCode, r.Order)
		case idempotency.Conflict:
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(r.RetryAfter.Seconds()))))
			c.JSON(http.StatusConflict, gin.H{"error": "request_in_progress"})
		case idempotency.FingerprintMismatch:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused"})
		default:
			log.Printf("[handlers] unexpected coordinator result %T key=%s", res, key)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
	})

	g.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		order, err := cfg.Orders.Get(c.Request.Context(), id)
		if err != nil {
			log.Printf("[handlers] get order failed order=%s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		c.JSON(http.StatusOK, order)
	})

	g.GET("", func(c *gin.Context) {
		var q validation.ListOrdersQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "msg": err.Error()})
			return
		}
		if err := v.Struct(q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "msg": "exactly one of customer_id or status is required"})
			return
		}

		var (
			list []orders.Order
			err  error
		)
		if q.CustomerID != "" {
			list, err = cfg.Orders.FindByCustomer(c.Request.Context(), q.CustomerID)
		} else {
			list, err = cfg.Orders.FindByStatus(c.Request.Context(), orders.Status(q.Status))
		}
		if err != nil {
			log.Printf("[handlers] list orders failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if list == nil {
			list = []orders.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})
}
