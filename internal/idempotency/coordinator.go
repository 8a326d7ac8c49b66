package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-idempotent-saga/internal/metrics"
	"github.com/imrishuroy/go-idempotent-saga/internal/orders"
)

const (
	// DefaultTTL is how long a key is remembered after it is claimed.
	DefaultTTL = 24 * time.Hour
	// DefaultRetryAfter is the delay suggested to callers that hit an in-flight key.
	DefaultRetryAfter = time.Second
)

// Result is one of Fresh, Cached, Conflict or FingerprintMismatch.
type Result interface {
	result()
}

// Fresh means this call ran the saga.
type Fresh struct {
	Order orders.Order
}

// Cached means the key had already completed and the stored response is replayed.
type Cached struct {
	Order      orders.Order
	StatusCode int
}

// Conflict means another execution owns the key; retry after RetryAfter.
type Conflict struct {
	RetryAfter time.Duration
}

// FingerprintMismatch means the key was first used with a different payload.
type FingerprintMismatch struct{}

func (Fresh) result()               {}
func (Cached) result()              {}
func (Conflict) result()            {}
func (FingerprintMismatch) result() {}

// OutcomeName returns a stable label for metrics and logs.
func OutcomeName(r Result) string {
	switch r.(type) {
	case Fresh:
		return "Fresh"
	case Cached:
		return "Cached"
	case Conflict:
		return "Conflict"
	case FingerprintMismatch:
		return "FingerprintMismatch"
	default:
		return "Unknown"
	}
}

// SagaRunner executes one order saga. The orders.Executor satisfies it.
type SagaRunner interface {
	Execute(ctx context.Context, req orders.Request) (orders.Order, error)
}

// Options configures a Coordinator. Zero values take the defaults.
type Options struct {
	TTL          time.Duration
	RetryAfter   time.Duration
	StoreTimeout time.Duration
	Metrics      metrics.Recorder
}

// Coordinator deduplicates order placements by idempotency key. It keeps no
// per-key state in memory; every decision is read from the store.
type Coordinator struct {
	store        RecordStore
	saga         SagaRunner
	ttl          time.Duration
	retryAfter   time.Duration
	storeTimeout time.Duration
	metrics      metrics.Recorder
	nowFunc      func() time.Time
	newToken     func() string
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(store RecordStore, saga SagaRunner, opts Options) *Coordinator {
	c := &Coordinator{
		store:        store,
		saga:         saga,
		ttl:          opts.TTL,
		retryAfter:   opts.RetryAfter,
		storeTimeout: opts.StoreTimeout,
		metrics:      opts.Metrics,
		nowFunc:      time.Now,
		newToken:     uuid.NewString,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.retryAfter <= 0 {
		c.retryAfter = DefaultRetryAfter
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}
	return c
}

// Handle places an order. An empty key bypasses deduplication entirely.
// The returned error is non-nil only for infrastructure faults.
func (c *Coordinator) Handle(ctx context.Context, req orders.Request, key string) (Result, error) {
	var (
		res Result
		err error
	)
	if key == "" {
		var order orders.Order
		order, err = c.saga.Execute(ctx, req)
		if err == nil {
			res = Fresh{Order: order}
		}
	} else {
		res, err = c.handleKeyed(ctx, req, key)
	}
	if err != nil {
		return nil, err
	}
	c.metrics.Count(ctx, metrics.CoordinatorOutcome, 1, map[string]string{"Outcome": OutcomeName(res)})
	return res, nil
}

func (c *Coordinator) handleKeyed(ctx context.Context, req orders.Request, key string) (Result, error) {
	fp := Fingerprint(req)

	token := c.newToken()
	created, err := c.tryCreate(ctx, key, fp, token)
	if err != nil {
		return nil, err
	}
	if created {
		return c.executeAndRecord(ctx, key, token, req)
	}

	rec, err := c.find(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// the record that blocked the claim is gone (swept); one more attempt, then give up
		log.Printf("[coordinator] record vanished after claim conflict, retrying key=%s", key)
		created, err = c.tryCreate(ctx, key, fp, token)
		if err != nil {
			return nil, err
		}
		if created {
			return c.executeAndRecord(ctx, key, token, req)
		}
		return Conflict{RetryAfter: c.retryAfter}, nil
	}

	if rec.RequestFingerprint != fp {
		log.Printf("[coordinator] fingerprint mismatch key=%s", key)
		return FingerprintMismatch{}, nil
	}

	switch rec.Status {
	case StatusCompleted:
		order, ok := decodeCached(rec)
		if !ok {
			log.Printf("[coordinator] completed record without usable response, re-executing key=%s", key)
			return c.reclaimAndExecute(ctx, key, fp, rec.ClaimToken, token, req)
		}
		code := http.StatusOK
		if rec.CachedStatusCode != nil {
			code = *rec.CachedStatusCode
		}
		log.Printf("[coordinator] replaying cached response key=%s order=%s", key, order.OrderID)
		return Cached{Order: order, StatusCode: code}, nil
	case StatusProcessing:
		log.Printf("[coordinator] request still processing key=%s", key)
		return Conflict{RetryAfter: c.retryAfter}, nil
	case StatusFailed:
		log.Printf("[coordinator] retrying failed request key=%s", key)
		return c.reclaimAndExecute(ctx, key, fp, rec.ClaimToken, token, req)
	default:
		return nil, fmt.Errorf("idempotency key %s has unknown status %q", key, rec.Status)
	}
}

// reclaimAndExecute takes the record read by this call back to PROCESSING under token
// before re-running the saga, so concurrent retries still execute it only once.
func (c *Coordinator) reclaimAndExecute(ctx context.Context, key, fp, prevToken, token string, req orders.Request) (Result, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	ok, err := c.store.Reclaim(sctx, key, fp, prevToken, token, c.expiry())
	if err != nil {
		return nil, fmt.Errorf("reclaim idempotency key: %w", err)
	}
	if !ok {
		return Conflict{RetryAfter: c.retryAfter}, nil
	}
	return c.executeAndRecord(ctx, key, token, req)
}

// executeAndRecord runs the saga for a key this call owns. It detaches from the
// caller's cancellation: once claimed, the key must reach COMPLETED or FAILED.
func (c *Coordinator) executeAndRecord(ctx context.Context, key, token string, req orders.Request) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	order, err := c.saga.Execute(ctx, req)
	if err != nil {
		log.Printf("[coordinator] saga failed, marking key FAILED key=%s: %v", key, err)
		c.markFailedQuietly(ctx, key, token)
		return nil, err
	}

	body, err := json.Marshal(order)
	if err != nil {
		c.markFailedQuietly(ctx, key, token)
		return nil, fmt.Errorf("marshal order response: %w", err)
	}

	sctx, cancel := c.storeCtx(ctx)
	err = c.store.MarkCompleted(sctx, key, token, string(body), http.StatusOK)
	cancel()
	if err != nil {
		log.Printf("[coordinator] mark completed failed key=%s order=%s: %v", key, order.OrderID, err)
		if !errors.Is(err, ErrClaimLost) {
			c.markFailedQuietly(ctx, key, token)
		}
		return nil, fmt.Errorf("record completed order: %w", err)
	}
	return Fresh{Order: order}, nil
}

func (c *Coordinator) tryCreate(ctx context.Context, key, fp, token string) (bool, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	created, err := c.store.TryCreate(sctx, key, fp, token, c.expiry())
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return created, nil
}

func (c *Coordinator) find(ctx context.Context, key string) (*IdempotencyRecord, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	rec, err := c.store.Find(sctx, key)
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	return rec, nil
}

// markFailedQuietly releases a claim after a failed run. A lost claim needs no release.
func (c *Coordinator) markFailedQuietly(ctx context.Context, key, token string) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.store.MarkFailed(sctx, key, token); err != nil {
		log.Printf("[coordinator] mark idempotency key failed key=%s: %v", key, err)
	}
}

func (c *Coordinator) expiry() time.Time {
	return c.nowFunc().Add(c.ttl)
}

func (c *Coordinator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.storeTimeout)
}

func decodeCached(rec *IdempotencyRecord) (orders.Order, bool) {
	if rec.CachedResponse == nil {
		return orders.Order{}, false
	}
	var order orders.Order
	if err := json.Unmarshal([]byte(*rec.CachedResponse), &order); err != nil {
		return orders.Order{}, false
	}
	return order, true
}
