package idempotency

import (
	"context"
	"time"
)

// Status values for idempotency entries
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IdempotencyRecord is the shape persisted in the idempotency table.
// CachedResponse is set only while Status is COMPLETED.
type IdempotencyRecord struct {
	IdempotencyKey     string    `dynamodbav:"idempotency_key"` // PK
	Status             Status    `dynamodbav:"status"`
	RequestFingerprint string    `dynamodbav:"request_fingerprint"`
	ClaimToken         string    `dynamodbav:"claim_token"` // changes on every claim and reclaim
	CachedResponse     *string   `dynamodbav:"cached_response,omitempty"`
	CachedStatusCode   *int      `dynamodbav:"cached_status_code,omitempty"`
	CreatedAt          time.Time `dynamodbav:"created_at"`
	UpdatedAt          time.Time `dynamodbav:"updated_at"`
	ExpiresAt          int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

// Expiry returns ExpiresAt as a time.
func (r IdempotencyRecord) Expiry() time.Time {
	return time.Unix(r.ExpiresAt, 0).UTC()
}

// RecordStore is the storage contract the Coordinator relies on.
//
// TryCreate must be atomic: for a key with no record, exactly one concurrent
// caller observes true. Reclaim gives the same guarantee when taking a FAILED or
// unusable COMPLETED record back: it only succeeds while the record still carries
// prevToken. MarkCompleted and MarkFailed only apply to a PROCESSING record that
// still carries the caller's token; otherwise they return ErrClaimLost.
type RecordStore interface {
	TryCreate(ctx context.Context, key, fingerprint, token string, expiresAt time.Time) (bool, error)
	Find(ctx context.Context, key string) (*IdempotencyRecord, error)
	Reclaim(ctx context.Context, key, fingerprint, prevToken, token string, expiresAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, key, token, responseBody string, statusCode int) error
	MarkFailed(ctx context.Context, key, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
