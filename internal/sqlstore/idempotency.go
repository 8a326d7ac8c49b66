package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-idempotent-saga/internal/idempotency"
)

// IdempotencyStore is the SQLite idempotency.RecordStore. The primary key on
// idempotency_key makes the claim atomic.
type IdempotencyStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewIdempotencyStore returns a store over an opened database.
func NewIdempotencyStore(db *sql.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db, nowFunc: time.Now}
}

func (s *IdempotencyStore) TryCreate(ctx context.Context, key, fingerprint, token string, expiresAt time.Time) (bool, error) {
	now := s.nowFunc().UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO idempotency_records (
	idempotency_key,
	status,
	request_fingerprint,
	claim_token,
	created_at,
	updated_at,
	expires_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (idempotency_key) DO NOTHING
`, key, string(idempotency.StatusProcessing), fingerprint, token, now, now, expiresAt.Unix())
	if err != nil {
		return false, fmt.Errorf("insert idempotency record: %w", err)
	}
	return affectedOne(res)
}

func (s *IdempotencyStore) Find(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error) {
	var (
		rec     idempotency.IdempotencyRecord
		status  string
		body    sql.NullString
		code    sql.NullInt64
		created int64
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT
	idempotency_key,
	status,
	request_fingerprint,
	claim_token,
	cached_response,
	cached_status_code,
	created_at,
	updated_at,
	expires_at
FROM idempotency_records
WHERE idempotency_key = ?
`, key).Scan(&rec.IdempotencyKey, &status, &rec.RequestFingerprint, &rec.ClaimToken, &body, &code, &created, &updated, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select idempotency record: %w", err)
	}
	rec.Status = idempotency.Status(status)
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	if body.Valid {
		rec.CachedResponse = &body.String
	}
	if code.Valid {
		c := int(code.Int64)
		rec.CachedStatusCode = &c
	}
	return &rec, nil
}

func (s *IdempotencyStore) Reclaim(ctx context.Context, key, fingerprint, prevToken, token string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE idempotency_records
SET status = ?, claim_token = ?, updated_at = ?, expires_at = ?, cached_response = NULL, cached_status_code = NULL
WHERE idempotency_key = ? AND status <> ? AND request_fingerprint = ? AND claim_token = ?
`, string(idempotency.StatusProcessing), token, s.nowFunc().UTC().UnixMilli(), expiresAt.Unix(),
		key, string(idempotency.StatusProcessing), fingerprint, prevToken)
	if err != nil {
		return false, fmt.Errorf("reclaim idempotency record: %w", err)
	}
	return affectedOne(res)
}

func (s *IdempotencyStore) MarkCompleted(ctx context.Context, key, token, responseBody string, statusCode int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE idempotency_records
SET status = ?, cached_response = ?, cached_status_code = ?, updated_at = ?
WHERE idempotency_key = ? AND status = ? AND claim_token = ?
`, string(idempotency.StatusCompleted), responseBody, statusCode, s.nowFunc().UTC().UnixMilli(),
		key, string(idempotency.StatusProcessing), token)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireClaim(res, key, "mark completed")
}

func (s *IdempotencyStore) MarkFailed(ctx context.Context, key, token string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE idempotency_records
SET status = ?, cached_response = NULL, cached_status_code = NULL, updated_at = ?
WHERE idempotency_key = ? AND status = ? AND claim_token = ?
`, string(idempotency.StatusFailed), s.nowFunc().UTC().UnixMilli(),
		key, string(idempotency.StatusProcessing), token)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireClaim(res, key, "mark failed")
}

func (s *IdempotencyStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// requireClaim maps "no row matched" to ErrClaimLost.
func requireClaim(res sql.Result, key, op string) error {
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", op, key, idempotency.ErrClaimLost)
	}
	return nil
}
