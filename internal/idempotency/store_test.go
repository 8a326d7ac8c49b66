package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestTryCreate_Find_MarkCompleted_MarkFailed(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "idempotency-table")

	ctx := context.Background()
	key := "test-key-1"
	expires := time.Now().Add(24 * time.Hour)

	created, err := s.TryCreate(ctx, key, "fp-1", "tok-1", expires)
	if err != nil {
		t.Fatalf("TryCreate error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second create should return created=false (exists)
	created2, err := s.TryCreate(ctx, key, "fp-1", "tok-1", expires)
	if err != nil {
		t.Fatalf("second TryCreate error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Find(ctx, key)
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", rec.Status)
	}
	if rec.RequestFingerprint != "fp-1" {
		t.Fatalf("fingerprint mismatch")
	}
	if rec.CachedResponse != nil || rec.CachedStatusCode != nil {
		t.Fatalf("processing record must not carry a cached response")
	}
	if rec.ExpiresAt != expires.Unix() {
		t.Fatalf("expires_at mismatch: %d != %d", rec.ExpiresAt, expires.Unix())
	}

	if err := s.MarkCompleted(ctx, key, "tok-1", `{"ok":true}`, 200); err != nil {
		t.Fatalf("MarkCompleted error: %v", err)
	}
	rec, _ = s.Find(ctx, key)
	if rec.Status != StatusCompleted {
		t.Fatalf("status not updated to COMPLETED, got %s", rec.Status)
	}
	if rec.CachedResponse == nil || *rec.CachedResponse != `{"ok":true}` {
		t.Fatalf("cached_response not set correctly: %v", rec.CachedResponse)
	}
	if rec.CachedStatusCode == nil || *rec.CachedStatusCode != 200 {
		t.Fatalf("cached_status_code not set correctly: %v", rec.CachedStatusCode)
	}

	// a COMPLETED record is no longer owned by anyone
	if err := s.MarkFailed(ctx, key, "tok-1"); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost for MarkFailed on COMPLETED, got %v", err)
	}
	if ok, err := s.Reclaim(ctx, key, "fp-1", "tok-1", "tok-2", expires); err != nil || !ok {
		t.Fatalf("Reclaim of COMPLETED: ok=%v err=%v", ok, err)
	}
	if err := s.MarkFailed(ctx, key, "tok-2"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	item := mock.item(key)
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != string(StatusFailed) {
		t.Fatalf("status not updated to FAILED, got %+v", item["status"])
	}
	if _, ok := item["cached_response"]; ok {
		t.Fatalf("cached_response must be cleared on FAILED")
	}
}

func TestFind_NotFound(t *testing.T) {
	s := NewStore(newSimpleMock(), "idempotency-table")
	rec, err := s.Find(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record")
	}
}

func TestMarkTransitions_MissingKey(t *testing.T) {
	s := NewStore(newSimpleMock(), "idempotency-table")
	ctx := context.Background()

	if err := s.MarkCompleted(ctx, "missing", "tok", "{}", 200); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost from MarkCompleted, got %v", err)
	}
	if err := s.MarkFailed(ctx, "missing", "tok"); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost from MarkFailed, got %v", err)
	}
}

func TestMarkCompleted_StaleClaimantCannotOverwriteNewClaim(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "idempotency-table")
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	// A claims, its record is swept, B claims the same key with another payload
	if _, err := s.TryCreate(ctx, "k1", "fpA", "tokA", exp); err != nil {
		t.Fatalf("claim A: %v", err)
	}
	mock.mu.Lock()
	delete(mock.table, "k1")
	mock.mu.Unlock()
	if created, err := s.TryCreate(ctx, "k1", "fpB", "tokB", exp); err != nil || !created {
		t.Fatalf("claim B: created=%v err=%v", created, err)
	}

	if err := s.MarkCompleted(ctx, "k1", "tokA", `{"order_id":"A"}`, 200); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost for stale MarkCompleted, got %v", err)
	}
	if err := s.MarkFailed(ctx, "k1", "tokA"); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost for stale MarkFailed, got %v", err)
	}

	rec, _ := s.Find(ctx, "k1")
	if rec.Status != StatusProcessing || rec.RequestFingerprint != "fpB" || rec.CachedResponse != nil {
		t.Fatalf("B's claim must be untouched, got %+v", rec)
	}
	if err := s.MarkCompleted(ctx, "k1", "tokB", `{"order_id":"B"}`, 200); err != nil {
		t.Fatalf("owner MarkCompleted: %v", err)
	}
}

func TestTryCreate_StoreError(t *testing.T) {
	mock := newSimpleMock()
	mock.fail("PutItem", errors.New("RequestLimitExceeded"))
	s := NewStore(mock, "idempotency-table")

	created, err := s.TryCreate(context.Background(), "k", "fp", "tok", time.Now())
	if err == nil || created {
		t.Fatalf("expected error and created=false, got created=%v err=%v", created, err)
	}
}

func TestReclaim(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "idempotency-table")
	ctx := context.Background()
	first := time.Now().Add(time.Hour)
	later := time.Now().Add(48 * time.Hour)

	if _, err := s.TryCreate(ctx, "k", "fp", "t1", first); err != nil {
		t.Fatalf("TryCreate: %v", err)
	}

	// PROCESSING cannot be reclaimed
	ok, err := s.Reclaim(ctx, "k", "fp", "t1", "t2", later)
	if err != nil || ok {
		t.Fatalf("expected reclaim of PROCESSING to fail, got ok=%v err=%v", ok, err)
	}

	if err := s.MarkFailed(ctx, "k", "t1"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	// wrong fingerprint cannot reclaim
	if ok, _ := s.Reclaim(ctx, "k", "other", "t1", "t2", later); ok {
		t.Fatalf("reclaim with a different fingerprint must fail")
	}
	// a token read before the last claim cannot reclaim
	if ok, _ := s.Reclaim(ctx, "k", "fp", "t0", "t2", later); ok {
		t.Fatalf("reclaim with a stale token must fail")
	}

	ok, err = s.Reclaim(ctx, "k", "fp", "t1", "t2", later)
	if err != nil || !ok {
		t.Fatalf("expected reclaim of FAILED to succeed, got ok=%v err=%v", ok, err)
	}
	rec, _ := s.Find(ctx, "k")
	if rec.Status != StatusProcessing || rec.ExpiresAt != later.Unix() || rec.ClaimToken != "t2" {
		t.Fatalf("unexpected record after reclaim: %+v", rec)
	}

	// only one reclaimer wins, even after the winner fails again
	if err := s.MarkFailed(ctx, "k", "t2"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if ok, _ := s.Reclaim(ctx, "k", "fp", "t1", "t3", later); ok {
		t.Fatalf("second reclaim with the old token must fail")
	}
}

func TestDeleteExpired(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "idempotency-table")
	ctx := context.Background()
	now := time.Now()

	seed := map[string]time.Time{
		"expired-processing": now.Add(-time.Hour),
		"expired-completed":  now.Add(-2 * time.Minute),
		"live":               now.Add(time.Hour),
	}
	for k, exp := range seed {
		if _, err := s.TryCreate(ctx, k, "fp", "tok-"+k, exp); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
	if err := s.MarkCompleted(ctx, "expired-completed", "tok-expired-completed", "{}", 200); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	deleted, err := s.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	if rec, _ := s.Find(ctx, "live"); rec == nil {
		t.Fatalf("unexpired record must remain")
	}
	if rec, _ := s.Find(ctx, "expired-processing"); rec != nil {
		t.Fatalf("expired PROCESSING record must be swept")
	}
}

func TestDeleteExpired_ScanError(t *testing.T) {
	mock := newSimpleMock()
	mock.fail("Scan", errors.New("throttled"))
	s := NewStore(mock, "idempotency-table")

	if _, err := s.DeleteExpired(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected scan error")
	}
}

func TestAttributevalueMarshal_Unmarshal(t *testing.T) {
	body := `{"order_id":"o1"}`
	code := 200
	rec := IdempotencyRecord{
		IdempotencyKey:     "k1",
		Status:             StatusCompleted,
		RequestFingerprint: "fp",
		ClaimToken:         "tok",
		CachedResponse:     &body,
		CachedStatusCode:   &code,
		CreatedAt:          time.Now().Round(time.Second),
		UpdatedAt:          time.Now().Round(time.Second),
		ExpiresAt:          time.Now().Add(24 * time.Hour).Unix(),
	}
	m, err := attributevalue.MarshalMap(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, ok := m["expires_at"].(*types.AttributeValueMemberN); !ok {
		t.Fatalf("expires_at must be a number attribute for DynamoDB TTL")
	}
	var out IdempotencyRecord
	if err := attributevalue.UnmarshalMap(m, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.IdempotencyKey != rec.IdempotencyKey || out.ClaimToken != "tok" || *out.CachedResponse != body || *out.CachedStatusCode != 200 {
		t.Fatalf("unmarshal mismatch: %+v", out)
	}
	if !out.Expiry().Equal(time.Unix(rec.ExpiresAt, 0)) {
		t.Fatalf("expiry mismatch")
	}
}
