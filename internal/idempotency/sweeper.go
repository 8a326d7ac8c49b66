package idempotency

import (
	"context"
	"log"
	"time"

	"github.com/imrishuroy/go-idempotent-saga/internal/metrics"
)

// DefaultCleanupInterval is the sweep period when none is configured.
const DefaultCleanupInterval = time.Hour

// Sweeper periodically deletes expired idempotency records.
// A missed sweep only delays expiry, so failures are logged and never returned.
type Sweeper struct {
	store    RecordStore
	interval time.Duration
	metrics  metrics.Recorder
	nowFunc  func() time.Time
}

// NewSweeper returns a Sweeper. rec may be nil.
func NewSweeper(store RecordStore, interval time.Duration, rec metrics.Recorder) *Sweeper {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		metrics:  rec,
		nowFunc:  time.Now,
	}
}

// Sweep runs one cleanup pass and returns the number of records deleted.
func (s *Sweeper) Sweep(ctx context.Context) int {
	deleted, err := s.store.DeleteExpired(ctx, s.nowFunc())
	if err != nil {
		log.Printf("[sweeper] failed to delete expired idempotency records (deleted %d before failure): %v", deleted, err)
	}
	if deleted > 0 {
		log.Printf("[sweeper] deleted %d expired idempotency records", deleted)
		s.metrics.Count(ctx, metrics.ExpiredRecordsDeleted, float64(deleted), nil)
	}
	return deleted
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[sweeper] started interval=%s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweeper] stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
