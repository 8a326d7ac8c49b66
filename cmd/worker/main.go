package main

import (
	"context"
	"database/sql"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-idempotent-saga/internal/aws"
	"github.com/imrishuroy/go-idempotent-saga/internal/config"
	"github.com/imrishuroy/go-idempotent-saga/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-saga/internal/metrics"
	"github.com/imrishuroy/go-idempotent-saga/internal/sqlstore"
)

// sweepResult is returned to the scheduler for visibility in invocation logs.
type sweepResult struct {
	Deleted int `json:"deleted"`
}

type worker struct {
	sweeper *idempotency.Sweeper
	metrics metrics.Recorder
}

func (w *worker) handleScheduledEvent(ctx context.Context, event events.CloudWatchEvent) (sweepResult, error) {
	log.Printf("[worker] cleanup triggered source=%s id=%s", event.Source, event.ID)
	deleted := w.sweeper.Sweep(ctx)
	return sweepResult{Deleted: deleted}, nil
}

func newWorker(ctx context.Context, cfg config.Config) (*worker, *sql.DB, error) {
	var (
		store   idempotency.RecordStore
		rec     metrics.Recorder = metrics.Nop{}
		db      *sql.DB
		clients *aws.AWSClients
	)

	if cfg.StorageBackend == config.BackendDynamoDB || cfg.MetricsNamespace != "" {
		c, err := aws.NewAWSClients(ctx)
		if err != nil {
			return nil, nil, err
		}
		clients = c
		rec = metrics.New(clients.CloudWatch, cfg.MetricsNamespace)
	}

	if cfg.StorageBackend == config.BackendSQLite {
		var err error
		db, err = sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store = sqlstore.NewIdempotencyStore(db)
	} else {
		store = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable)
	}

	return &worker{sweeper: idempotency.NewSweeper(store, cfg.CleanupInterval, rec), metrics: rec}, db, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	w, db, err := newWorker(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to init worker: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	// If RUN_LOCAL=true, run a single sweep and exit.
	if cfg.RunLocal {
		res, err := w.handleScheduledEvent(context.Background(), events.CloudWatchEvent{Source: "local"})
		if err != nil {
			log.Printf("local sweep error: %v", err)
			return
		}
		log.Printf("[worker] local sweep deleted %d records", res.Deleted)
		return
	}

	lambda.Start(w.handleScheduledEvent)
}
