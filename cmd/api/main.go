package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-idempotent-saga/internal/aws"
	"github.com/imrishuroy/go-idempotent-saga/internal/collaborators"
	"github.com/imrishuroy/go-idempotent-saga/internal/config"
	"github.com/imrishuroy/go-idempotent-saga/internal/handlers"
	"github.com/imrishuroy/go-idempotent-saga/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-saga/internal/metrics"
	"github.com/imrishuroy/go-idempotent-saga/internal/orders"
	"github.com/imrishuroy/go-idempotent-saga/internal/sqlstore"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)

	return r
}

// service holds everything the API needs once wired.
type service struct {
	records idempotency.RecordStore
	orders  orders.Repository
	metrics metrics.Recorder
	events  orders.EventPublisher
	closeFn func() error
}

func buildService(ctx context.Context, cfg config.Config) (*service, error) {
	svc := &service{metrics: metrics.Nop{}, closeFn: func() error { return nil }}

	var clients *aws.AWSClients
	if cfg.StorageBackend == config.BackendDynamoDB || cfg.OrderEventsQueueURL != "" || cfg.MetricsNamespace != "" {
		c, err := aws.NewAWSClients(ctx)
		if err != nil {
			return nil, err
		}
		clients = c
	}

	switch cfg.StorageBackend {
	case config.BackendSQLite:
		db, err := sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		svc.records = sqlstore.NewIdempotencyStore(db)
		svc.orders = sqlstore.NewOrderStore(db)
		svc.closeFn = db.Close
	default:
		svc.records = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable)
		svc.orders = orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	}

	if clients != nil {
		svc.metrics = metrics.New(clients.CloudWatch, cfg.MetricsNamespace)
		if pub := aws.NewPublisher(clients.SQS, cfg.OrderEventsQueueURL); pub.Enabled() {
			svc.events = orders.NewQueuePublisher(pub)
		}
	}
	return svc, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init service: %v", err)
	}
	defer func() {
		if err := svc.closeFn(); err != nil {
			log.Printf("close storage: %v", err)
		}
	}()

	saga := orders.NewExecutor(
		collaborators.NewInventory(cfg.InventoryBaseURL, nil),
		collaborators.NewPayment(cfg.PaymentBaseURL, nil),
		svc.orders,
		orders.ExecutorOptions{
			Events:           svc.events,
			Metrics:          svc.metrics,
			InventoryTimeout: cfg.InventoryTimeout,
			PaymentTimeout:   cfg.PaymentTimeout,
			StoreTimeout:     cfg.StoreTimeout,
		},
	)
	coord := idempotency.NewCoordinator(svc.records, saga, idempotency.Options{
		TTL:          cfg.IdempotencyTTL,
		StoreTimeout: cfg.StoreTimeout,
		Metrics:      svc.metrics,
	})

	r := setupRouter(handlers.HandlerConfig{Placer: coord, Orders: svc.orders})

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		if err := runLocal(ctx, cfg, r, idempotency.NewSweeper(svc.records, cfg.CleanupInterval, svc.metrics)); err != nil {
			log.Fatalf("local server: %v", err)
		}
		return
	}

	// lambda adapter; expiry is handled by the scheduled worker
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

// runLocal serves HTTP and runs the cleanup sweeper until ctx is cancelled.
func runLocal(ctx context.Context, cfg config.Config, r *gin.Engine, sweeper *idempotency.Sweeper) error {
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("running local server on %s (backend=%s)", cfg.ListenAddr, cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
