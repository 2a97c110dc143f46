package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/franchise/internal"
	"github.com/dukerupert/franchise/internal/cache"
	"github.com/dukerupert/franchise/internal/domain"
	"github.com/dukerupert/franchise/internal/events"
	"github.com/dukerupert/franchise/internal/handler/api"
	"github.com/dukerupert/franchise/internal/idempotency"
	"github.com/dukerupert/franchise/internal/memory"
	"github.com/dukerupert/franchise/internal/middleware"
	"github.com/dukerupert/franchise/internal/postgres"
	"github.com/dukerupert/franchise/internal/router"
	"github.com/dukerupert/franchise/internal/routes"
	"github.com/dukerupert/franchise/internal/service"
	"github.com/dukerupert/franchise/internal/telemetry"
	"github.com/dukerupert/franchise/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 15 * time.Second

// stores is the persistence backend chosen at startup.
type stores struct {
	catalog domain.ProductCatalog
	orders  interface {
		domain.OrderStore
		worker.PendingLister
	}
	stock  domain.StockStore
	outbox interface {
		domain.Outbox
		domain.OutboxSource
	}
	tx    domain.Transactor
	ping  api.Check
	close func()
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Tracing
	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: "franchise",
		Version:     version,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	// Metrics share one registry so /metrics serves HTTP and business series
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewMetrics(cfg.MetricsNamespace, registry)
	telemetry.InitBusinessMetrics(cfg.MetricsNamespace, registry)

	// Persistence
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	checks := map[string]api.Check{"store": st.ping}

	// Redis backs the order cache and idempotency keys when configured
	var (
		orderCache service.OrderCache
		idemStore  idempotency.Store = idempotency.NewMemoryStore(cfg.Idempotency.TTL)
	)
	if cfg.RedisUrl != "" {
		opts, err := redis.ParseURL(cfg.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info("Redis connection established")

		orderCache = cache.NewOrderCache(rdb, cfg.Cache.TTL)
		idemStore = idempotency.NewRedisStore(rdb, cfg.Idempotency.TTL)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		logger.Warn("REDIS_URL not set: idempotency keys are per-process and the order cache is disabled")
	}

	// Initialize lifecycle service
	lifecycleDeps := service.LifecycleDeps{
		Catalog: st.catalog,
		Orders:  st.orders,
		Stock:   st.stock,
		Outbox:  st.outbox,
		Tx:      st.tx,
		Retry: service.RetryPolicy{
			Attempts:      cfg.Retry.Attempts,
			BaseDelay:     cfg.Retry.BaseDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			JitterPercent: cfg.Retry.JitterPercent,
		},
		Logger: logger,
	}
	if orderCache != nil {
		lifecycleDeps.Cache = orderCache
	}
	lifecycle, err := service.NewLifecycleService(lifecycleDeps)
	if err != nil {
		return fmt.Errorf("failed to initialize lifecycle service: %w", err)
	}

	// Event dispatcher for the outbox relay
	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	// ==========================================================================
	// Build routes
	// ==========================================================================

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rlConfig := middleware.DefaultRateLimiterConfig()
		rlConfig.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rlConfig.BurstSize = cfg.RateLimit.Burst
		rateLimiter = middleware.NewRateLimiter(rlConfig)
		defer rateLimiter.Stop()
	}

	global := []router.Middleware{
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithActor,
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
		middleware.APIHeaders,
		metrics.Middleware,
	}
	if len(cfg.CORSOrigins) > 0 {
		global = append(global, router.CORS(cfg.CORSOrigins))
	}
	r := router.New(global...)

	routes.RegisterAPIRoutes(r, routes.APIDeps{
		CartHandler:   api.NewCartHandler(lifecycle),
		OrderHandler:  api.NewOrderHandler(lifecycle),
		StockHandler:  api.NewStockHandler(lifecycle),
		HealthHandler: api.NewHealthHandler(checks),
		Idempotency:   idemStore,
		RateLimiter:   rateLimiter,
		MaxBodySize:   cfg.MaxBodyBytes,
		Metrics:       metrics,
	})
	for _, rt := range r.Routes() {
		logger.Debug("route registered", "method", rt.Method, "pattern", rt.Pattern)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// ==========================================================================
	// Start server and workers
	// ==========================================================================

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", "address", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Reaper.Enabled {
		reaper := worker.NewReaper(st.orders, lifecycle, worker.ReaperConfig{
			Config: worker.Config{
				PollInterval:   cfg.Reaper.Interval,
				MaxConcurrency: cfg.Reaper.Concurrency,
			},
			SLA:       cfg.Reaper.SLA,
			BatchSize: cfg.Reaper.BatchSize,
		}, logger)
		g.Go(func() error { return reaper.Start(gctx) })
	}

	if cfg.Relay.Enabled {
		relay := worker.NewRelay(st.outbox, dispatcher, worker.RelayConfig{
			Config:    worker.Config{PollInterval: cfg.Relay.Interval},
			BatchSize: cfg.Relay.BatchSize,
			Lease:     cfg.Relay.Lease,
		}, logger)
		g.Go(func() error { return relay.Start(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// openStores connects to Postgres and runs migrations, or falls back to the
// in-memory store when no database is configured.
func openStores(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*stores, error) {
	if cfg.DatabaseUrl == "" {
		logger.Warn("DATABASE_URL not set: using the in-memory store with a demo catalog")
		catalog, stock := devCatalog()
		return &stores{
			catalog: catalog,
			orders:  memory.NewOrderStore(),
			stock:   stock,
			outbox:  memory.NewOutbox(),
			tx:      memory.Tx{},
			ping:    func(context.Context) error { return nil },
			close:   func() {},
		}, nil
	}

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(ctx, sqlDB, logger); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	db := postgres.NewDB(pool)
	return &stores{
		catalog: postgres.NewCatalog(db),
		orders:  postgres.NewOrderStore(db),
		stock:   postgres.NewStockStore(db),
		outbox:  postgres.NewOutbox(db),
		tx:      db,
		ping:    pool.Ping,
		close:   pool.Close,
	}, nil
}

func newDispatcher(cfg *internal.Config, logger *slog.Logger) (events.Dispatcher, error) {
	switch cfg.Events.Kind {
	case "kafka":
		d, err := events.NewKafkaDispatcher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize kafka dispatcher: %w", err)
		}
		logger.Info("Dispatching order events to Kafka", "topic", cfg.Events.KafkaTopic)
		return d, nil
	case "nats":
		d, err := events.NewNATSDispatcher(cfg.Events.NATSUrl, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize nats dispatcher: %w", err)
		}
		logger.Info("Dispatching order events to NATS", "prefix", cfg.Events.SubjectPrefix)
		return d, nil
	default:
		return events.NewLogDispatcher(logger), nil
	}
}

// devCatalog seeds the in-memory store so a local server is usable at once.
func devCatalog() (*memory.Catalog, *memory.StockStore) {
	catalog := memory.NewCatalog(
		domain.Product{ID: "espresso-beans-1kg", Name: "Espresso beans 1kg", Active: true, MinOrderQty: 1, MaxOrderQty: 40, UnitPriceCents: 2400},
		domain.Product{ID: "paper-cups-12oz", Name: "Paper cups 12oz (case)", Active: true, MinOrderQty: 1, MaxOrderQty: 50, UnitPriceCents: 3900},
		domain.Product{ID: "vanilla-syrup", Name: "Vanilla syrup", Active: true, MinOrderQty: 2, MaxOrderQty: 24, UnitPriceCents: 850},
	)
	stock := memory.NewStockStore()
	for _, id := range []string{"espresso-beans-1kg", "paper-cups-12oz", "vanilla-syrup"} {
		stock.Seed(domain.StockRecord{ProductID: id, LocationID: "store-1", Available: 100})
	}
	return catalog, stock
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
