package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tachesure/escrow-service/internal/adapters/cache"
	eventadapter "github.com/tachesure/escrow-service/internal/adapters/events"
	httpadapter "github.com/tachesure/escrow-service/internal/adapters/http"
	"github.com/tachesure/escrow-service/internal/adapters/memory"
	"github.com/tachesure/escrow-service/internal/adapters/postgres"
	"github.com/tachesure/escrow-service/internal/adapters/security"
	"github.com/tachesure/escrow-service/internal/application"
	"github.com/tachesure/escrow-service/internal/ports"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	healthSrv  *health.Server
	outbox     *eventadapter.OutboxWorker
	consumer   *eventadapter.ConsumerWorker
	reconciler *eventadapter.ReconciliationWorker
	cleanupFn  func(context.Context)
}

type storage struct {
	repos   application.Dependencies
	outbox  ports.OutboxRepository
	ready   func(context.Context) error
	closers []io.Closer
}

func openStorage(ctx context.Context, cfg Config, logger *slog.Logger) (storage, error) {
	if cfg.StorageDriver == StorageDriverMemory {
		logger.WarnContext(ctx, "using in-memory ledger store; state is lost on restart",
			"module", "bootstrap", "layer", "runtime", "operation", "open_storage")
		repos := memory.NewRepositories()
		repos.Tasks.AutoCreate(true)
		return storage{
			repos: application.Dependencies{
				Payments: repos.Payments, Milestones: repos.Milestones, Tasks: repos.Tasks,
				Ledger: repos.Ledger, Reconciliation: repos.Reconciliation, Signals: repos.Signals,
				Outbox: repos.Outbox, EventDedup: repos.EventDedup, Idempotency: repos.Idempotency,
			},
			outbox: repos.Outbox,
		}, nil
	}

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return storage{}, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return storage{}, err
	}
	if err := postgres.RunMigrations(ctx, db); err != nil {
		_ = sqlDB.Close()
		return storage{}, err
	}
	repos := postgres.NewRepositories(db)
	return storage{
		repos: application.Dependencies{
			Payments: repos.Payments, Milestones: repos.Milestones, Tasks: repos.Tasks,
			Ledger: repos.Ledger, Reconciliation: repos.Reconciliation, Signals: repos.Signals,
			Outbox: repos.Outbox, EventDedup: repos.EventDedup, Idempotency: repos.Idempotency,
		},
		outbox:  repos.Outbox,
		ready:   func(ctx context.Context) error { return postgres.Ping(ctx, db) },
		closers: []io.Closer{sqlDB},
	}, nil
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers := store.closers
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}

	var trustCache ports.TrustScoreCache
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.WarnContext(ctx, "redis unavailable, trust scores will not be cached",
				"module", "bootstrap", "layer", "runtime", "operation", "connect_redis", "outcome", "degraded", "error", err)
		} else {
			trustCache = cache.NewRedisTrustScoreCache(redisClient)
			closers = append(closers, redisClient)
		}
	}

	deps := store.repos
	deps.Config = application.Config{
		ServiceName:               cfg.ServiceID,
		StoreTimeout:              cfg.StoreTimeout,
		PersistenceRetryAttempts:  cfg.PersistenceRetryAttempts,
		PersistenceRetryBackoff:   cfg.PersistenceRetryBackoff,
		IdempotencyTTL:            cfg.IdempotencyTTL,
		EventDedupTTL:             cfg.EventDedupTTL,
		TrustCacheTTL:             cfg.TrustCacheTTL,
		ReconciliationMaxAttempts: cfg.ReconciliationMaxAttempts,
		EnforceTrustGate:          cfg.EnforceTrustGate,
	}
	deps.TrustCache = trustCache
	deps.Logger = logger
	service := application.NewService(deps)

	verifier, err := security.NewHMACVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		closeAll()
		return nil, err
	}
	ready := store.ready
	if redisClient != nil {
		dbReady := ready
		ready = func(ctx context.Context) error {
			if dbReady != nil {
				if err := dbReady(ctx); err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
			}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		}
	}
	handler := httpadapter.NewHandler(service, verifier, logger, ready)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		closeAll()
		return nil, err
	}

	publisher := ports.EventPublisher(eventadapter.NewLoggingPublisher(logger))
	consumerAdapter := eventadapter.Consumer(eventadapter.NewNoopConsumer())
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, pubErr := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.TopicByEvent())
		if pubErr != nil {
			logger.WarnContext(ctx, "kafka publisher disabled, using logging publisher", "error", pubErr)
		} else {
			publisher = kafkaPublisher
			closers = append(closers, kafkaPublisher)
		}

		kafkaConsumer, conErr := eventadapter.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.EventByTopic())
		if conErr != nil {
			logger.WarnContext(ctx, "kafka consumer disabled, using noop consumer", "error", conErr)
		} else {
			consumerAdapter = kafkaConsumer
			closers = append(closers, kafkaConsumer)
		}
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		healthSrv:  healthSrv,
		outbox:     eventadapter.NewOutboxWorker(logger, store.outbox, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize),
		consumer:   eventadapter.NewConsumerWorker(logger, consumerAdapter, service, cfg.ConsumerPollInterval),
		reconciler: eventadapter.NewReconciliationWorker(logger, service, cfg.ReconcilePollInterval, cfg.ReconcileBatchSize),
		cleanupFn: func(context.Context) {
			closeAll()
		},
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 2)

	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- err
		}
	}()
	r.logger.InfoContext(ctx, "api runtime started",
		"module", "bootstrap", "layer", "runtime", "operation", "run_api",
		"http_port", r.cfg.HTTPPort, "grpc_port", r.cfg.GRPCPort, "storage", r.cfg.StorageDriver)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		r.logger.ErrorContext(ctx, "runtime failure", "error", runErr)
	}
	r.healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return runErr
}

// RunWorker drives the outbox relay, the party-signal consumer and the task
// reconciler until the context ends or one of them fails.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	_ = r.grpcLis.Close()
	errCh := make(chan error, 3)

	workers := []interface{ Run(context.Context) error }{r.outbox, r.consumer, r.reconciler}
	for _, w := range workers {
		w := w
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}
	r.logger.InfoContext(ctx, "worker runtime started",
		"module", "bootstrap", "layer", "runtime", "operation", "run_worker", "storage", r.cfg.StorageDriver)

	select {
	case <-ctx.Done():
		r.cleanupFn(context.Background())
		return nil
	case err := <-errCh:
		stop()
		r.cleanupFn(context.Background())
		return err
	}
}
