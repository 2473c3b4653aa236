package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"lead-ledger/config"
	httpHandler "lead-ledger/internal/adapter/http/handler"
	"lead-ledger/internal/adapter/realtime/redisstream"
	"lead-ledger/internal/adapter/realtime/supabase"
	memStorage "lead-ledger/internal/adapter/storage/memory"
	pgStorage "lead-ledger/internal/adapter/storage/postgres"
	redisStorage "lead-ledger/internal/adapter/storage/redis"
	"lead-ledger/internal/core/ports"
	"lead-ledger/internal/realtime"
	"lead-ledger/internal/service"
	"lead-ledger/pkg/logger"
	"lead-ledger/pkg/metrics"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// storage bundles the repositories of one backend.
type storage struct {
	wallets      ports.WalletRepository
	transactions ports.TransactionRepository
	requests     ports.LeadRequestRepository
	transactor   ports.DBTransactor
	health       ports.HealthChecker
	close        func()
}

func main() {
	cfg, err := config.Load(os.Getenv("LDG_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("transport", cfg.Realtime.Transport).
		Msg("Starting lead ledger")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret is required")
	}

	ctx := context.Background()
	m := metrics.New()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()
	healthCheckers := []ports.HealthChecker{store.health}

	// Redis backs the change stream and the rate limiter.
	var rdb *goredis.Client
	if cfg.Realtime.Transport == config.TransportRedis || cfg.RateLimit.Enabled {
		rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	}

	// Realtime: the notifier publishes committed changes, the layer subscribes to them.
	rtLog := logger.Component(log, "realtime")
	var (
		notifier   ports.ChangeNotifier
		subscriber httpHandler.Subscriber
	)
	switch cfg.Realtime.Transport {
	case config.TransportRedis:
		stream := redisstream.New(rdb, cfg.Realtime.ChannelPrefix, rtLog, redisstream.WithPingInterval(cfg.Realtime.PingInterval))
		async := realtime.NewAsyncNotifier(stream, cfg.Realtime.NotifierBuffer, rtLog, m)
		defer async.Close()
		notifier = async

		layer := realtime.NewLayer(stream, realtime.OptionsFromConfig(cfg.Realtime), rtLog, m)
		defer layer.Close()
		subscriber = layer
	case config.TransportSupabase:
		// Supabase emits postgres_changes itself, so nothing is published from here.
		stream, err := supabase.New(cfg.Realtime.Supabase, rtLog)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure Supabase realtime")
		}
		layer := realtime.NewLayer(stream, realtime.OptionsFromConfig(cfg.Realtime), rtLog, m)
		defer layer.Close()
		subscriber = layer
	default:
		log.Warn().Msg("Realtime transport disabled")
	}

	ledgerSvc := service.NewLedgerService(
		store.wallets,
		store.transactions,
		store.transactor,
		notifier,
		cfg.Ledger.MaxAttempts,
		logger.Component(log, "ledger"),
		m,
	)
	workflowSvc := service.NewWorkflowService(
		store.requests,
		store.wallets,
		ledgerSvc,
		store.transactor,
		notifier,
		service.WorkflowOptions{
			MaxAttempts: cfg.Ledger.MaxAttempts,
			MaxQuantity: cfg.Workflow.MaxQuantity,
			PageSize:    cfg.Workflow.PageSize,
		},
		logger.Component(log, "workflow"),
		m,
	)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	if cfg.Reconcile.Enabled {
		auditor := service.NewReconcileAuditor(ledgerSvc, store.wallets, cfg.Reconcile, logger.Component(log, "auditor"), m)
		if err := auditor.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start reconcile auditor")
		}
		defer func() { <-auditor.Stop().Done() }()
	}

	var rateLimitStore ports.RateLimitStore
	if cfg.RateLimit.Enabled {
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Ledger:         ledgerSvc,
		Workflow:       workflowSvc,
		TokenSvc:       tokenSvc,
		Subscriber:     subscriber,
		RateLimitStore: rateLimitStore,
		RateLimit:      cfg.RateLimit,
		HealthCheckers: healthCheckers,
		PageSize:       cfg.Workflow.PageSize,
		Metrics:        m,
		Logger:         logger.Component(log, "http"),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		store := memStorage.NewStore()
		return &storage{
			wallets:      memStorage.NewWalletRepo(store),
			transactions: memStorage.NewTransactionRepo(store),
			requests:     memStorage.NewLeadRequestRepo(store),
			transactor:   store,
			health:       store,
			close:        func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.AutoMigrate {
		if err := pgStorage.MigrateUp(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info().Msg("Database migrations applied")
	}
	return &storage{
		wallets:      pgStorage.NewWalletRepo(pool),
		transactions: pgStorage.NewTransactionRepo(pool),
		requests:     pgStorage.NewLeadRequestRepo(pool),
		transactor:   pgStorage.NewTransactor(pool),
		health:       pgStorage.NewHealthCheck(pool),
		close:        pool.Close,
	}, nil
}
