package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/cache"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/config"
	httpHandler "github.com/cypherlabdev/bankroll-ledger-service/internal/handler/http"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/locks"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/messaging"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/metrics"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/scheduler"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/service"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/store/sqlstore"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := os.Getenv("BANKROLL_LEDGER_CONFIG")
	if configPath == "" {
		if _, err := os.Stat("config/config.yaml"); err == nil {
			configPath = "config/config.yaml"
		}
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("starting bankroll-ledger-service")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open ledger store
	st, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		LockTimeout:  cfg.Database.LockTimeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open ledger store")
	}
	defer st.Close()
	logger.Info().Str("driver", st.Driver()).Msg("ledger store ready")

	// Create Redis cache
	redisCache := cache.NewRedisCache(
		cache.RedisCacheConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		},
		logger,
	)
	defer redisCache.Close()

	// Test Redis connection
	if err := redisCache.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")

	// Row lock manager
	var locker service.Locker
	switch cfg.Locks.Backend {
	case "redis":
		locker = locks.NewRedisLocker(redisCache.Client(), locks.RedisLockerConfig{
			TTL:           cfg.Locks.TTL,
			Timeout:       cfg.Locks.Timeout,
			RetryInterval: cfg.Locks.RetryInterval,
		}, logger)
	default:
		locker = locks.NewMemoryLocker(cfg.Locks.Timeout)
	}
	logger.Info().Str("backend", cfg.Locks.Backend).Dur("timeout", cfg.Locks.Timeout).Msg("lock manager initialized")

	m := metrics.New(prometheus.DefaultRegisterer)
	params := cfg.Settlement.ToSettlementParams()

	// Create service layer
	statisticsService := service.NewStatisticsService(st, redisCache, params.Tilt, logger)
	settlementService := service.NewSettlementService(st, locker, statisticsService, redisCache, m, params, logger)
	accountService := service.NewAccountService(st, locker, redisCache, m, params, logger)
	feedService := service.NewFeedService(st, logger)
	logger.Info().Msg("services initialized")

	sched := scheduler.New(st, settlementService, cfg.Scheduler.ToSchedulerConfig(), m, logger)
	if cfg.Scheduler.Enabled {
		go func() {
			if err := sched.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("settlement scheduler failed")
			}
		}()
	}

	// Kafka feed consumer
	if cfg.Kafka.Enabled {
		consumer := messaging.NewKafkaConsumer(
			messaging.KafkaConsumerConfig{
				Brokers:    cfg.Kafka.Brokers,
				Topic:      cfg.Kafka.Topic,
				GroupID:    cfg.Kafka.GroupID,
				MaxRetries: cfg.Kafka.MaxRetries,
				RetryDelay: cfg.Kafka.RetryDelay,
				MaxBackoff: cfg.Kafka.MaxBackoff,
			},
			feedService,
			settlementService,
			m,
			logger,
		)

		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("Kafka consumer failed")
			}
		}()
	}

	// Setup router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health and monitoring endpoints
	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		readyHandler(w, r, st, redisCache)
	})
	r.Handle("/metrics", promhttp.Handler())

	// Register API routes
	httpHandler.NewLedgerHandler(accountService, statisticsService, sched, params.KellyMultiplier, logger).RegisterRoutes(r)
	logger.Info().Msg("API routes registered")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start HTTP server in goroutine
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down gracefully...")

	// Cancel context to stop scheduler and consumer
	cancel()

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
}

// setupLogger configures the logger based on config
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set format
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return log.Logger.With().Str("service", "bankroll-ledger").Logger()
}

// healthHandler returns 200 if service is running
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readyHandler returns 200 if service is ready to accept traffic
func readyHandler(w http.ResponseWriter, r *http.Request, st *sqlstore.SQLStore, cache *cache.RedisCache) {
	if err := st.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("ledger store unavailable"))
		return
	}

	// Check Redis connection
	if err := cache.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Redis unavailable"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}
