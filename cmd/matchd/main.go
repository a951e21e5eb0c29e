package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/peerflow/matchengine/api"
	"github.com/peerflow/matchengine/internal/config"
	"github.com/peerflow/matchengine/internal/matching"
	"github.com/peerflow/matchengine/internal/notifier"
	"github.com/peerflow/matchengine/internal/pipeline"
	"github.com/peerflow/matchengine/internal/queue"
	"github.com/peerflow/matchengine/internal/settlement"
	"github.com/peerflow/matchengine/internal/stats"
	"github.com/peerflow/matchengine/internal/store"
	"github.com/peerflow/matchengine/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Persistence backend
	var st store.Store
	switch cfg.Store.Backend {
	case "badger":
		st, err = store.NewBadgerStore(cfg.Store.Path)
		if err != nil {
			zapLogger.Fatal("Failed to open badger store", zap.Error(err))
		}
	default:
		st = store.NewMemoryStore()
	}
	defer st.Close()

	// Payment-method stats cache
	var methodCache pipeline.MethodStatsCache
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		methodCache = pipeline.NewRedisMethodCache(client, cfg.Cache.TTL)
	default:
		methodCache = pipeline.NewMemoryMethodCache()
	}

	// Stats aggregator over the pending pool
	pool := queue.NewPool()
	aggregator := stats.NewAggregator(pool.Depths, prometheus.DefaultRegisterer)

	// Notification sinks
	var sinks []notifier.Sink
	var hub *notifier.WSHub
	if cfg.Notifier.WSEnabled {
		hub = notifier.NewWSHub(cfg.Notifier.WSReplayDepth, zapLogger)
		sinks = append(sinks, hub)
	}
	if cfg.Notifier.KafkaEnabled {
		sinks = append(sinks, notifier.NewKafkaSink(cfg.Notifier.KafkaBrokers, cfg.Notifier.KafkaTopic))
	}
	events := notifier.New(cfg.Notifier.Buffer, sinks, aggregator.RecordNotificationDrop, zapLogger)
	defer events.Close()

	// Enrichment pipeline
	largeThreshold, err := decimal.NewFromString(cfg.Pipeline.LargeAmountThreshold)
	if err != nil {
		zapLogger.Fatal("Invalid large amount threshold", zap.Error(err))
	}
	steps := []pipeline.Step{
		pipeline.NewRiskStep(&pipeline.StaticSignals{}, cfg.Pipeline.MaxRiskScore),
		&pipeline.MethodCacheStep{Cache: methodCache},
		&pipeline.LargeAmountStep{Threshold: largeThreshold},
	}
	runner := pipeline.NewRunner(steps, cfg.Pipeline.StepTimeout, zapLogger)

	matchCfg, err := matching.ParseConfig(cfg.Matching)
	if err != nil {
		zapLogger.Fatal("Invalid matching configuration", zap.Error(err))
	}

	ledger := settlement.NewInternalLedger(zapLogger)
	engine := matching.NewEngine(matchCfg, matching.Policy{
		PendingTTL:     cfg.Matching.PendingTTL,
		SweepInterval:  cfg.Matching.SweepInterval,
		RequeueBump:    cfg.Matching.RequeueBump,
		RequeueBumpCap: cfg.Matching.RequeueBumpCap,
	}, matching.Deps{
		Pool:        pool,
		Pipeline:    runner,
		Store:       st,
		Settler:     settlement.NewProcessor(st, ledger, zapLogger),
		Notifier:    events,
		Stats:       aggregator,
		MethodCache: methodCache,
		Logger:      zapLogger,
	})
	defer engine.Close()

	// Rebuild pool and re-settle interrupted matches from the store
	if err := engine.Recover(context.Background()); err != nil {
		zapLogger.Fatal("Failed to recover engine state", zap.Error(err))
	}

	apiServer := api.NewServer(zapLogger, engine, hub, cfg.Server)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
