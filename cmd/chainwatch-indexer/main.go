package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/api"
	"github.com/csic/platform/chainwatch-indexer/internal/config"
	"github.com/csic/platform/chainwatch-indexer/internal/notify"
	"github.com/csic/platform/chainwatch-indexer/internal/pipeline"
	"github.com/csic/platform/chainwatch-indexer/internal/store"
	"github.com/csic/platform/chainwatch-indexer/internal/supervisor"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := "config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if cfg.App.Debug {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	logger.Info("starting chainwatch indexer", zap.Int("chains", len(cfg.Chains)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	notifier := notify.NewProducer(cfg.Kafka, logger)
	defer notifier.Close()

	pl, err := pipeline.Init(ctx, db, cfg, notifier, logger)
	if err != nil {
		logger.Fatal("failed to initialize enrichment pipeline", zap.Error(err))
	}

	sup := supervisor.New(db, pl, logger)

	supervisorDone := make(chan struct{})
	go func() {
		sup.Run(ctx, cfg.Chains)
		close(supervisorDone)
	}()

	var healthServer *http.Server
	if cfg.App.HealthAddr != "" {
		router := api.NewRouter(db, sup, logger, cfg.App.Debug)
		healthServer = &http.Server{
			Addr:         cfg.App.HealthAddr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("health endpoint listening", zap.String("address", healthServer.Addr))
			if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down chainwatch indexer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if healthServer != nil {
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("health server forced to shutdown", zap.Error(err))
		}
	}

	select {
	case <-supervisorDone:
	case <-shutdownCtx.Done():
		logger.Warn("chain tasks did not stop within shutdown timeout")
	}

	logger.Info("chainwatch indexer stopped")
}
