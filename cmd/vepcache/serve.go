package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/vepcache/internal/api"
	"github.com/inodb/vepcache/internal/mlscore"
	"github.com/inodb/vepcache/internal/processor"
	"github.com/inodb/vepcache/internal/registry"
	"github.com/inodb/vepcache/internal/service"
	"github.com/inodb/vepcache/internal/store"
	"github.com/inodb/vepcache/internal/vep"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the annotation service",
		Long:  "Start the batch processor and the HTTP API, and run until interrupted. Queued variants are drained into final batches on shutdown.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	st, err := store.Open(storeConfig())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.CreateSchema(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	scorer := loadScorer(logger)

	client := vep.NewClient(viper.GetString("vep_url"), durationSetting("vep_timeout"))
	client.SetLogger(logger)

	reg := registry.New()
	proc := processor.New(processor.Config{
		MaxBatchSize: viper.GetInt("max_batch_size"),
		MaxWait:      durationSetting("max_wait_time"),
		MaxWorkers:   viper.GetInt("max_workers"),
		MaxRetries:   viper.GetInt("max_retries"),
	}, client, st, scorer, reg)
	proc.SetLogger(logger)
	proc.Start()

	svc := service.New(st, proc, reg)
	svc.SetLogger(logger)

	server := api.NewServer(svc)
	server.SetLogger(logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(viper.GetString("api_addr"))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			proc.Stop()
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	}

	// Stop accepting requests first, then drain the queue into final batches.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown incomplete", zap.Error(err))
	}
	proc.Stop()
	logger.Info("shutdown complete")
	return nil
}

// loadScorer loads the tree-ensemble model. A missing or unreadable model is
// degraded mode: the service runs and persists annotations with a null score.
func loadScorer(logger *zap.Logger) mlscore.Scorer {
	path := viper.GetString("ml_model_path")
	if path == "" {
		logger.Warn("no ML model configured, pathogenicity scores will be null")
		return nil
	}
	forest, err := mlscore.LoadForest(path)
	if err != nil {
		logger.Warn("could not load ML model, pathogenicity scores will be null",
			zap.String("path", path), zap.Error(err))
		return nil
	}
	logger.Info("ML model loaded", zap.String("path", path), zap.Int("trees", len(forest.Trees)))
	return forest
}
