// Command kbetl runs the Knowledge Base ETL Pipeline's reference HTTP
// surface: the Draft Store, KB Catalog, Orchestrator, and reconcile
// sweep wired to the backends named in configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"kbetl/internal/adapters"
	"kbetl/internal/catalog"
	"kbetl/internal/config"
	"kbetl/internal/draft"
	"kbetl/internal/embedder"
	"kbetl/internal/httpapi"
	"kbetl/internal/klog"
	"kbetl/internal/model"
	"kbetl/internal/objectstore"
	"kbetl/internal/orchestrator"
	"kbetl/internal/preview"
	"kbetl/internal/reconciler"
	"kbetl/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("kbetl")
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("KB_CONFIG_FILE"), "path to a YAML config file (optional; env vars always override)")
	flag.Parse()

	// .env is best-effort: a deployment may already export every KB_*
	// variable directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var logWriter io.Writer
	if cfg.Log.Path != "" {
		f, err := os.OpenFile(cfg.Log.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.Log.Path, err)
		}
		defer f.Close()
		logWriter = f
	}
	logger := klog.New(logWriter, cfg.Log.Level)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = klog.WithLogger(ctx, logger)

	metrics := klog.NewOtelMetrics()

	objStore, err := objectstore.New(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}
	adapters.SetFileStore(objStore)

	catalogStore, err := catalog.New(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}
	defer catalogStore.Close()
	adapters.SetSourceResolver(catalogStore)

	vectors, err := vectorstore.NewStore(ctx, vectorstore.Config{
		Backend: cfg.Vector.Backend, DSN: cfg.Vector.DSN, Dimension: cfg.Vector.Dimension, Metric: cfg.Vector.Metric,
	})
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}

	// A configured local provider overrides the hardcoded default the
	// embedder package's own init() registers, the same swap-in-a-real-
	// backend pattern internal/adapters uses for SetFileStore and
	// SetSourceResolver. An "http" provider is a deployment's own Provider
	// implementation registered before kbetl starts (e.g. via a build tag
	// or plugin); this binary ships only the local reference provider.
	if cfg.Embedder.Provider == "local" && cfg.Embedder.Dimension > 0 {
		embedder.Register("local", embedder.NewLocal(model.EmbeddingProfile{
			ProviderID: "local",
			ModelID:    cfg.Embedder.Model,
			Dimension:  cfg.Embedder.Dimension,
			Normalized: cfg.Embedder.Normalized,
		}))
	}

	drafts, err := draft.New(cfg.Redis, preview.New())
	if err != nil {
		return fmt.Errorf("init draft store: %w", err)
	}

	orch := orchestrator.New(catalogStore, vectors, orchestrator.Config{
		SourceConcurrency: cfg.Orchestrator.SourceConcurrency,
		IngestTimeout:     time.Duration(cfg.Orchestrator.IngestTimeoutSeconds) * time.Second,
		ParseTimeout:      time.Duration(cfg.Orchestrator.ParseTimeoutSeconds) * time.Second,
		EmbedTimeout:      time.Duration(cfg.Orchestrator.EmbedTimeoutSeconds) * time.Second,
		IndexTimeout:      time.Duration(cfg.Orchestrator.IndexTimeoutSeconds) * time.Second,
		EmbedRatePerSec:   float64(cfg.Embedder.RateLimitRPS),
		MaxChunksPerKB:    cfg.Quota.MaxChunksPerKB,
	}, metrics)
	handoff := catalog.NewHandoff(catalogStore, orch, cfg.Quota)

	recon := reconciler.New(catalogStore, vectors, draftSweeper(drafts), time.Duration(cfg.Reconciler.IntervalSeconds)*time.Second, metrics)
	go recon.Run(ctx)

	server := httpapi.NewServer(drafts, catalogStore, vectors, handoff)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpSrv.Addr).Msg("kbetl listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}
	return nil
}

// draftSweeper narrows drafts down to reconciler.DraftSweeper; draft.Store
// doesn't declare SweepExpired itself (only the two concrete backends do,
// Redis's as a documented no-op), so a type assertion bridges them rather
// than widening the public Store interface for an internal sweep detail.
func draftSweeper(d draft.Store) reconciler.DraftSweeper {
	if sweeper, ok := d.(reconciler.DraftSweeper); ok {
		return sweeper
	}
	return nil
}
