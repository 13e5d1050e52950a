// Package main is the entry point for the atlas approximation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/atlasapprox/server/internal/api"
	"github.com/atlasapprox/server/internal/cache"
	"github.com/atlasapprox/server/internal/config"
	"github.com/atlasapprox/server/internal/data/store"
	"github.com/atlasapprox/server/internal/logging"
	"github.com/atlasapprox/server/internal/refstore"
	"github.com/atlasapprox/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	warm := flag.Bool("warm", false, "Load feature indices of every organism before serving")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logger.Info().Int("port", cfg.Server.Port).Str("backend", cfg.Atlas.Backend).Msg("starting atlas approximation server")

	ctx := context.Background()

	cacheManager, err := cache.NewManager(cache.Config{
		ChunkCacheSizeMB: cfg.Cache.ChunkCacheMB,
		ChunkTTL:         time.Duration(cfg.Cache.ChunkTTLMinutes) * time.Minute,
		QueryCacheSize:   cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize cache")
	}
	defer cacheManager.Close()

	backend, err := newBackend(cfg.Atlas)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize atlas backend")
	}
	if cacheManager.ChunkCacheEnabled() {
		backend = store.WithCache(backend, cacheManager)
	}

	var reference *refstore.Store
	if cfg.Atlas.ReferenceDB != "" {
		reference, err = refstore.NewStore(cfg.Atlas.ReferenceDB)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Atlas.ReferenceDB).Msg("failed to open reference database")
		}
		defer reference.Close()
	} else {
		logger.Warn().Msg("no reference database: surface markers and interaction partners are unavailable")
	}

	mtypes := make(map[string]service.MeasurementTypeInfo, len(cfg.MeasurementTypes))
	for name, mt := range cfg.MeasurementTypes {
		mtypes[name] = service.MeasurementTypeInfo{Unit: mt.Unit, FractionIsAverage: mt.FractionIsAverage}
	}
	svc := service.New(service.Config{
		Backend:                 backend,
		Reference:               reference,
		Embeddings:              cfg.Atlas.Embeddings,
		MaxFeatures:             cfg.Limits.MaxFeatures,
		MaxFeaturesNeighborhood: cfg.Limits.MaxFeaturesNeighborhood,
		MaxConcurrentReads:      cfg.Limits.MaxConcurrentReads,
		MeasurementTypes:        mtypes,
		Logger:                  logger.With().Str("component", "service").Logger(),
	})

	if *warm {
		warmUp(ctx, svc, logger)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:     svc,
		Cache:       cacheManager,
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Interface("cache", cacheManager.Stats()).Msg("server stopped")
}

func newBackend(cfg config.AtlasConfig) (store.Backend, error) {
	if cfg.Backend != "minio" {
		return store.NewLocalBackend(cfg.Path), nil
	}
	client, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return store.NewMinioBackend(client, cfg.Minio.Bucket, cfg.Minio.Prefix, cfg.Minio.RequestsPerSecond), nil
}

// warmUp loads lookup tables of every organism and measurement type. Failures
// are logged and the server starts anyway.
func warmUp(ctx context.Context, svc *service.Service, logger zerolog.Logger) {
	targets, err := svc.WarmTargets(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list warm-up targets")
		return
	}
	bar := progressbar.NewOptions(len(targets),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("warming"),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
	)
	start := time.Now()
	for _, t := range targets {
		if err := svc.Warm(ctx, t); err != nil {
			logger.Warn().Err(err).Str("organism", t.Organism).Str("measurement_type", t.MeasurementType).Msg("warm-up failed")
		}
		bar.Add(1)
	}
	logger.Info().Int("targets", len(targets)).Dur("elapsed", time.Since(start)).Msg("warm-up done")
}
