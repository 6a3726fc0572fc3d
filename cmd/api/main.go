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

	"github.com/dunamismax/pixelstamp/internal/api"
	"github.com/dunamismax/pixelstamp/internal/config"
	"github.com/dunamismax/pixelstamp/internal/pipeline"
	"github.com/dunamismax/pixelstamp/internal/ratelimit"
	"github.com/dunamismax/pixelstamp/internal/storage"
	"github.com/dunamismax/pixelstamp/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown failed")
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("image backend startup failed")
	}
	defer pipeline.Shutdown()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("storage setup failed")
	}

	opts := pipeline.DefaultOptions()
	opts.Quality = cfg.Pipeline.JPEGQuality
	opts.MaxPixels = cfg.Pipeline.MaxPixels

	processor, err := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Logo:    pipeline.FileLogo{Path: cfg.Pipeline.LogoPath},
		Store:   store,
		Prefix:  cfg.Storage.Prefix,
		Options: opts,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("processor setup failed")
	}

	serverOpts := api.Options{
		MaxUploadBytes:        cfg.API.MaxUploadBytes,
		ExposeErrors:          cfg.API.ExposeErrors,
		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
	}

	if cfg.RateLimit.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("redis client close failed")
			}
		}()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("rate limiter setup failed")
		}

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := limiter.Ping(pingCtx); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RateLimit.RedisAddr).Msg("rate limiter redis unreachable, requests will pass unchecked")
		}
		cancel()

		serverOpts.RateLimiter = limiter
	}

	app := api.NewServer(logger, processor, serverOpts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.API.Addr).
			Str("image_backend", pipeline.Backend()).
			Str("storage_backend", cfg.Storage.Backend).
			Bool("rate_limit", cfg.RateLimit.Enabled()).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case storage.BackendMinio:
		store, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      cfg.Minio.Endpoint,
			Access:        cfg.Minio.AccessKey,
			Secret:        cfg.Minio.SecretKey,
			Bucket:        cfg.Bucket,
			UseSSL:        cfg.Minio.UseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.EnsureBucket(ensureCtx); err != nil {
			return nil, err
		}
		return store, nil
	case storage.BackendS3:
		return storage.NewS3Store(ctx, storage.S3Config{
			Region:          cfg.S3.Region,
			EndpointURL:     cfg.S3.EndpointURL,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.Bucket,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
	case storage.BackendMemory:
		return storage.NewMemoryStore(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
