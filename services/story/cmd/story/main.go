package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photoyarn/internal/ratelimit"
	"photoyarn/internal/util"
	"photoyarn/pkg/ai"
	"photoyarn/pkg/archive"
	"photoyarn/pkg/artifact"
	"photoyarn/pkg/queue"
	"photoyarn/pkg/retention"
	"photoyarn/pkg/storage"
	"photoyarn/pkg/store"
	"photoyarn/pkg/story"
	"photoyarn/services/story/internal/app"
	"photoyarn/services/story/internal/config"
	"photoyarn/services/story/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "story")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		stop()
		log.Fatalf("story server: %v", err)
	}
}

// run owns every closable resource so deferred cleanup also happens when
// startup fails.
func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	policy, err := story.ParseDuplicatePolicy(cfg.DuplicateMarkerPolicy)
	if err != nil {
		return fmt.Errorf("parse duplicate marker policy: %w", err)
	}
	vision, text := newModels(cfg)

	meta, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("init story store: %w", err)
	}
	defer meta.Close()

	objects, err := newObjectStore(cfg)
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}
	artifacts := artifact.NewStore(objects, meta, 0, logger)

	cleanupQueue, closeQueue, err := newCleanupQueue(cfg)
	if err != nil {
		return fmt.Errorf("init cleanup queue: %w", err)
	}
	defer closeQueue()

	scheduler := retention.NewScheduler(cleanupQueue, artifacts, retention.Config{
		Retention:  time.Duration(cfg.RetentionHours * float64(time.Hour)),
		Interval:   time.Duration(cfg.CleanupIntervalSeconds) * time.Second,
		RetryDelay: time.Duration(cfg.CleanupRetrySeconds) * time.Second,
	}, logger)
	refs, err := artifacts.List(ctx)
	if err != nil {
		return fmt.Errorf("list stored stories: %w", err)
	}
	if _, err := scheduler.Restore(ctx, refs); err != nil {
		logger.Error("cleanup restore incomplete", "err", err)
	}

	extractor := archive.NewExtractor(logger)
	extractor.MaxEntryBytes = cfg.MaxImageBytes
	extractor.MaxEntries = cfg.MaxImages

	appCore, err := app.New(app.Config{
		Extractor:             extractor,
		Describer:             ai.NewDescriber(vision),
		Synthesizer:           story.NewSynthesizer(text, policy, logger),
		Artifacts:             artifacts,
		Scheduler:             scheduler,
		DescribeConcurrency:   cfg.DescribeConcurrency,
		DescribeRatePerSecond: cfg.DescribeRatePerSecond,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	limiter, closeLimiter, err := newUploadLimiter(cfg)
	if err != nil {
		return fmt.Errorf("init upload limiter: %w", err)
	}
	defer closeLimiter()

	httpServer, err := server.New(server.Config{
		App:                appCore,
		UploadLimiter:      limiter,
		TrustedProxies:     cfg.TrustedProxies,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	scheduler.Start(ctx)
	defer scheduler.Stop()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	logger.Info("story server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.StorageBackend == "minio" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return storage.NewFileStore(cfg.StorageDir)
}

func newCleanupQueue(cfg config.FileConfig) (queue.CleanupQueue, func(), error) {
	if cfg.CleanupQueue != "redis" {
		return queue.NewMemoryQueue(), func() {}, nil
	}
	q, err := queue.NewRedisCleanupQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return nil, nil, err
	}
	return q, func() { _ = q.Close() }, nil
}

// newUploadLimiter returns a nil limiter when the quota is disabled. Redis is
// used when configured so the quota holds across replicas.
func newUploadLimiter(cfg config.FileConfig) (ratelimit.Limiter, func(), error) {
	if cfg.UploadDailyLimit <= 0 {
		return nil, func() {}, nil
	}
	if cfg.RedisAddr != "" {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.UploadDailyLimit, 24*time.Hour)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	}
	l, err := ratelimit.NewMemoryFixedWindowLimiter(cfg.UploadDailyLimit, 24*time.Hour)
	if err != nil {
		return nil, nil, err
	}
	return l, func() {}, nil
}

func newModels(cfg config.FileConfig) (ai.ImageDescriber, ai.TextGenerator) {
	timeout := time.Duration(cfg.ModelTimeoutSeconds) * time.Second
	if cfg.AIProvider == "openai" {
		return ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.VisionModel, timeout),
			ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.StoryModel, timeout)
	}
	client := ai.NewGeminiClient(cfg.GeminiAPIKey, timeout)
	return ai.NewGeminiGenerator(client, cfg.VisionModel), ai.NewGeminiGenerator(client, cfg.StoryModel)
}
