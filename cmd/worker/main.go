package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/pdf-image-extractor/config"
	"github.com/feichai0017/pdf-image-extractor/internal/service/extraction"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
	"github.com/feichai0017/pdf-image-extractor/pkg/worker"
)

const cleanupInterval = time.Hour

func main() {
	cfg, err := config.Get()
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
		logger.FromConfig(cfg.Logger),
		logger.WithInitialField("service", "pdf-image-worker"),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, q, err := extraction.GetService(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to create extraction service", logger.Error(err))
		os.Exit(1)
	}
	defer q.Close()

	extractionWorker, err := worker.NewExtractionWorker(&worker.Config{
		Redis:       queue.RedisOpt(cfg.Redis),
		Concurrency: cfg.Queue.Concurrency,
		Queues:      worker.DefaultQueues(),
	}, svc, log)
	if err != nil {
		log.Error("Failed to create extraction worker", logger.Error(err))
		os.Exit(1)
	}

	if err := extractionWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started",
		logger.String("redis", cfg.Redis.Addr),
		logger.Int("concurrency", cfg.Queue.Concurrency))

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := svc.CleanupTasks(ctx); err != nil {
				log.Warn("Cleanup failed", logger.Error(err))
			}
		case <-ctx.Done():
			// 优雅关闭
			log.Info("Shutting down worker...")
			extractionWorker.Stop()
			log.Info("Worker stopped")
			return
		}
	}
}
