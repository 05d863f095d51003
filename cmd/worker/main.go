package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"attendance-portal/internal/config"
	"attendance-portal/internal/logging"
	"attendance-portal/internal/notification"
	"attendance-portal/internal/queue"
	"attendance-portal/internal/store"
)

const inboxQueueKey = "portal:inbox-events"

// Worker drains notification events and keeps the unread counters in Redis
// in step with the inbox table.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Production(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is drained inside the api")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	rdb, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("redis config invalid", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()
	if !rdb.Healthy(ctx) {
		logger.Warn("redis not reachable yet; consuming will retry", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(rdb.Client, inboxQueueKey)
	inbox := notification.NewRepository(db.Client)
	counter := notification.NewRedisCounter(rdb.Client, 0)

	logger.Info("worker started")
	err = notification.SyncCounters(ctx, q, inbox, counter, logger.Named("sync"))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}
