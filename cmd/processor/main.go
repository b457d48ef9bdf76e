package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/cmd/processor/internal/processor"
	"github.com/aryanseth9795/stocklabs-backend/pkg/config"
	"github.com/aryanseth9795/stocklabs-backend/pkg/tickstore"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := tickstore.NewRedisStore(rdb, logger, cfg.Redis.TickTTL)
	if err := store.Ping(context.Background()); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 200,
		MaxBytes: 10e6,
		MaxWait:  200 * time.Millisecond,
		// Auto-commit; the store is last-write-wins so a redelivered tick is harmless
		CommitInterval: time.Second,
		// Rebalancing: 3s heartbeat, 10s session timeout for responsive scaling
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	})

	proc := processor.NewProcessor(cfg.Processor.NumWorkers, logger, store, reader)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := proc.Run(ctx); err != nil {
			logger.Error("Processor stopped", zap.Error(err))
		}
	}()

	<-sigChan
	cancel()

	logger.Info("Closing Kafka Reader...")
	if err := reader.Close(); err != nil {
		logger.Error("Error closing reader", zap.Error(err))
	}
	<-done

	stats := proc.Stats()
	logger.Info("Processor totals",
		zap.Int64("written", stats.Written),
		zap.Int64("stale", stats.Stale),
		zap.Int64("invalid", stats.Invalid),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("failed", stats.Failed),
	)

	logger.Info("Closing Redis...")
	store.Close()

	logger.Info("Processor exited cleanly")
}
