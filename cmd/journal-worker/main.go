package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/journal"
	"qrattend/internal/logger"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker drains published outcomes into the attempt journal.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend != "redis" {
		log.Fatal().Str("queue_backend", cfg.QueueBackend).
			Msg("journal worker needs QUEUE_BACKEND=redis; the scan agent journals in-process otherwise")
	}

	db, err := store.NewDB(ctx, cfg.JournalDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	repo := attendance.NewRepository(db.Client)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("journal schema failed")
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet, consumer will keep retrying")
	}
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	log.Info().Str("driver", db.Driver).Str("queue", cfg.QueueKey).Msg("journal worker started")
	stored, err := journal.NewConsumer(q, repo).Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("journal worker failed")
		return
	}
	log.Info().Int("stored", stored).Msg("journal worker stopped")
}
