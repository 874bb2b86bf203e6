package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/grantway/grantway/pkg/broker"
	"github.com/grantway/grantway/pkg/config"
	"github.com/grantway/grantway/pkg/logging"
	"github.com/grantway/grantway/pkg/outbox"
	"github.com/grantway/grantway/pkg/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(&cfg.Logging)
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	publisher := broker.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
	defer publisher.Close()

	repo := postgres.NewOutboxRepository(db.DB(), postgres.QueueOptions{
		LeaseTTL:   cfg.Outbox.LeaseTTL,
		MaxRetries: cfg.Outbox.MaxRetries,
	})
	engine := outbox.NewEngine(repo, publisher, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("outbox engine stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("outbox engine shutting down")
	engine.Stop()
}
