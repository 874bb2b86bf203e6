package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/grantway/grantway/pkg/broker"
	"github.com/grantway/grantway/pkg/config"
	"github.com/grantway/grantway/pkg/dedup"
	"github.com/grantway/grantway/pkg/logging"
	"github.com/grantway/grantway/pkg/store/postgres"
	redisclient "github.com/grantway/grantway/pkg/store/redis"
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

	var deduper dedup.Deduper
	if len(cfg.Redis.Addresses) > 0 {
		client, err := redisclient.NewClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		deduper = dedup.NewRedisDeduper(client.Client(), cfg.Redis.DedupTTL)
	} else {
		logger.Info("redis not configured, using in-process dedup cache")
		deduper = dedup.NewMemoryDeduper(cfg.Redis.DedupTTL)
	}

	repo := postgres.NewInboxRepository(db.DB(), postgres.QueueOptions{
		LeaseTTL:   cfg.Inbox.LeaseTTL,
		MaxRetries: cfg.Inbox.MaxRetries,
	})

	ingress := broker.NewIngress(broker.IngressConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
		GroupID:  cfg.Kafka.GroupID,
		Topic:    cfg.Kafka.InboundTopic,
	}, repo, deduper, logger)
	defer ingress.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := ingress.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("broker ingress stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("broker ingress shutting down")
}
