package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/grantway/grantway/pkg/cases"
	"github.com/grantway/grantway/pkg/config"
	"github.com/grantway/grantway/pkg/inbox"
	"github.com/grantway/grantway/pkg/logging"
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

	repo := postgres.NewInboxRepository(db.DB(), postgres.QueueOptions{
		LeaseTTL:   cfg.Inbox.LeaseTTL,
		MaxRetries: cfg.Inbox.MaxRetries,
	})
	leases := postgres.NewLeaseRepository(db.DB())

	svc := cases.NewService(db.DB(), logger, cfg.Kafka.EventsTopic)
	dispatcher := inbox.NewDispatcher()
	cases.RegisterHandlers(dispatcher, svc)

	engine := inbox.NewEngine(repo, leases, dispatcher, logger, inbox.Options{
		Actor:        cfg.Inbox.Actor,
		PollInterval: cfg.Inbox.PollInterval,
		BatchSize:    cfg.Inbox.BatchSize,
		LeaseTTL:     cfg.Inbox.LeaseTTL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("inbox engine stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("inbox engine shutting down")
	engine.Stop()
}
