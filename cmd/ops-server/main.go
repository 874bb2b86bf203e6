package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/grantway/grantway/pkg/config"
	"github.com/grantway/grantway/pkg/logging"
	"github.com/grantway/grantway/pkg/opsapi"
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

	inboxRepo := postgres.NewInboxRepository(db.DB(), postgres.QueueOptions{
		LeaseTTL:   cfg.Inbox.LeaseTTL,
		MaxRetries: cfg.Inbox.MaxRetries,
	})
	outboxRepo := postgres.NewOutboxRepository(db.DB(), postgres.QueueOptions{
		LeaseTTL:   cfg.Outbox.LeaseTTL,
		MaxRetries: cfg.Outbox.MaxRetries,
	})

	server := opsapi.NewServer(inboxRepo, outboxRepo, cfg, logger)

	go func() {
		if err := server.Run(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ops server stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("ops server shutting down")
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Warn("ops server shutdown error", zap.Error(err))
	}
}
