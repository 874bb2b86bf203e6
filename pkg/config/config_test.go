package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected default http port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Inbox.Actor != "inbox-engine" {
		t.Errorf("expected default inbox actor, got %q", cfg.Inbox.Actor)
	}
	if cfg.Inbox.PollInterval != 2*time.Second {
		t.Errorf("expected default poll interval 2s, got %s", cfg.Inbox.PollInterval)
	}
	if cfg.Inbox.LeaseTTL != 60*time.Second {
		t.Errorf("expected default lease ttl 60s, got %s", cfg.Inbox.LeaseTTL)
	}
	if cfg.Inbox.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.Inbox.MaxRetries)
	}
	if cfg.Outbox.BatchSize != 10 {
		t.Errorf("expected default batch size 10, got %d", cfg.Outbox.BatchSize)
	}
	if cfg.Kafka.EventsTopic != "grantway.cases.events" {
		t.Errorf("unexpected default events topic %q", cfg.Kafka.EventsTopic)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected default json logging, got %q", cfg.Logging.Format)
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "grantway",
		Password: "secret",
		Database: "grantway",
		SSLMode:  "disable",
	}

	want := "host=localhost port=5432 user=grantway password=secret dbname=grantway sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("unexpected dsn %q", got)
	}
}
