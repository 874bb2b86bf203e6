package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Inbox    InboxConfig
	Outbox   OutboxConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addresses   []string      `mapstructure:"addresses"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	ClusterMode bool          `mapstructure:"cluster_mode"`
	DedupTTL    time.Duration `mapstructure:"dedup_ttl"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	ClientID     string   `mapstructure:"client_id"`
	InboundTopic string   `mapstructure:"inbound_topic"`
	GroupID      string   `mapstructure:"group_id"`
	EventsTopic  string   `mapstructure:"events_topic"`
}

// InboxConfig tunes the consumer engine. Actor names the lease owner shared
// by every replica of the engine.
type InboxConfig struct {
	Actor        string        `mapstructure:"actor"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/grantway/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("GRANTWAY")
	viper.AutomaticEnv()

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("redis.dedup_ttl", "30m")
	viper.SetDefault("kafka.client_id", "grantway")
	viper.SetDefault("kafka.inbound_topic", "grantway.cases.inbound")
	viper.SetDefault("kafka.group_id", "grantway-ingress")
	viper.SetDefault("kafka.events_topic", "grantway.cases.events")
	viper.SetDefault("inbox.actor", "inbox-engine")
	viper.SetDefault("inbox.poll_interval", "2s")
	viper.SetDefault("inbox.batch_size", 10)
	viper.SetDefault("inbox.lease_ttl", "60s")
	viper.SetDefault("inbox.max_retries", 3)
	viper.SetDefault("outbox.poll_interval", "2s")
	viper.SetDefault("outbox.batch_size", 10)
	viper.SetDefault("outbox.lease_ttl", "60s")
	viper.SetDefault("outbox.max_retries", 3)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
