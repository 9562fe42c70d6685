package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/punchamoorthee/paycore/internal/domain"
)

const (
	QueueMemory = "memory"
	QueueKafka  = "kafka"
)

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	Group       string   `mapstructure:"group"`
	EventsTopic string   `mapstructure:"events_topic"`
}

type PaystackConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	BaseURL   string `mapstructure:"base_url"`
}

type Config struct {
	DBSource        string         `mapstructure:"db_source"`
	Port            string         `mapstructure:"server_port"`
	Env             string         `mapstructure:"environment"`
	PaymentMode     string         `mapstructure:"payment_mode"`
	ProviderTimeout time.Duration  `mapstructure:"provider_timeout"`
	StaleAfter      time.Duration  `mapstructure:"stale_after"`
	SweepInterval   time.Duration  `mapstructure:"sweep_interval"`
	SweepBatch      int            `mapstructure:"sweep_batch"`
	Workers         int            `mapstructure:"workers"`
	QueueDepth      int            `mapstructure:"queue_depth"`
	QueueBackend    string         `mapstructure:"queue_backend"`
	ProvidersFile   string         `mapstructure:"providers_file"`
	Kafka           KafkaConfig    `mapstructure:"kafka"`
	Paystack        PaystackConfig `mapstructure:"paystack"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_source", "")
	v.SetDefault("server_port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("payment_mode", string(domain.ModeTest))
	v.SetDefault("provider_timeout", 30*time.Second)
	v.SetDefault("stale_after", 5*time.Minute)
	v.SetDefault("sweep_interval", time.Minute)
	v.SetDefault("sweep_batch", 100)
	v.SetDefault("workers", 4)
	v.SetDefault("queue_depth", 1024)
	v.SetDefault("queue_backend", QueueMemory)
	v.SetDefault("providers_file", "config/providers.yaml")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "paycore.webhooks")
	v.SetDefault("kafka.group", "paycore-webhooks")
	v.SetDefault("kafka.events_topic", "")
	v.SetDefault("paystack.secret_key", "")
	v.SetDefault("paystack.base_url", "")
}

// Load reads defaults, then the optional YAML file at path, then the
// environment. Nested keys map to env vars with dots turned into
// underscores, so kafka.brokers is KAFKA_BROKERS.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBSource == "" {
		return errors.New("DB_SOURCE environment variable is required")
	}
	if !domain.Mode(c.PaymentMode).Valid() {
		return fmt.Errorf("PAYMENT_MODE must be test or live, got %q", c.PaymentMode)
	}
	if c.ProviderTimeout <= 0 || c.StaleAfter <= 0 || c.SweepInterval <= 0 {
		return errors.New("PROVIDER_TIMEOUT, STALE_AFTER and SWEEP_INTERVAL must be positive")
	}
	switch c.QueueBackend {
	case QueueMemory:
	case QueueKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when QUEUE_BACKEND is kafka")
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %s or %s, got %q", QueueMemory, QueueKafka, c.QueueBackend)
	}
	return nil
}

func (c *Config) Mode() domain.Mode {
	return domain.Mode(c.PaymentMode)
}
