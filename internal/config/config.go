package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string    `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel  string    `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP      HTTP      `yaml:"http"`
	MySQL     MySQL     `yaml:"mysql"`
	Redis     Redis     `yaml:"redis"`
	Kafka     Kafka     `yaml:"kafka"`
	PhonePe   PhonePe   `yaml:"phonepe"`
	URLs      URLs      `yaml:"urls"`
	Reconcile Reconcile `yaml:"reconcile"`
	Limiter   Limiter   `yaml:"limiter"`
	JWT       JWT       `yaml:"jwt"`
}

type HTTP struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":8082"`
}

type MySQL struct {
	// DSNs lists one data source per shard.
	DSNs           []string `yaml:"dsns" env:"MYSQL_DSNS" env-separator:"," env-default:"root:@tcp(127.0.0.1:3306)/orders?parseTime=true"`
	ConnectRetries int      `yaml:"connect_retries" env-default:"10"`
	MigrateRetries int      `yaml:"migrate_retries" env-default:"3"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_ORDER_TOPIC" env-default:"order-topic"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"checkout-service-group"`
}

type PhonePe struct {
	MerchantID  string        `yaml:"merchant_id" env:"PHONEPE_MERCHANT_ID"`
	SaltKey     string        `yaml:"salt_key" env:"PHONEPE_SALT_KEY"`
	SaltIndex   int           `yaml:"salt_index" env:"PHONEPE_SALT_INDEX" env-default:"1"`
	Environment string        `yaml:"environment" env:"PHONEPE_ENV" env-default:"sandbox"`
	BaseURL     string        `yaml:"base_url" env:"PHONEPE_BASE_URL"`
	Timeout     time.Duration `yaml:"timeout" env:"PHONEPE_TIMEOUT" env-default:"15s"`
}

type URLs struct {
	Frontend string `yaml:"frontend" env:"FRONTEND_URL" env-default:"http://localhost:5173"`
	Backend  string `yaml:"backend" env:"BACKEND_URL" env-default:"http://localhost:8082"`
}

type Reconcile struct {
	Interval      time.Duration `yaml:"interval" env:"RECONCILE_INTERVAL" env-default:"1m"`
	PendingExpiry time.Duration `yaml:"pending_expiry" env:"PENDING_EXPIRY" env-default:"30m"`
	BatchSize     int           `yaml:"batch_size" env-default:"50"`
}

type Limiter struct {
	Rate  float64       `yaml:"rate" env-default:"10"`
	Burst int           `yaml:"burst" env-default:"20"`
	TTL   time.Duration `yaml:"ttl" env-default:"3m"`
}

type JWT struct {
	Secret string `yaml:"secret" env:"JWT_SECRET"`
}

// Load reads the yaml file at path when it exists, otherwise the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.MySQL.DSNs) == 0 {
		return errors.New("config: at least one mysql dsn is required")
	}
	if c.PhonePe.Environment != "sandbox" && c.PhonePe.Environment != "production" {
		return fmt.Errorf("config: phonepe environment must be sandbox or production, got %q", c.PhonePe.Environment)
	}
	if c.Reconcile.PendingExpiry <= 0 {
		return errors.New("config: pending expiry must be positive")
	}
	return nil
}
