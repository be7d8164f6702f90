package config

import (
	"gopkg.in/yaml.v3"
	"io/ioutil"
	"os"
)

// Config top-level struct
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Poller     PollerConfig     `yaml:"poller"`
	Commission CommissionConfig `yaml:"commission"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// PollerConfig tunes the outbox drain loop.
type PollerConfig struct {
	IntervalMS int `yaml:"interval_ms"`
	BatchSize  int `yaml:"batch_size"`
}

// CommissionConfig controls when and on whose behalf the ledger runs.
// TriggerStatus is the status that fires distribution (per-service-type
// overrides allowed); PlatformAccountID receives the customer-referral share.
type CommissionConfig struct {
	TriggerStatus     string            `yaml:"trigger_status"`
	TriggerOverrides  map[string]string `yaml:"trigger_overrides"`
	PlatformAccountID uint64            `yaml:"platform_account_id"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if cfg.Poller.IntervalMS <= 0 {
		cfg.Poller.IntervalMS = 1000
	}
	if cfg.Poller.BatchSize <= 0 {
		cfg.Poller.BatchSize = 100
	}
	if cfg.Commission.TriggerStatus == "" {
		cfg.Commission.TriggerStatus = "completed"
	}
	if cfg.Commission.PlatformAccountID == 0 {
		cfg.Commission.PlatformAccountID = 1
	}
	return &cfg, nil
}
