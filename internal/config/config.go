package config

import (
	"fmt"
	"strings"

	"notifyhub/pkg/config"
)

// 溢出策略
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDisconnect = "disconnect"
)

type NotificationConfig struct {
	BrokerBufferSize int    `yaml:"broker_buffer_size"`
	OverflowPolicy   string `yaml:"overflow_policy"`
	DefaultPageSize  int    `yaml:"default_page_size"`
	MaxPageSize      int    `yaml:"max_page_size"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds"`
	RetryMax         int    `yaml:"retry_max"`
	DedupTTLSeconds  int    `yaml:"dedup_ttl_seconds"`
}

type Config struct {
	Server       config.ServerConfig `yaml:"server"`
	DB           config.DBConfig     `yaml:"db"`
	MQ           config.MQConfig     `yaml:"mq"`
	Redis        config.RedisConfig  `yaml:"redis"`
	JWT          config.JWTConfig    `yaml:"jwt"`
	Otel         config.OtelConfig   `yaml:"otel"`
	Log          config.LogConfig    `yaml:"log"`
	Notification NotificationConfig  `yaml:"notification"`
}

func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideOtelFromEnv(&cfg.Otel)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8085"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = config.DriverPostgres
	}
	if c.DB.Driver == config.DriverSQLite && c.DB.Path == "" {
		c.DB.Path = "notifyhub.db"
	}
	if c.Otel.ServiceName == "" {
		c.Otel.ServiceName = "notifyhub"
	}

	n := &c.Notification
	if n.BrokerBufferSize <= 0 {
		n.BrokerBufferSize = 64
	}
	if n.OverflowPolicy == "" {
		n.OverflowPolicy = OverflowDropOldest
	}
	if n.DefaultPageSize <= 0 {
		n.DefaultPageSize = 20
	}
	if n.MaxPageSize <= 0 {
		n.MaxPageSize = 100
	}
	if n.HeartbeatSeconds <= 0 {
		n.HeartbeatSeconds = 25
	}
	if n.RetryMax <= 0 {
		n.RetryMax = 3
	}
	if n.DedupTTLSeconds <= 0 {
		n.DedupTTLSeconds = 86400
	}
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case config.DriverPostgres, config.DriverSQLite:
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	switch c.Notification.OverflowPolicy {
	case OverflowDropOldest, OverflowDisconnect:
	default:
		return fmt.Errorf("unsupported overflow policy %q", c.Notification.OverflowPolicy)
	}
	if c.Notification.DefaultPageSize > c.Notification.MaxPageSize {
		return fmt.Errorf("default_page_size %d exceeds max_page_size %d",
			c.Notification.DefaultPageSize, c.Notification.MaxPageSize)
	}
	if c.JWT.Secret == "" || strings.Contains(c.JWT.Secret, "${") {
		return fmt.Errorf("jwt.secret is required")
	}
	return nil
}
