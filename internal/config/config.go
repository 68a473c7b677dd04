// Package config loads FluxPay's configuration via Viper, the way the
// teacher service's internal/config wraps an external config loader — here
// reimplemented in-module since that external loader is not a fetchable
// package. Recognizes every key in the engine's external-interfaces
// contract (idempotency, outbox, saga, per-tenant overrides) plus the
// infrastructure connection settings the composition root needs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// URL returns the connection string in postgres:// form, the shape
// golang-migrate's database/postgres driver expects (the keyword form from
// DSN is what gorm's postgres driver wants instead).
func (d DBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
}

type KafkaConfig struct {
	Brokers     []string
	GroupPrefix string
}

type IdempotencyConfig struct {
	Enabled bool
	TTL     time.Duration
}

type OutboxConfig struct {
	Enabled              bool
	BatchSize            int
	MaxRetries           int
	PollingInterval      time.Duration
	CleanupEnabled       bool
	CleanupRetentionDays int
}

type SagaConfig struct {
	Enabled                bool
	Timeout                time.Duration
	StepTimeout            time.Duration
	CompensationMaxRetries int
	CompensationRetryDelay time.Duration
	CleanupRetentionDays   int
}

// TenantOverride is a per-tenant configuration override, recognized under
// `fluxpay.tenants.configs.<id>.*`.
type TenantOverride struct {
	RateLimit           int    `mapstructure:"rate_limit"`
	CreditEnabled       bool   `mapstructure:"credit_enabled"`
	SubscriptionEnabled bool   `mapstructure:"subscription_enabled"`
	WebhookURL          string `mapstructure:"webhook_url"`
}

type ServiceConfig struct {
	Port   string
	AppEnv string

	DB    DBConfig
	Redis RedisConfig
	Kafka KafkaConfig

	Idempotency IdempotencyConfig
	Outbox      OutboxConfig
	Saga        SagaConfig

	TenantOverrides map[string]TenantOverride
}

// Load reads configuration from the environment (optionally seeded by a
// .env file in development) and returns a populated ServiceConfig.
func Load() (*ServiceConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Per-tenant overrides (fluxpay.tenants.configs.<id>.*) don't fit the
	// flat ENV_VAR naming every other setting uses, so they're read from an
	// optional YAML file instead — viper merges it underneath the
	// environment, which still wins for every flat key above.
	if path := v.GetString("fluxpay_tenant_config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading tenant config file %q: %w", path, err)
		}
	}

	setDefaults(v)

	cfg := &ServiceConfig{
		Port:   v.GetString("service_port"),
		AppEnv: v.GetString("app_env"),
		DB: DBConfig{
			Host:     v.GetString("db_host"),
			Port:     v.GetString("db_port"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			DBName:   v.GetString("db_name"),
			SSLMode:  v.GetString("db_sslmode"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("redis_addr"),
			Password:  v.GetString("redis_password"),
			DB:        v.GetInt("redis_db"),
			KeyPrefix: v.GetString("fluxpay_idempotency_redis_key_prefix"),
			Timeout:   v.GetDuration("fluxpay_idempotency_redis_timeout"),
		},
		Kafka: KafkaConfig{
			Brokers:     strings.Split(v.GetString("kafka_brokers"), ","),
			GroupPrefix: v.GetString("kafka_group_prefix"),
		},
		Idempotency: IdempotencyConfig{
			Enabled: v.GetBool("fluxpay_idempotency_enabled"),
			TTL:     v.GetDuration("fluxpay_idempotency_ttl"),
		},
		Outbox: OutboxConfig{
			Enabled:              v.GetBool("fluxpay_outbox_enabled"),
			BatchSize:            v.GetInt("fluxpay_outbox_batch_size"),
			MaxRetries:           v.GetInt("fluxpay_outbox_max_retries"),
			PollingInterval:      time.Duration(v.GetInt("fluxpay_outbox_polling_interval_ms")) * time.Millisecond,
			CleanupEnabled:       v.GetBool("fluxpay_outbox_cleanup_enabled"),
			CleanupRetentionDays: v.GetInt("fluxpay_outbox_cleanup_retention_days"),
		},
		Saga: SagaConfig{
			Enabled:                v.GetBool("fluxpay_saga_enabled"),
			Timeout:                v.GetDuration("fluxpay_saga_timeout"),
			StepTimeout:            v.GetDuration("fluxpay_saga_step_timeout"),
			CompensationMaxRetries: v.GetInt("fluxpay_saga_compensation_max_retries"),
			CompensationRetryDelay: v.GetDuration("fluxpay_saga_compensation_retry_delay"),
			CleanupRetentionDays:   v.GetInt("fluxpay_saga_cleanup_retention_days"),
		},
		TenantOverrides: map[string]TenantOverride{},
	}

	if err := v.UnmarshalKey("fluxpay.tenants.configs", &cfg.TenantOverrides); err != nil {
		return nil, fmt.Errorf("config: parsing tenant overrides: %w", err)
	}

	if cfg.Port == "" {
		return nil, fmt.Errorf("config: SERVICE_PORT is required")
	}
	if cfg.DB.Host == "" || cfg.DB.DBName == "" {
		return nil, fmt.Errorf("config: database configuration is incomplete")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_port", ":8080")
	v.SetDefault("app_env", "development")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("fluxpay_idempotency_redis_key_prefix", "idempotency:")
	v.SetDefault("fluxpay_idempotency_redis_timeout", 2*time.Second)
	v.SetDefault("kafka_group_prefix", "fluxpay-")

	v.SetDefault("fluxpay_idempotency_enabled", true)
	v.SetDefault("fluxpay_idempotency_ttl", 24*time.Hour)

	v.SetDefault("fluxpay_outbox_enabled", true)
	v.SetDefault("fluxpay_outbox_batch_size", 100)
	v.SetDefault("fluxpay_outbox_max_retries", 3)
	v.SetDefault("fluxpay_outbox_polling_interval_ms", 100)
	v.SetDefault("fluxpay_outbox_cleanup_enabled", true)
	v.SetDefault("fluxpay_outbox_cleanup_retention_days", 7)

	v.SetDefault("fluxpay_saga_enabled", true)
	v.SetDefault("fluxpay_saga_timeout", 30*time.Second)
	v.SetDefault("fluxpay_saga_step_timeout", 10*time.Second)
	v.SetDefault("fluxpay_saga_compensation_max_retries", 3)
	v.SetDefault("fluxpay_saga_compensation_retry_delay", 1*time.Second)
	v.SetDefault("fluxpay_saga_cleanup_retention_days", 30)
}

func (c *ServiceConfig) IsDevelopment() bool { return c.AppEnv == "development" }
func (c *ServiceConfig) IsProduction() bool  { return c.AppEnv == "production" }
