package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/quantpulse/reconciler/internal/secrets"
)

// Config holds all configuration for the reconciliation pipeline. It is
// built once at process start and passed into each component; nothing in
// this package keeps ambient global state.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Stripe   StripeConfig
	Pipeline PipelineConfig
}

// DatabaseConfig holds the discrete Postgres connection fields. The
// password may come from Doppler when DOPPLER_PROJECT is set.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	MaxConns int
	MaxIdle  int
}

// DSN assembles the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// RedisConfig holds the aggregate-cache connection settings.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// StripeConfig holds the billing provider credentials.
type StripeConfig struct {
	SecretKey string
}

// PipelineConfig holds tunables for the batch run.
type PipelineConfig struct {
	// CustomerDelay is the fixed pause between per-customer Stripe
	// calls, a deliberate throttle toward the provider.
	CustomerDelay time.Duration
}

// Load creates a Config from environment variables, reading a .env file
// first when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "quantpulse"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
			MaxIdle:  getEnvInt("DB_MAX_IDLE", 2),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Stripe: StripeConfig{
			SecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		},
		Pipeline: PipelineConfig{
			CustomerDelay: getEnvDuration("CUSTOMER_DELAY", 100*time.Millisecond),
		},
	}

	// When a Doppler project is configured, sensitive values come from
	// the secret manager with the environment as fallback.
	if project := os.Getenv("DOPPLER_PROJECT"); project != "" {
		doppler := secrets.NewDopplerClient(project, getEnv("DOPPLER_CONFIG", "prd"))
		cfg.Database.Password = doppler.GetSecretWithFallback("DB_PASSWORD", cfg.Database.Password)
		cfg.Stripe.SecretKey = doppler.GetSecretWithFallback("STRIPE_SECRET_KEY", cfg.Stripe.SecretKey)
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return d
}
