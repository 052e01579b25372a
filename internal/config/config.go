package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of the gateway, sourced from
// environment variables with a VERIGATE_ prefix.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Auth    AuthConfig
	Limits  LimitsConfig
	Session SessionConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
	FloodBurst      int
	FloodPerSecond  int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	JWTSecret  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type LimitsConfig struct {
	SweepInterval time.Duration
	Retention     time.Duration
}

type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	WebhookSecret string
}

// Load reads configuration from the environment, honoring a .env file when
// one is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Addr:            getEnv("VERIGATE_ADDR", ":8080"),
			Env:             getEnv("VERIGATE_ENV", "development"),
			ShutdownTimeout: getEnvAsDuration("VERIGATE_SHUTDOWN_TIMEOUT", 10*time.Second),
			FloodBurst:      getEnvAsInt("VERIGATE_FLOOD_BURST", 50),
			FloodPerSecond:  getEnvAsInt("VERIGATE_FLOOD_PER_SECOND", 25),
		},
		DB: DBConfig{
			DSN:             getEnv("VERIGATE_PG_DSN", ""),
			MaxOpenConns:    getEnvAsInt("VERIGATE_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("VERIGATE_DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("VERIGATE_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("VERIGATE_JWT_SECRET", ""),
			Issuer:     getEnv("VERIGATE_JWT_ISSUER", "verigate"),
			AccessTTL:  getEnvAsDuration("VERIGATE_ACCESS_TTL", 15*time.Minute),
			RefreshTTL: getEnvAsDuration("VERIGATE_REFRESH_TTL", 14*24*time.Hour),
		},
		Limits: LimitsConfig{
			SweepInterval: getEnvAsDuration("VERIGATE_RATE_SWEEP_INTERVAL", 10*time.Minute),
			Retention:     getEnvAsDuration("VERIGATE_RATE_RETENTION", 24*time.Hour),
		},
		Session: SessionConfig{
			TTL:           getEnvAsDuration("VERIGATE_SESSION_TTL", 30*time.Minute),
			SweepInterval: getEnvAsDuration("VERIGATE_SESSION_SWEEP_INTERVAL", time.Minute),
			WebhookSecret: getEnv("VERIGATE_WEBHOOK_SECRET", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
