package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	DB       DatabaseConfig
	Realtime RealtimeConfig
	Auth     AuthConfig
	Geo      GeoConfig
	Sessions SessionConfig
	App      AppConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS float64
}

type DatabaseConfig struct {
	Driver   string // sqlite or postgres
	Path     string
	DSN      string
	MaxConns int
}

type RealtimeConfig struct {
	NATSURL    string // empty keeps change events in-process
	Subject    string
	BufferSize int
}

type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

type GeoConfig struct {
	Timeout      time.Duration
	MaxAge       time.Duration
	HighAccuracy bool
	DefaultLat   float64
	DefaultLng   float64
	GeoIPPath    string
}

type SessionConfig struct {
	Max              int
	WorkerBufferSize int
}

type AppConfig struct {
	EmergencyNumber string
}

type LoggingConfig struct {
	Level string
	File  string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS: getEnvFloat("RATE_LIMIT_RPS", 10),
		},
		DB: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Path:     getEnv("DB_PATH", "./data/emergency-alerts.db"),
			DSN:      getEnv("DB_DSN", ""),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Realtime: RealtimeConfig{
			NATSURL:    getEnv("NATS_URL", ""),
			Subject:    getEnv("NATS_SUBJECT", "emergency.changes"),
			BufferSize: getEnvInt("REALTIME_BUFFER", 100),
		},
		Auth: AuthConfig{
			Secret:   getEnv("AUTH_SECRET", ""),
			Issuer:   getEnv("AUTH_ISSUER", "emergency-alerts"),
			TokenTTL: getEnvDuration("AUTH_TOKEN_TTL", 24*time.Hour),
		},
		Geo: GeoConfig{
			Timeout:      getEnvDuration("GEO_TIMEOUT", 10*time.Second),
			MaxAge:       getEnvDuration("GEO_MAX_AGE", 5*time.Minute),
			HighAccuracy: getEnvBool("GEO_HIGH_ACCURACY", true),
			DefaultLat:   getEnvFloat("GEO_DEFAULT_LAT", 40.7128),
			DefaultLng:   getEnvFloat("GEO_DEFAULT_LNG", -74.0060),
			GeoIPPath:    getEnv("GEOIP_DB_PATH", ""),
		},
		Sessions: SessionConfig{
			Max:              getEnvInt("SESSION_MAX", 1024),
			WorkerBufferSize: getEnvInt("WORKER_BUFFER_SIZE", 32),
		},
		App: AppConfig{
			EmergencyNumber: getEnv("EMERGENCY_NUMBER", "911"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("DB_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", c.DB.Driver)
	}

	if len(c.Auth.Secret) < 16 {
		return fmt.Errorf("AUTH_SECRET must be at least 16 characters")
	}
	if c.Auth.TokenTTL < time.Minute {
		return fmt.Errorf("token TTL must be at least 1 minute")
	}

	if c.Geo.Timeout <= 0 {
		return fmt.Errorf("geolocation timeout must be positive")
	}
	if c.Geo.DefaultLat < -90 || c.Geo.DefaultLat > 90 || c.Geo.DefaultLng < -180 || c.Geo.DefaultLng > 180 {
		return fmt.Errorf("default location out of range: %f,%f", c.Geo.DefaultLat, c.Geo.DefaultLng)
	}

	if c.Sessions.Max < 1 {
		return fmt.Errorf("SESSION_MAX must be at least 1")
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
