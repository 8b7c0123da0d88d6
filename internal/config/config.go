package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fitcoach/internal/domain/artifact"
	"fitcoach/internal/pkg/storage"
)

const (
	defaultHTTPAddr      = ":8080"
	defaultDatabaseURL   = "file:fitcoach.db?_pragma=foreign_keys(1)"
	defaultJWTSecret     = "change-me-jwt-secret"
	defaultStoragePath   = "./uploads"
	defaultImageQuality  = "85"
	defaultSweepInterval = "1h"
	defaultSweepRetain   = "24h"
	defaultSweepEnabled  = "true"
	defaultPongWait      = "60s"
	defaultWriteWait     = "10s"
	defaultSendBuffer    = "64"
	defaultShutdownWait  = "15s"
)

type Config struct {
	AppEnv          string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	DatabaseURL string
	DBDebug     bool

	JWTSecret          string
	InternalToken      string
	InternalAllowedIPs []string

	Storage      storage.Config
	ImageQuality int
	Policy       artifact.Policy

	SweepInterval  time.Duration
	SweepRetention time.Duration
	SweepEnabled   bool

	WSPongWait   time.Duration
	WSWriteWait  time.Duration
	WSSendBuffer int

	CORSAllowedOrigins []string
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = strings.TrimSpace(os.Getenv("ENV"))
	}
	if appEnv == "" {
		appEnv = "dev"
	}
	cfg.AppEnv = strings.ToLower(appEnv)

	cfg.HTTPAddr = strings.TrimSpace(getEnv("HTTP_ADDR", defaultHTTPAddr))
	cfg.DatabaseURL = strings.TrimSpace(getEnv("DATABASE_URL", defaultDatabaseURL))
	cfg.DBDebug = parseBoolEnv("DB_DEBUG", "false")
	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", defaultJWTSecret))
	cfg.InternalToken = strings.TrimSpace(os.Getenv("INTERNAL_TOKEN"))
	cfg.InternalAllowedIPs = parseListEnv("INTERNAL_ALLOWED_IPS")
	cfg.CORSAllowedOrigins = parseListEnv("CORS_ALLOWED_ORIGINS")

	cfg.Storage = storage.Config{
		Type:      strings.ToLower(strings.TrimSpace(getEnv("STORAGE_TYPE", "local"))),
		BasePath:  strings.TrimSpace(getEnv("STORAGE_PATH", defaultStoragePath)),
		Bucket:    strings.TrimSpace(os.Getenv("S3_BUCKET")),
		Region:    strings.TrimSpace(getEnv("S3_REGION", "us-east-1")),
		AccessKey: strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("S3_SECRET_KEY")),
		Endpoint:  strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
	}

	var err error
	if cfg.ShutdownTimeout, err = parseDurationEnv("SHUTDOWN_TIMEOUT", defaultShutdownWait); err != nil {
		return nil, err
	}
	if cfg.ImageQuality, err = parseIntEnv("IMAGE_QUALITY", defaultImageQuality); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = parseDurationEnv("SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return nil, err
	}
	if cfg.SweepRetention, err = parseDurationEnv("SWEEP_RETENTION", defaultSweepRetain); err != nil {
		return nil, err
	}
	cfg.SweepEnabled = parseBoolEnv("SWEEP_ENABLED", defaultSweepEnabled)
	if cfg.WSPongWait, err = parseDurationEnv("WS_PONG_WAIT", defaultPongWait); err != nil {
		return nil, err
	}
	if cfg.WSWriteWait, err = parseDurationEnv("WS_WRITE_WAIT", defaultWriteWait); err != nil {
		return nil, err
	}
	if cfg.WSSendBuffer, err = parseIntEnv("WS_SEND_BUFFER", defaultSendBuffer); err != nil {
		return nil, err
	}

	cfg.Policy = artifact.DefaultPolicy()
	if path := strings.TrimSpace(os.Getenv("UPLOAD_POLICY_FILE")); path != "" {
		if cfg.Policy, err = artifact.LoadPolicyFile(path); err != nil {
			return nil, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return isProdLike(c.AppEnv)
}

func validateConfig(cfg *Config) error {
	if cfg.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if cfg.ImageQuality < 1 || cfg.ImageQuality > 100 {
		return fmt.Errorf("IMAGE_QUALITY must be between 1 and 100")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if cfg.SweepRetention <= 0 {
		return fmt.Errorf("SWEEP_RETENTION must be > 0")
	}
	if cfg.WSPongWait <= 0 || cfg.WSWriteWait <= 0 {
		return fmt.Errorf("WS_PONG_WAIT and WS_WRITE_WAIT must be > 0")
	}
	if cfg.WSSendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be > 0")
	}

	switch cfg.Storage.Type {
	case "local":
		if cfg.Storage.BasePath == "" {
			return fmt.Errorf("STORAGE_PATH must not be empty")
		}
	case "s3":
		if cfg.Storage.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_TYPE=s3")
		}
	default:
		return fmt.Errorf("STORAGE_TYPE must be one of: local, s3")
	}

	if isProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if cfg.InternalToken == "" {
			return fmt.Errorf("in prod/release INTERNAL_TOKEN must be set")
		}
		if !strings.HasPrefix(cfg.DatabaseURL, "postgres") {
			return fmt.Errorf("in prod/release DATABASE_URL must point to PostgreSQL")
		}
	}

	return nil
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseIntEnv(name, fallback string) (int, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func parseBoolEnv(name, fallback string) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(name, fallback)))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}

func parseListEnv(name string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(name), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
