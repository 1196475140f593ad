package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends understood by STORAGE_BACKEND.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageRedis    = "redis"
	StorageS3       = "s3"
)

// Identity modes understood by AUTH_MODE.
const (
	AuthModeHTTP = "http"
	AuthModeJWT  = "jwt"
)

type Config struct {
	ServerHost string
	ServerPort string

	// Collaboration
	DebounceInterval time.Duration
	IdleTimeout      time.Duration
	SnapshotField    string

	// Authorization gate
	AuthMode          string
	AuthServiceURL    string
	AuthInternalToken string
	AuthTimeout       time.Duration
	JWTSecret         string

	// Snapshot storage
	StorageBackend string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	S3Bucket       string
	S3Prefix       string

	// Persistence policy
	SaveTimeout       time.Duration
	SaveAttempts      int
	SaveBackoff       time.Duration
	LoadTimeout       time.Duration
	SnapshotRetention int
	RetentionSchedule string

	// Observability
	LogLevel       string
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort: getEnv("PORT", getEnv("SERVER_PORT", "1234")),

		DebounceInterval: getEnvDuration("DEBOUNCE_INTERVAL", 5*time.Second),
		IdleTimeout:      getEnvDuration("IDLE_TIMEOUT", 0),
		SnapshotField:    getEnv("SNAPSHOT_FIELD", "xml"),

		AuthMode:          strings.ToLower(getEnv("AUTH_MODE", AuthModeHTTP)),
		AuthServiceURL:    getEnv("AUTH_SERVICE_URL", "http://localhost:8080"),
		AuthInternalToken: getEnv("AUTH_INTERNAL_TOKEN", ""),
		AuthTimeout:       getEnvDuration("AUTH_TIMEOUT", 5*time.Second),
		JWTSecret:         getEnv("JWT_SECRET", ""),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageMemory)),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "collab_hub"),
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
		SQLitePath:     getEnv("SQLITE_PATH", "collab-hub.db"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Prefix:       getEnv("S3_PREFIX", "rooms"),

		SaveTimeout:       getEnvDuration("SAVE_TIMEOUT", 10*time.Second),
		SaveAttempts:      getEnvInt("SAVE_ATTEMPTS", 3),
		SaveBackoff:       getEnvDuration("SAVE_BACKOFF", 250*time.Millisecond),
		LoadTimeout:       getEnvDuration("LOAD_TIMEOUT", 10*time.Second),
		SnapshotRetention: getEnvInt("SNAPSHOT_RETENTION", 20),
		RetentionSchedule: getEnv("RETENTION_SCHEDULE", "@every 1h"),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.ServerPort == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.DebounceInterval <= 0 {
		return fmt.Errorf("DEBOUNCE_INTERVAL must be positive, got %s", c.DebounceInterval)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("IDLE_TIMEOUT must not be negative")
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT must be positive")
	}
	if c.SaveAttempts < 1 {
		return fmt.Errorf("SAVE_ATTEMPTS must be at least 1, got %d", c.SaveAttempts)
	}
	if c.SaveTimeout <= 0 || c.LoadTimeout <= 0 {
		return fmt.Errorf("SAVE_TIMEOUT and LOAD_TIMEOUT must be positive")
	}
	if c.SnapshotField == "" {
		return fmt.Errorf("SNAPSHOT_FIELD is required")
	}

	switch c.AuthMode {
	case AuthModeHTTP:
		if c.AuthServiceURL == "" {
			return fmt.Errorf("AUTH_SERVICE_URL is required when AUTH_MODE=http")
		}
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=jwt")
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.AuthMode)
	}

	switch c.StorageBackend {
	case StorageMemory, StoragePostgres, StorageSQLite, StorageRedis:
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}

	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("5s") or bare milliseconds ("5000").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
