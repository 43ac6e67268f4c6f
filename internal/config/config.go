package config

import (
	"os"
	"strconv"
	"time"

	"otabridge/internal/cache"
	"otabridge/internal/database"
	"otabridge/internal/messaging"
)

// Config holds the full application configuration
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration

	PprofEnabled bool
	PprofPort    string

	Database      database.Config
	NATS          messaging.Config
	Redis         cache.Config
	Elasticsearch ElasticsearchConfig

	Bus        BusConfig
	Dispatch   DispatchConfig
	Inbound    InboundConfig
	Amendments AmendmentsConfig
	Retention  RetentionConfig
	Payloads   PayloadConfig
	Auth       AuthConfig
}

// BusConfig tunes the durable event bus
type BusConfig struct {
	Partitions      int
	MaxAttempts     int
	HighWaterMark   int
	PollInterval    time.Duration
	DefaultDeadline time.Duration
}

// DispatchConfig tunes the outbound dispatcher
type DispatchConfig struct {
	Workers          int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	CircuitThreshold int
	CircuitCooloff   time.Duration
	LockWait         time.Duration
	LockTTL          time.Duration
	RateLimitWait    time.Duration
}

// InboundConfig tunes the webhook pipeline
type InboundConfig struct {
	MaxBodyBytes   int64
	RequestsPerSec float64
	Burst          int
	DedupTTL       time.Duration
}

// AmendmentsConfig holds the auto-approval policy thresholds and TTL
type AmendmentsConfig struct {
	AutoApproveMaxDateDeltaDays int
	AutoApproveMaxRatePercent   float64
	TTL                         time.Duration
}

// RetentionConfig holds the sweep schedule and per-classification thresholds
type RetentionConfig struct {
	SweepInterval time.Duration

	RestrictedActiveDays   int
	RestrictedArchiveDays  int
	ConfidentialActiveDays int
	ConfidentialArchiveDay int
	InternalActiveDays     int
	InternalArchiveDays    int
	PublicActiveDays       int

	DeadLetterDays int
	SweepBatchSize int
}

// PayloadConfig tunes the payload store
type PayloadConfig struct {
	TruncateBytes int64
}

// AuthConfig gates the admin surface
type AuthConfig struct {
	JWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		PprofEnabled: getEnv("PPROF_ENABLED", "false") == "true",
		PprofPort:    getEnv("PPROF_PORT", "6060"),

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "otabridge"),
			Password:           getEnv("DB_PASSWORD", "otabridge123"),
			DBName:             getEnv("DB_NAME", "otabridge"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		NATS: messaging.Config{
			URL:       getEnv("NATS_URL", "nats://localhost:4222"),
			ClusterID: getEnv("NATS_CLUSTER_ID", "otabridge"),
			ClientID:  getEnv("NATS_CLIENT_ID", "otabridge-api"),
		},

		Redis: cache.Config{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		Elasticsearch: LoadElasticsearchConfig(),

		Bus: BusConfig{
			Partitions:      getEnvInt("BUS_PARTITIONS", 16),
			MaxAttempts:     getEnvInt("BUS_MAX_ATTEMPTS", 5),
			HighWaterMark:   getEnvInt("BUS_HIGH_WATER_MARK", 1000),
			PollInterval:    getEnvDuration("BUS_POLL_INTERVAL", 500*time.Millisecond),
			DefaultDeadline: getEnvDuration("BUS_DEFAULT_DEADLINE", 30*time.Second),
		},

		Dispatch: DispatchConfig{
			Workers:          getEnvInt("DISPATCH_WORKERS", 8),
			BackoffBase:      getEnvDuration("DISPATCH_BACKOFF_BASE", 2*time.Second),
			BackoffMax:       getEnvDuration("DISPATCH_BACKOFF_MAX", 5*time.Minute),
			CircuitThreshold: getEnvInt("DISPATCH_CIRCUIT_THRESHOLD", 5),
			CircuitCooloff:   getEnvDuration("DISPATCH_CIRCUIT_COOLOFF", 60*time.Second),
			LockWait:         getEnvDuration("DISPATCH_LOCK_WAIT", 5*time.Second),
			LockTTL:          getEnvDuration("DISPATCH_LOCK_TTL", 30*time.Second),
			RateLimitWait:    getEnvDuration("DISPATCH_RATE_LIMIT_WAIT", 10*time.Second),
		},

		Inbound: InboundConfig{
			MaxBodyBytes:   int64(getEnvInt("INBOUND_MAX_BODY_BYTES", 2<<20)),
			RequestsPerSec: getEnvFloat("INBOUND_REQUESTS_PER_SEC", 50),
			Burst:          getEnvInt("INBOUND_BURST", 100),
			DedupTTL:       getEnvDuration("INBOUND_DEDUP_TTL", 24*time.Hour),
		},

		Amendments: AmendmentsConfig{
			AutoApproveMaxDateDeltaDays: getEnvInt("AMENDMENT_AUTO_MAX_DATE_DELTA_DAYS", 7),
			AutoApproveMaxRatePercent:   getEnvFloat("AMENDMENT_AUTO_MAX_RATE_PERCENT", 10),
			TTL:                         getEnvDuration("AMENDMENT_TTL", 72*time.Hour),
		},

		Retention: RetentionConfig{
			SweepInterval:          getEnvDuration("RETENTION_SWEEP_INTERVAL", time.Hour),
			RestrictedActiveDays:   getEnvInt("RETENTION_RESTRICTED_ACTIVE_DAYS", 7*365),
			RestrictedArchiveDays:  getEnvInt("RETENTION_RESTRICTED_ARCHIVE_DAYS", 2*365),
			ConfidentialActiveDays: getEnvInt("RETENTION_CONFIDENTIAL_ACTIVE_DAYS", 3*365),
			ConfidentialArchiveDay: getEnvInt("RETENTION_CONFIDENTIAL_ARCHIVE_DAYS", 365),
			InternalActiveDays:     getEnvInt("RETENTION_INTERNAL_ACTIVE_DAYS", 365),
			InternalArchiveDays:    getEnvInt("RETENTION_INTERNAL_ARCHIVE_DAYS", 90),
			PublicActiveDays:       getEnvInt("RETENTION_PUBLIC_ACTIVE_DAYS", 90),
			DeadLetterDays:         getEnvInt("RETENTION_DEAD_LETTER_DAYS", 30),
			SweepBatchSize:         getEnvInt("RETENTION_SWEEP_BATCH_SIZE", 500),
		},

		Payloads: PayloadConfig{
			TruncateBytes: int64(getEnvInt("PAYLOAD_TRUNCATE_BYTES", 1<<20)),
		},

		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
		},
	}
}

// getEnv returns the environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable ("30s", "5m", ...)
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
