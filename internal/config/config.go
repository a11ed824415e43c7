package config

import (
	"strings"
	"time"

	"github.com/censo/censo/backend/go-services/internal/storage"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Sync      SyncConfig
	RateLimit RateLimitConfig
	MinIO     storage.MinIOConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port        string
	Host        string
	Environment string
	// AllowedOrigins lists browser origins allowed to call the API and open
	// watch streams, e.g. "https://ward.example.org". "*" allows any origin;
	// empty allows same-origin requests only.
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type MongoDBConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type RedisConfig struct {
	Host          string
	Port          string
	Password      string
	DB            int
	ChannelPrefix string
}

// Addr is host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

// CacheConfig selects the device-local cache: memory, sqlite or redis.
type CacheConfig struct {
	Driver string
	Path   string
	Prefix string
	TTL    time.Duration
}

type SyncConfig struct {
	DeviceID             string
	SavedResetDelay      time.Duration
	SavingLockRelease    time.Duration
	EchoGuardWindow      time.Duration
	ConflictRefreshDelay time.Duration
	ReconcileInterval    time.Duration
	WriteTimeout         time.Duration
	IOTimeout            time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// LoadConfig loads configuration from environment variables and an optional
// .env file. Nothing is required: without MongoDB or Redis the service runs
// on in-memory collaborators.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5010")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("MONGODB_DATABASE", "censo")
	v.SetDefault("MONGODB_COLLECTION", "records")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CHANNEL_PREFIX", "censo:record:")
	v.SetDefault("CACHE_DRIVER", "memory")
	v.SetDefault("CACHE_PATH", "censo-cache.db")
	v.SetDefault("CACHE_PREFIX", "censo:cache:")
	v.SetDefault("CACHE_TTL", 0)
	v.SetDefault("SYNC_SAVED_RESET_DELAY", 2*time.Second)
	v.SetDefault("SYNC_SAVING_LOCK_RELEASE", time.Second)
	v.SetDefault("SYNC_ECHO_GUARD_WINDOW", 500*time.Millisecond)
	v.SetDefault("SYNC_CONFLICT_REFRESH_DELAY", 2*time.Second)
	v.SetDefault("SYNC_RECONCILE_INTERVAL", 0)
	v.SetDefault("SYNC_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("SYNC_IO_TIMEOUT", 10*time.Second)
	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("MINIO_BUCKET", "censo-archive")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 50)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 30)

	deviceID := v.GetString("DEVICE_ID")
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Host:           v.GetString("SERVER_HOST"),
			Environment:    v.GetString("SERVER_ENVIRONMENT"),
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:        v.GetString("MONGODB_URI"),
			Database:   v.GetString("MONGODB_DATABASE"),
			Collection: v.GetString("MONGODB_COLLECTION"),
			Timeout:    time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:          v.GetString("REDIS_HOST"),
			Port:          v.GetString("REDIS_PORT"),
			Password:      v.GetString("REDIS_PASSWORD"),
			DB:            v.GetInt("REDIS_DB"),
			ChannelPrefix: v.GetString("REDIS_CHANNEL_PREFIX"),
		},
		Cache: CacheConfig{
			Driver: strings.ToLower(v.GetString("CACHE_DRIVER")),
			Path:   v.GetString("CACHE_PATH"),
			Prefix: v.GetString("CACHE_PREFIX"),
			TTL:    v.GetDuration("CACHE_TTL"),
		},
		Sync: SyncConfig{
			DeviceID:             deviceID,
			SavedResetDelay:      v.GetDuration("SYNC_SAVED_RESET_DELAY"),
			SavingLockRelease:    v.GetDuration("SYNC_SAVING_LOCK_RELEASE"),
			EchoGuardWindow:      v.GetDuration("SYNC_ECHO_GUARD_WINDOW"),
			ConflictRefreshDelay: v.GetDuration("SYNC_CONFLICT_REFRESH_DELAY"),
			ReconcileInterval:    v.GetDuration("SYNC_RECONCILE_INTERVAL"),
			WriteTimeout:         v.GetDuration("SYNC_WRITE_TIMEOUT"),
			IOTimeout:            v.GetDuration("SYNC_IO_TIMEOUT"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		MinIO: storage.MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		Log: LogConfig{
			Level:      v.GetString("LOG_LEVEL"),
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
		},
	}
	return cfg, nil
}

// splitList parses a comma separated env value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
