package config

import "time"

// APIConfig holds runtime configuration for the analytics API service.
type APIConfig struct {
	Environment       string
	Addr              string
	LogLevel          string
	DatabaseURL       string
	MigrationsDir     string
	IndexDriver       string
	IndexPath         string
	IndexWriteTimeout time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	TenantCacheTTL    time.Duration
	StreamHeartbeat   time.Duration
	StreamBuffer      int
	IngestMaxBatch    int
	RateLimitIngest   int
	RateLimitQuery    int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:       GetString("APP_ENV", "development"),
		Addr:              GetString("API_ADDR", ":4000"),
		LogLevel:          GetString("LOG_LEVEL", "info"),
		DatabaseURL:       GetString("DATABASE_URL", "postgres://analytics:analytics@db:5432/analytics?sslmode=disable"),
		MigrationsDir:     GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		IndexDriver:       GetString("INDEX_DRIVER", "sqlite"),
		IndexPath:         GetString("INDEX_PATH", "./data/index.db"),
		IndexWriteTimeout: GetSeconds("INDEX_WRITE_TIMEOUT_SECONDS", 5),
		RedisAddr:         GetString("REDIS_ADDR", ""),
		RedisPassword:     GetString("REDIS_PASSWORD", ""),
		RedisDB:           GetInt("REDIS_DB", 0),
		TenantCacheTTL:    GetSeconds("TENANT_CACHE_TTL_SECONDS", 60),
		StreamHeartbeat:   GetSeconds("STREAM_HEARTBEAT_SECONDS", 30),
		StreamBuffer:      GetInt("STREAM_BUFFER", 64),
		IngestMaxBatch:    GetInt("INGEST_MAX_BATCH", 1000),
		RateLimitIngest:   GetInt("RATE_LIMIT_INGEST", 600),
		RateLimitQuery:    GetInt("RATE_LIMIT_QUERY", 120),
	}
}
