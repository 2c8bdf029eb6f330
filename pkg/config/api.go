package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment           string
	Addr                  string
	StoreDriver           string
	DatabaseURL           string
	SQLitePath            string
	JWTSecret             string
	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
	LogLevel              string
	RateLimitRedisAddr    string
	RateLimitRedisPass    string
	RateLimitRedisDB      int
	IngestRateLimitPerMin int
	IngestMaxBodyBytes    int64
	TokenCacheTTL         time.Duration
	PresenceStaleAfter    time.Duration
	PresenceSweepInterval time.Duration
	OTLPEndpoint          string
	MetricsEnabled        bool
	ShutdownTimeout       time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:           GetString("APP_ENV", "development"),
		Addr:                  GetString("API_ADDR", ":4000"),
		StoreDriver:           GetString("STORE_DRIVER", "postgres"),
		DatabaseURL:           GetString("DATABASE_URL", "postgres://lingo:lingo@db:5432/lingo?sslmode=disable"),
		SQLitePath:            GetString("SQLITE_PATH", "lingo.db"),
		JWTSecret:             GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:        time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL:       time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		LogLevel:              GetString("LOG_LEVEL", "info"),
		RateLimitRedisAddr:    GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:    GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:      GetInt("RATE_LIMIT_REDIS_DB", 0),
		IngestRateLimitPerMin: GetInt("INGEST_RATE_LIMIT_PER_MIN", 600),
		IngestMaxBodyBytes:    int64(GetInt("INGEST_MAX_BODY_BYTES", 256<<10)),
		TokenCacheTTL:         time.Duration(GetInt("TOKEN_CACHE_TTL_SECONDS", 30)) * time.Second,
		PresenceStaleAfter:    time.Duration(GetInt("PRESENCE_STALE_AFTER_SECONDS", 30)) * time.Second,
		PresenceSweepInterval: time.Duration(GetInt("PRESENCE_SWEEP_SECONDS", 60)) * time.Second,
		OTLPEndpoint:          GetString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricsEnabled:        GetBool("METRICS_ENABLED", true),
		ShutdownTimeout:       time.Duration(GetInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}
