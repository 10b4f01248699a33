package config

import "time"

// APIConfig holds runtime configuration for the sync API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	TokenEncryptionKey string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	DefaultOrgURL      string
	DefaultOrgToken    string
	APIVersion         string
	RemoteTimeout      time.Duration
	FeatureSettleDelay time.Duration
	ProgressBuffer     int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://sync:sync@db:5432/projectsync?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		TokenEncryptionKey: GetString("TOKEN_ENCRYPTION_KEY", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL:    time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		DefaultOrgURL:      GetString("ADO_ORG_URL", ""),
		DefaultOrgToken:    GetString("ADO_ORG_TOKEN", ""),
		APIVersion:         GetString("ADO_API_VERSION", "7.0"),
		RemoteTimeout:      time.Duration(GetInt("ADO_TIMEOUT_SECONDS", 30)) * time.Second,
		FeatureSettleDelay: time.Duration(GetInt("FEATURE_SETTLE_MS", 2000)) * time.Millisecond,
		ProgressBuffer:     GetInt("WS_PROGRESS_BUFFER", 100),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
