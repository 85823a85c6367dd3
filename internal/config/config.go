package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 環境名
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// 参加者カウンタの更新ポリシー
const (
	CounterModeConditional = "conditional"
	CounterModeRaw         = "raw"
)

// セッショントークンの形式
const (
	TokenFormatPaseto = "paseto"
	TokenFormatJWT    = "jwt"
)

// minSessionSecretLength はSESSION_SECRETに要求する最小バイト長。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv   string
	Location *time.Location

	// Database
	DatabaseURL string

	// Session
	SessionSecret         string
	SessionSecretPrevious string
	SessionMaxAge         int
	TokenFormat           string
	BcryptCost            int

	// Membership
	CounterMode   string
	AllowHostJoin bool

	// Worker
	ReconcileInterval time.Duration
	CleanupInterval   time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure   bool
	CookieSameSite string
	CookieDomain   string

	// CORS
	CORSAllowedOrigin string

	// 外部サービス（空の場合は無効）
	RedisURL     string
	NATSURL      string
	OTLPEndpoint string

	// S3（アバター画像アップロード）
	S3Bucket       string
	S3Endpoint     string
	S3Region       string
	S3UsePathStyle bool
	S3AccessKey    string
	S3SecretKey    string
}

// IsProduction は本番環境で動作しているかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes, got %d", minSessionSecretLength, len(cfg.SessionSecret))
	}

	cfg.SessionSecretPrevious = getEnvString("SESSION_SECRET_PREVIOUS", "")
	if cfg.SessionSecretPrevious != "" && len(cfg.SessionSecretPrevious) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET_PREVIOUS must be at least %d bytes", minSessionSecretLength)
	}

	cfg.AppEnv = getEnvString("APP_ENV", EnvDevelopment)
	if cfg.AppEnv != EnvDevelopment && cfg.AppEnv != EnvProduction {
		return nil, fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, cfg.AppEnv)
	}

	cfg.TokenFormat = getEnvString("TOKEN_FORMAT", TokenFormatPaseto)
	if cfg.TokenFormat != TokenFormatPaseto && cfg.TokenFormat != TokenFormatJWT {
		return nil, fmt.Errorf("TOKEN_FORMAT must be %q or %q, got %q", TokenFormatPaseto, TokenFormatJWT, cfg.TokenFormat)
	}

	cfg.CounterMode = getEnvString("MEMBERSHIP_COUNTER_MODE", CounterModeConditional)
	if cfg.CounterMode != CounterModeConditional && cfg.CounterMode != CounterModeRaw {
		return nil, fmt.Errorf("MEMBERSHIP_COUNTER_MODE must be %q or %q, got %q", CounterModeConditional, CounterModeRaw, cfg.CounterMode)
	}

	loc, err := time.LoadLocation(getEnvString("APP_TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 365*24*60*60)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.AllowHostJoin = getEnvBool("ALLOW_HOST_JOIN", true)
	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "9000")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.NATSURL = getEnvString("NATS_URL", "")
	cfg.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.S3Bucket = getEnvString("S3_BUCKET_NAME", "")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3Region = getEnvString("S3_REGION", "us-east-1")
	cfg.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", false)
	cfg.S3AccessKey = getEnvString("AWS_ACCESS_KEY_ID", "")
	cfg.S3SecretKey = getEnvString("AWS_SECRET_ACCESS_KEY", "")

	// 本番はSecure + SameSite=Strict。クロスサイトのクライアントはBearerトークンを使う。
	if cfg.IsProduction() {
		cfg.CookieSecure = true
		cfg.CookieSameSite = "strict"
	} else {
		cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
		cfg.CookieSameSite = "lax"
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
