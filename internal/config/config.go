package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Supabase（外部の認証・ストレージ基盤）
	SupabaseURL            string
	SupabaseAnonKey        string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string
	SupabaseTimeout        time.Duration

	// Storage
	VideoBucket    string
	UploadMaxBytes int64

	// Session
	SessionSecret       string
	SessionMaxAge       int
	SignupRedirectDelay time.Duration

	// Bypass marker
	RedisURL  string
	BypassTTL time.Duration

	// Evaluator
	EvaluatorURL           string
	EvaluatorTimeout       time.Duration
	EvaluatorWebhookSecret string
	EvaluationPollInterval time.Duration
	EvaluationMaxPerCycle  int

	// Admin API
	AdminAPIToken string

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// Supabase関連の設定は任意で、未設定の場合は認証フローが無効化される。
func Load() (*Config, error) {
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

	// Optional fields with defaults
	cfg.SupabaseURL = strings.TrimRight(getEnvString("SUPABASE_URL", ""), "/")
	cfg.SupabaseAnonKey = getEnvString("SUPABASE_ANON_KEY", "")
	cfg.SupabaseServiceRoleKey = getEnvString("SUPABASE_SERVICE_ROLE_KEY", "")
	cfg.SupabaseJWTSecret = getEnvString("SUPABASE_JWT_SECRET", "")
	cfg.SupabaseTimeout = getEnvDuration("SUPABASE_TIMEOUT", 10*time.Second)
	cfg.VideoBucket = getEnvString("VIDEO_BUCKET", "videos")
	cfg.UploadMaxBytes = getEnvInt64("UPLOAD_MAX_BYTES", 524288000)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.SignupRedirectDelay = getEnvDuration("SIGNUP_REDIRECT_DELAY", 2*time.Second)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.BypassTTL = getEnvDuration("BYPASS_TTL", 5*time.Second)
	cfg.EvaluatorURL = strings.TrimRight(getEnvString("EVALUATOR_URL", ""), "/")
	cfg.EvaluatorTimeout = getEnvDuration("EVALUATOR_TIMEOUT", 15*time.Second)
	cfg.EvaluatorWebhookSecret = getEnvString("EVALUATOR_WEBHOOK_SECRET", "")
	cfg.EvaluationPollInterval = getEnvDuration("EVALUATION_POLL_INTERVAL", time.Minute)
	cfg.EvaluationMaxPerCycle = getEnvInt("EVALUATION_MAX_PER_CYCLE", 50)
	cfg.AdminAPIToken = getEnvString("ADMIN_API_TOKEN", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	// BypassTTLは5秒を上限とする
	if cfg.BypassTTL <= 0 || cfg.BypassTTL > 5*time.Second {
		cfg.BypassTTL = 5 * time.Second
	}

	return cfg, nil
}

// AuthConfigured は認証基盤への接続設定（URLとanonキー）が揃っているかを返す。
// falseの場合、ログインフォームは無効化される。
func (c *Config) AuthConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// AdminConfigured は特権操作（メール確認の自動化）に必要なservice roleキーが設定されているかを返す。
func (c *Config) AdminConfigured() bool {
	return c.AuthConfigured() && c.SupabaseServiceRoleKey != ""
}

// EvaluatorConfigured は評価サービスのURLが設定されているかを返す。
func (c *Config) EvaluatorConfigured() bool {
	return c.EvaluatorURL != ""
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
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
