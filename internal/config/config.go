// Package config は環境変数からアプリケーション設定を読み込む。
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
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Backend (Supabase互換)
	BackendURL       string
	BackendAnonKey   string
	BackendTimeout   time.Duration
	BackendJWTSecret string

	// OAuth
	OAuthProvider    string
	OAuthRedirectURL string

	// Session
	SessionMaxAge          int
	SessionIdleTimeout     time.Duration
	SessionMaxRuntimes     int
	SessionCleanupInterval time.Duration

	// Profile
	ReservedIdentitiesFile string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitAuth    int

	// Avatar
	AvatarFetchTimeout time.Duration
	AvatarMaxSize      int64

	// Document storage
	DocumentS3Bucket    string
	DocumentS3Region    string
	DocumentS3Endpoint  string
	DocumentS3AccessKey string
	DocumentS3SecretKey string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BackendURL = strings.TrimRight(os.Getenv("BACKEND_URL"), "/")
	if cfg.BackendURL == "" {
		missing = append(missing, "BACKEND_URL")
	}

	cfg.BackendAnonKey = os.Getenv("BACKEND_ANON_KEY")
	if cfg.BackendAnonKey == "" {
		missing = append(missing, "BACKEND_ANON_KEY")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", 10*time.Second)
	cfg.BackendJWTSecret = getEnvString("BACKEND_JWT_SECRET", "")
	cfg.OAuthProvider = getEnvString("OAUTH_PROVIDER", "google")
	cfg.OAuthRedirectURL = getEnvString("OAUTH_REDIRECT_URL", cfg.BaseURL+"/auth/callback")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute)
	cfg.SessionMaxRuntimes = getEnvInt("SESSION_MAX_RUNTIMES", 10000)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.ReservedIdentitiesFile = getEnvString("RESERVED_IDENTITIES_FILE", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.AvatarFetchTimeout = getEnvDuration("AVATAR_FETCH_TIMEOUT", 5*time.Second)
	cfg.AvatarMaxSize = getEnvInt64("AVATAR_MAX_SIZE", 1048576)
	cfg.DocumentS3Bucket = getEnvString("DOCUMENT_S3_BUCKET", "")
	cfg.DocumentS3Region = getEnvString("DOCUMENT_S3_REGION", "eu-central-1")
	cfg.DocumentS3Endpoint = getEnvString("DOCUMENT_S3_ENDPOINT", "")
	cfg.DocumentS3AccessKey = getEnvString("DOCUMENT_S3_ACCESS_KEY", "")
	cfg.DocumentS3SecretKey = getEnvString("DOCUMENT_S3_SECRET_KEY", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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
