package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth (Google Calendar)
	GoogleClientID     string
	GoogleClientSecret string

	// Token Vault
	TokenEncKey        []byte // AES-256鍵（TOKEN_ENC_KEYのhexデコード結果）
	TokenRefreshMargin time.Duration

	// Sync
	SyncInterval           time.Duration
	SyncMaxConcurrent      int
	SyncRunTimeout         time.Duration
	SyncMaxAttempts        int
	SyncFullResyncInterval time.Duration
	SyncWindow             time.Duration
	ProviderTimeout        time.Duration

	// CalDAV
	CalDAVEndpoint string // 空の場合はCalDAVプロバイダーを登録しない

	// Availability
	SlotGranularityMinutes int
	SlotBufferMinutes      int

	// Cleanup
	EventRetentionDays int

	// Rate Limit
	RateLimitGeneral int
	RateLimitSync    int

	// Server
	ServerPort string
	APIKey     string

	// CORS
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

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	encKeyHex := os.Getenv("TOKEN_ENC_KEY")
	if encKeyHex == "" {
		missing = append(missing, "TOKEN_ENC_KEY")
	}

	cfg.APIKey = os.Getenv("API_KEY")
	if cfg.APIKey == "" {
		missing = append(missing, "API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// トークン暗号鍵はhexエンコードされた32バイトであること
	key, err := hex.DecodeString(encKeyHex)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_ENC_KEY must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOKEN_ENC_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.TokenEncKey = key

	// Optional fields with defaults
	cfg.TokenRefreshMargin = getEnvDuration("TOKEN_REFRESH_MARGIN", 5*time.Minute)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 5*time.Minute)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 5)
	cfg.SyncRunTimeout = getEnvDuration("SYNC_RUN_TIMEOUT", 2*time.Minute)
	cfg.SyncMaxAttempts = getEnvInt("SYNC_MAX_ATTEMPTS", 3)
	cfg.SyncFullResyncInterval = getEnvDuration("SYNC_FULL_RESYNC_INTERVAL", 24*time.Hour)
	cfg.SyncWindow = getEnvDuration("SYNC_WINDOW", 60*24*time.Hour)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second)
	cfg.CalDAVEndpoint = getEnvString("CALDAV_ENDPOINT", "")
	cfg.SlotGranularityMinutes = getEnvInt("SLOT_GRANULARITY_MINUTES", 30)
	cfg.SlotBufferMinutes = getEnvInt("SLOT_BUFFER_MINUTES", 0)
	cfg.EventRetentionDays = getEnvInt("EVENT_RETENTION_DAYS", 90)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
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
