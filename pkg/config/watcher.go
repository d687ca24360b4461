package config

import (
	"fmt"
	"time"
)

// DefaultPort is the listening port used when the platform does not supply PORT.
const DefaultPort = 5000

// DefaultAppTarget names the application object served by cmd/watcher.
const DefaultAppTarget = "watcher:app"

// WatcherConfig holds runtime configuration for the watcher server process.
type WatcherConfig struct {
	Environment        string
	LogLevel           string
	Port               int
	AppTarget          string
	ShutdownTimeout    time.Duration
	DatabaseURL        string
	AuthStatePath      string
	DebugDir           string
	BrowserBin         string
	BrowserControlURL  string
	BrowserHeadless    bool
	ScrapeLimit        int
	ScrapeCooldown     time.Duration
	SweepInterval      time.Duration
	StaggerInterval    time.Duration
	ScrapeQueueSize    int
	RefreshRateLimit   int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	NotifyWebhookURL   string
	NotifyWebhookToken string
	NotifyTimeout      time.Duration
}

// LoadWatcherConfig constructs a WatcherConfig from environment variables.
// PORT is read here and nowhere else.
func LoadWatcherConfig() (WatcherConfig, error) {
	port, err := GetPort("PORT", DefaultPort)
	if err != nil {
		return WatcherConfig{}, fmt.Errorf("load PORT: %w", err)
	}
	return WatcherConfig{
		Environment:        GetString("APP_ENV", "development"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		Port:               port,
		AppTarget:          GetString("APP_TARGET", DefaultAppTarget),
		ShutdownTimeout:    GetSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
		DatabaseURL:        GetString("DATABASE_URL", "sqlite://./tweets.db"),
		AuthStatePath:      GetString("AUTH_STATE_PATH", "auth.json"),
		DebugDir:           GetString("SCRAPE_DEBUG_DIR", "."),
		BrowserBin:         GetString("BROWSER_BIN", ""),
		BrowserControlURL:  GetString("BROWSER_CONTROL_URL", ""),
		BrowserHeadless:    GetBool("BROWSER_HEADLESS", true),
		ScrapeLimit:        GetInt("SCRAPE_LIMIT", 20),
		ScrapeCooldown:     GetSeconds("SCRAPE_COOLDOWN_SECONDS", 60),
		SweepInterval:      GetSeconds("SCRAPE_SWEEP_SECONDS", 300),
		StaggerInterval:    GetSeconds("SCRAPE_STAGGER_SECONDS", 60),
		ScrapeQueueSize:    GetInt("SCRAPE_QUEUE_SIZE", 128),
		RefreshRateLimit:   GetInt("REFRESH_RATE_LIMIT", 30),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		NotifyWebhookURL:   GetString("NOTIFY_WEBHOOK_URL", ""),
		NotifyWebhookToken: GetString("NOTIFY_WEBHOOK_TOKEN", ""),
		NotifyTimeout:      GetSeconds("NOTIFY_TIMEOUT_SECONDS", 5),
	}, nil
}
