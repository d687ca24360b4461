// Package app assembles the tweet watcher: storage, scraper, scheduler,
// live stream and HTTP routes, exposed as the launchable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	httpx "github.com/splax/tweetwatch/internal/http"
	"github.com/splax/tweetwatch/internal/launch"
	"github.com/splax/tweetwatch/internal/notify"
	"github.com/splax/tweetwatch/internal/scraper"
	"github.com/splax/tweetwatch/internal/service/schedule"
	"github.com/splax/tweetwatch/internal/service/watch"
	"github.com/splax/tweetwatch/internal/ws"
	"github.com/splax/tweetwatch/pkg/config"
)

// App is the watcher application: an HTTP handler with a background scheduler.
type App struct {
	db        *Database
	router    *httpx.Router
	hub       *ws.Hub
	scheduler *schedule.Scheduler
	log       *slog.Logger
}

// Option customises construction.
type Option func(*options)

type options struct {
	browser       scraper.BrowserFactory
	scraperConfig func(*scraper.Config)
}

// WithBrowser replaces the Chromium launcher used by the scraper.
func WithBrowser(factory scraper.BrowserFactory) Option {
	return func(o *options) { o.browser = factory }
}

// WithScraperConfig adjusts scraper timings before construction.
func WithScraperConfig(fn func(*scraper.Config)) Option {
	return func(o *options) { o.scraperConfig = fn }
}

// New opens storage, applies migrations and wires every component.
func New(ctx context.Context, cfg config.WatcherConfig, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	o := options{
		browser: scraper.NewRodBrowserFactory(scraper.RodOptions{
			ControlURL: cfg.BrowserControlURL,
			Bin:        cfg.BrowserBin,
			Headless:   cfg.BrowserHeadless,
			NoSandbox:  true,
		}),
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := OpenDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx, log.With("component", "migrate")); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	hub := ws.NewHub(log.With("component", "stream"))
	listeners := []watch.Listener{hub}
	if url := strings.TrimSpace(cfg.NotifyWebhookURL); url != "" {
		hook, err := notify.NewWebhook(url, cfg.NotifyWebhookToken, &http.Client{Timeout: cfg.NotifyTimeout}, log.With("component", "notify"))
		if err != nil {
			hub.Close()
			_ = db.Close()
			return nil, fmt.Errorf("configure webhook: %w", err)
		}
		listeners = append(listeners, hook)
	}

	scrapeCfg := scraper.Config{
		AuthStatePath: cfg.AuthStatePath,
		DebugDir:      cfg.DebugDir,
		Limit:         cfg.ScrapeLimit,
	}
	if o.scraperConfig != nil {
		o.scraperConfig(&scrapeCfg)
	}
	scr := scraper.New(scrapeCfg, o.browser, log.With("component", "scraper"))

	svc := watch.New(db.Store, scr, log.With("component", "watch"), listeners...)
	limit := cfg.ScrapeLimit
	sched := schedule.New(func(ctx context.Context, username string) (int, error) {
		return svc.FetchAndStore(ctx, username, limit)
	}, db.Store, schedule.Options{
		Cooldown:      cfg.ScrapeCooldown,
		SweepInterval: cfg.SweepInterval,
		Stagger:       cfg.StaggerInterval,
		QueueSize:     cfg.ScrapeQueueSize,
		Logger:        log.With("component", "scheduler"),
	})
	svc = svc.WithQueue(sched)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}
	router := httpx.NewRouter(log.With("component", "http"), svc, hub, limiter, cfg.RefreshRateLimit, db.Store.Ping)

	return &App{db: db, router: router, hub: hub, scheduler: sched, log: log}, nil
}

// ServeHTTP serves the watcher API.
func (a *App) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	a.router.ServeHTTP(w, req)
}

// Run drives the scrape scheduler until ctx is cancelled. Live streams are
// disconnected on return so that server shutdown does not wait on them.
func (a *App) Run(ctx context.Context) error {
	defer a.hub.Close()
	return a.scheduler.Run(ctx)
}

// Close releases the stream hub, rate limiter and database.
func (a *App) Close() error {
	a.router.Close()
	a.hub.Close()
	return a.db.Close()
}

// Register adds the watcher under config.DefaultAppTarget.
func Register(reg *launch.Registry, cfg config.WatcherConfig, log *slog.Logger, opts ...Option) error {
	if reg == nil {
		return errors.New("nil registry")
	}
	target, err := launch.ParseTarget(config.DefaultAppTarget)
	if err != nil {
		return err
	}
	return reg.Register(target, func(ctx context.Context) (launch.Application, error) {
		return New(ctx, cfg, log, opts...)
	})
}
