// Package scraper collects recent posts of an account from the live search
// timeline using an authenticated headless browser session.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/splax/tweetwatch/internal/domain"
)

const (
	// DefaultLimit caps the number of posts collected per scrape.
	DefaultLimit = 20

	searchURLTemplate = "https://x.com/search?q=from%%3A%s&f=live"
	tweetSelector     = "article[data-testid='tweet']"
)

var (
	// ErrLoginRedirect indicates the session cookies were rejected.
	ErrLoginRedirect = errors.New("scraper: redirected to login or challenge page")
	// ErrNoTweets indicates no post container appeared in time.
	ErrNoTweets = errors.New("scraper: no tweets rendered")
)

// RawTweet is the text and datetime attribute read from one post container.
// Empty fields mean the element was absent.
type RawTweet struct {
	Text     string
	Datetime string
}

// Page is the subset of browser page behaviour the scraper relies on.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	URL() (string, error)
	HTML() (string, error)
	Screenshot() ([]byte, error)
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	TweetBlocks() ([]RawTweet, error)
	ScrollHeight() (int, error)
	ScrollDown() error
	Close() error
}

// Browser opens authenticated pages.
type Browser interface {
	NewPage(ctx context.Context, cookies []Cookie) (Page, error)
	Close() error
}

// BrowserFactory starts a browser for a single scrape.
type BrowserFactory func(ctx context.Context) (Browser, error)

// Config tunes timing and file locations.
type Config struct {
	AuthStatePath     string
	DebugDir          string
	Limit             int
	NavigationTimeout time.Duration
	RetryDelay        time.Duration
	SettleDelay       time.Duration
	SelectorTimeout   time.Duration
	ScrollDelay       time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		AuthStatePath:     "auth.json",
		DebugDir:          ".",
		Limit:             DefaultLimit,
		NavigationTimeout: 60 * time.Second,
		RetryDelay:        2 * time.Second,
		SettleDelay:       5 * time.Second,
		SelectorTimeout:   30 * time.Second,
		ScrollDelay:       2 * time.Second,
	}
}

// Scraper drives one browser per call to Scrape.
type Scraper struct {
	cfg     Config
	browser BrowserFactory
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New constructs a Scraper.
func New(cfg Config, browser BrowserFactory, log *slog.Logger) *Scraper {
	defaults := DefaultConfig()
	if cfg.AuthStatePath == "" {
		cfg.AuthStatePath = defaults.AuthStatePath
	}
	if cfg.DebugDir == "" {
		cfg.DebugDir = defaults.DebugDir
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaults.Limit
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaults.NavigationTimeout
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = defaults.SelectorTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaults.SettleDelay
	}
	if cfg.ScrollDelay <= 0 {
		cfg.ScrollDelay = defaults.ScrollDelay
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scraper{cfg: cfg, browser: browser, log: log, sleep: sleepContext}
}

// SearchURL returns the reverse-chronological search page for username.
func SearchURL(username string) string {
	return fmt.Sprintf(searchURLTemplate, url.QueryEscape(username))
}

// Scrape returns up to limit distinct posts of username, newest first as rendered.
func (s *Scraper) Scrape(ctx context.Context, username string, limit int) ([]domain.ScrapedTweet, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("scraper: username required")
	}
	if limit <= 0 {
		limit = s.cfg.Limit
	}
	state, err := LoadStorageState(s.cfg.AuthStatePath)
	if err != nil {
		return nil, err
	}
	if s.browser == nil {
		return nil, errors.New("scraper: browser not configured")
	}

	browser, err := s.browser(ctx)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			s.log.Warn("browser close failed", "error", err)
		}
	}()

	page, err := browser.NewPage(ctx, state.Cookies)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	target := SearchURL(username)
	if err := page.Navigate(ctx, target, s.cfg.NavigationTimeout); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("navigate %s: %w", target, err)
		}
		s.log.Warn("navigation timed out, retrying", "username", username)
		if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
			return nil, err
		}
		if err := page.Navigate(ctx, target, s.cfg.NavigationTimeout); err != nil {
			return nil, fmt.Errorf("navigate %s: %w", target, err)
		}
	}
	if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
		return nil, err
	}

	finalURL, err := page.URL()
	if err != nil {
		return nil, fmt.Errorf("read page url: %w", err)
	}
	if strings.Contains(finalURL, "login") || strings.Contains(finalURL, "challenge") {
		htmlPath, shotPath := s.dump(page, username, "redirect")
		return nil, fmt.Errorf("%w (%s): cookie expired or invalid; html: %s, screenshot: %s", ErrLoginRedirect, finalURL, htmlPath, shotPath)
	}

	if err := page.WaitFor(ctx, tweetSelector, s.cfg.SelectorTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		htmlPath, shotPath := s.dump(page, username, "no_tweets")
		return nil, fmt.Errorf("%w for @%s within %s: html: %s, screenshot: %s: %v", ErrNoTweets, username, s.cfg.SelectorTimeout, htmlPath, shotPath, err)
	}

	return s.collect(ctx, page, limit)
}

func (s *Scraper) collect(ctx context.Context, page Page, limit int) ([]domain.ScrapedTweet, error) {
	tweets := make([]domain.ScrapedTweet, 0, limit)
	seen := make(map[string]struct{})

	lastHeight, err := page.ScrollHeight()
	if err != nil {
		return nil, fmt.Errorf("read scroll height: %w", err)
	}

	for len(tweets) < limit {
		blocks, err := page.TweetBlocks()
		if err != nil {
			return nil, fmt.Errorf("read tweet blocks: %w", err)
		}
		for _, block := range blocks {
			tweet, ok := parseBlock(block)
			if !ok {
				continue
			}
			if _, dup := seen[tweet.Content]; dup {
				continue
			}
			seen[tweet.Content] = struct{}{}
			tweets = append(tweets, tweet)
			if len(tweets) >= limit {
				break
			}
		}
		if len(tweets) >= limit {
			break
		}

		if err := page.ScrollDown(); err != nil {
			return nil, fmt.Errorf("scroll: %w", err)
		}
		if err := s.sleep(ctx, s.cfg.ScrollDelay); err != nil {
			return nil, err
		}
		newHeight, err := page.ScrollHeight()
		if err != nil {
			return nil, fmt.Errorf("read scroll height: %w", err)
		}
		if newHeight == lastHeight {
			break
		}
		lastHeight = newHeight
	}
	return tweets, nil
}

func parseBlock(block RawTweet) (domain.ScrapedTweet, bool) {
	content := strings.TrimSpace(block.Text)
	stamp := strings.TrimSpace(block.Datetime)
	if content == "" || stamp == "" {
		return domain.ScrapedTweet{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return domain.ScrapedTweet{}, false
	}
	return domain.ScrapedTweet{Content: content, Timestamp: ts.UTC()}, true
}

// dump writes an HTML snapshot and a screenshot for post-mortem debugging.
func (s *Scraper) dump(page Page, username, reason string) (string, string) {
	base := filepath.Join(s.cfg.DebugDir, fmt.Sprintf("%s_%s", username, reason))
	htmlPath := base + ".html"
	shotPath := base + ".png"

	if html, err := page.HTML(); err != nil {
		s.log.Warn("capture html failed", "username", username, "error", err)
	} else if err := os.WriteFile(htmlPath, []byte(html), 0o644); err != nil {
		s.log.Warn("write html snapshot failed", "path", htmlPath, "error", err)
	}
	if shot, err := page.Screenshot(); err != nil {
		s.log.Warn("capture screenshot failed", "username", username, "error", err)
	} else if err := os.WriteFile(shotPath, shot, 0o644); err != nil {
		s.log.Warn("write screenshot failed", "path", shotPath, "error", err)
	}
	return htmlPath, shotPath
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
