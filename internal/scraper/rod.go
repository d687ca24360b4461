package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

var (
	tweetTextSelectors = []string{"[data-testid='tweetText']", "div[lang]"}
	timeSelector       = "time"
)

// RodOptions configure the Chromium instance.
type RodOptions struct {
	// ControlURL attaches to an already running browser when set.
	ControlURL string
	// Bin overrides the browser executable; empty uses the bundled lookup.
	Bin       string
	Headless  bool
	NoSandbox bool
}

// NewRodBrowserFactory returns a factory that launches (or attaches to) Chromium via rod.
func NewRodBrowserFactory(opts RodOptions) BrowserFactory {
	return func(ctx context.Context) (Browser, error) {
		if controlURL := strings.TrimSpace(opts.ControlURL); controlURL != "" {
			return attachBrowser(ctx, controlURL)
		}
		l := launcher.New().Context(ctx).Headless(opts.Headless).NoSandbox(opts.NoSandbox)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chromium: %w", err)
		}
		browser := rod.New().ControlURL(u).Context(ctx)
		if err := browser.Connect(); err != nil {
			l.Kill()
			return nil, fmt.Errorf("connect to chromium: %w", err)
		}
		return &rodBrowser{browser: browser, launcher: l}, nil
	}
}

// attachBrowser opens an incognito context on a browser someone else owns.
// Closing the session disposes that context and leaves the browser running.
func attachBrowser(ctx context.Context, controlURL string) (Browser, error) {
	wsURL, err := launcher.ResolveURL(controlURL)
	if err != nil {
		return nil, fmt.Errorf("resolve browser control url: %w", err)
	}
	connCtx, disconnect := context.WithCancel(ctx)
	root := rod.New().ControlURL(wsURL).Context(connCtx)
	if err := root.Connect(); err != nil {
		disconnect()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	session, err := root.Incognito()
	if err != nil {
		disconnect()
		return nil, fmt.Errorf("open browser context: %w", err)
	}
	return &rodBrowser{browser: session, disconnect: disconnect}, nil
}

type rodBrowser struct {
	browser    *rod.Browser
	launcher   *launcher.Launcher
	disconnect context.CancelFunc
}

func (b *rodBrowser) NewPage(ctx context.Context, cookies []Cookie) (Page, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if params := cookieParams(cookies); len(params) > 0 {
		if err := page.SetCookies(params); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("set cookies: %w", err)
		}
	}
	return &rodPage{page: page}, nil
}

// Close shuts down a launched browser. For an attached one only the session's
// incognito context is disposed.
func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	if b.disconnect != nil {
		b.disconnect()
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
	}
	return err
}

func cookieParams(cookies []Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.SameSite != "" {
			p.SameSite = proto.NetworkCookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		params = append(params, p)
	}
	return params
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) URL() (string, error) {
	info, err := p.page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) HTML() (string, error) {
	return p.page.HTML()
}

func (p *rodPage) Screenshot() ([]byte, error) {
	return p.page.Screenshot(true, nil)
}

func (p *rodPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	return err
}

func (p *rodPage) TweetBlocks() ([]RawTweet, error) {
	articles, err := p.page.Elements(tweetSelector)
	if err != nil {
		return nil, err
	}
	out := make([]RawTweet, 0, len(articles))
	for _, article := range articles {
		out = append(out, RawTweet{
			Text:     firstText(article, tweetTextSelectors...),
			Datetime: firstAttribute(article, timeSelector, "datetime"),
		})
	}
	return out, nil
}

func (p *rodPage) ScrollHeight() (int, error) {
	res, err := p.page.Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (p *rodPage) ScrollDown() error {
	_, err := p.page.Eval(`() => window.scrollBy(0, document.body.scrollHeight)`)
	return err
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

// Blocks that detach mid-read are reported as empty and skipped by the caller.
func firstText(el *rod.Element, selectors ...string) string {
	for _, sel := range selectors {
		matches, err := el.Elements(sel)
		if err != nil || len(matches) == 0 {
			continue
		}
		text, err := matches.First().Text()
		if err != nil {
			return ""
		}
		return text
	}
	return ""
}

func firstAttribute(el *rod.Element, selector, name string) string {
	matches, err := el.Elements(selector)
	if err != nil || len(matches) == 0 {
		return ""
	}
	value, err := matches.First().Attribute(name)
	if err != nil || value == nil {
		return ""
	}
	return *value
}
