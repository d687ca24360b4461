// Package notify posts batches of newly stored tweets to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/splax/tweetwatch/internal/domain"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

// ErrUnauthorized indicates the webhook rejected the bearer token.
var ErrUnauthorized = errors.New("webhook unauthorized")

// ErrInvalidArgument indicates the webhook rejected the payload.
var ErrInvalidArgument = errors.New("webhook invalid argument")

// ErrNotFound indicates the webhook endpoint does not exist.
var ErrNotFound = errors.New("webhook endpoint not found")

// Webhook delivers tweet batches as JSON.
type Webhook struct {
	url    string
	token  string
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

// Payload is the JSON body posted for each batch.
type Payload struct {
	Event   string         `json:"event"`
	Account string         `json:"account"`
	Count   int            `json:"count"`
	Tweets  []domain.Tweet `json:"tweets"`
	SentAt  string         `json:"sent_at"`
}

// NewWebhook creates a notifier posting to url with an optional bearer token.
func NewWebhook(url, token string, client *http.Client, logger *slog.Logger) (*Webhook, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("webhook url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    trimmed,
		token:  strings.TrimSpace(token),
		client: client,
		log:    logger,
		now:    time.Now,
	}, nil
}

// Send posts tweets stored for account.
func (w *Webhook) Send(ctx context.Context, account string, tweets []domain.Tweet) error {
	if w == nil {
		return errors.New("webhook notifier not initialised")
	}
	payload := Payload{
		Event:   "tweets.stored",
		Account: account,
		Count:   len(tweets),
		Tweets:  tweets,
		SentAt:  w.now().UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

// TweetsStored forwards a batch and logs delivery failures.
func (w *Webhook) TweetsStored(ctx context.Context, account string, tweets []domain.Tweet) {
	if err := w.Send(ctx, account, tweets); err != nil {
		w.log.Warn("webhook delivery failed", "account", account, "tweets", len(tweets), "error", err)
	}
}

func errorForStatus(resp *http.Response) error {
	limited := io.LimitReader(resp.Body, maxErrorBodySize)
	buf, _ := io.ReadAll(limited)
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	default:
		return fmt.Errorf("webhook request failed: %s", summary)
	}
}
