package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/splax/tweetwatch/internal/domain"
	"github.com/splax/tweetwatch/internal/repository"
)

var (
	// ErrAlreadySubscribed is returned when subscribing to a known account.
	ErrAlreadySubscribed = errors.New("account already subscribed")
	// ErrAccountNotFound is returned when unsubscribing an unknown account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNotSubscribed is returned when refreshing an unknown account.
	ErrNotSubscribed = errors.New("account not subscribed")
	// ErrTweetNotFound is returned when updating a missing tweet.
	ErrTweetNotFound = errors.New("tweet not found")
	// ErrInvalidUsername is returned for blank usernames.
	ErrInvalidUsername = errors.New("username is required")

	errQueueUnavailable = errors.New("scrape queue not configured")
)

// Scraper extracts recent posts for an account.
type Scraper interface {
	Scrape(ctx context.Context, username string, limit int) ([]domain.ScrapedTweet, error)
}

// Queue accepts background scrape requests and returns a job identifier.
type Queue interface {
	Enqueue(username string) (string, error)
}

// Listener is told about tweets stored by FetchAndStore.
type Listener interface {
	TweetsStored(ctx context.Context, account string, tweets []domain.Tweet)
}

// Store is the persistence surface used by the service.
type Store interface {
	repository.AccountRepository
	repository.TweetRepository
}

// Service orchestrates subscriptions and tweet storage.
type Service struct {
	store     Store
	scraper   Scraper
	queue     Queue
	listeners []Listener
	logger    *slog.Logger
}

// New returns a watch service.
func New(store Store, scraper Scraper, logger *slog.Logger, listeners ...Listener) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{store: store, scraper: scraper, listeners: listeners, logger: logger}
}

// WithQueue returns a copy of the service that submits refreshes to queue.
func (s Service) WithQueue(queue Queue) Service {
	s.queue = queue
	return s
}

// Subscribe registers username for periodic scraping.
func (s Service) Subscribe(ctx context.Context, username string) (*domain.Account, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetAccount(ctx, username); err == nil {
		return nil, ErrAlreadySubscribed
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	account, err := s.store.CreateAccount(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadySubscribed
		}
		return nil, err
	}
	s.logger.Info("account subscribed", "username", username, "account_id", account.ID)
	return account, nil
}

// Unsubscribe removes username and its stored tweets.
func (s Service) Unsubscribe(ctx context.Context, username string) error {
	username, err := normalizeUsername(username)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAccount(ctx, username); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	s.logger.Info("account unsubscribed", "username", username)
	return nil
}

// Accounts lists subscribed usernames.
func (s Service) Accounts(ctx context.Context) ([]string, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(accounts))
	for _, a := range accounts {
		names = append(names, a.Username)
	}
	return names, nil
}

// Refresh schedules a background scrape for a subscribed account.
func (s Service) Refresh(ctx context.Context, username string) (string, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return "", err
	}
	if _, err := s.store.GetAccount(ctx, username); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotSubscribed
		}
		return "", err
	}
	if s.queue == nil {
		return "", errQueueUnavailable
	}
	jobID, err := s.queue.Enqueue(username)
	if err != nil {
		return "", err
	}
	s.logger.Info("refresh queued", "username", username, "job_id", jobID)
	return jobID, nil
}

// Tweets lists stored tweets matching filter, newest first.
func (s Service) Tweets(ctx context.Context, filter domain.TweetFilter) ([]domain.Tweet, error) {
	return s.store.ListTweets(ctx, filter)
}

// MarkRead flags a tweet as read.
func (s Service) MarkRead(ctx context.Context, tweetID int64) (*domain.Tweet, error) {
	return s.setRead(ctx, tweetID, true)
}

// MarkUnread clears the read flag of a tweet.
func (s Service) MarkUnread(ctx context.Context, tweetID int64) (*domain.Tweet, error) {
	return s.setRead(ctx, tweetID, false)
}

func (s Service) setRead(ctx context.Context, tweetID int64, read bool) (*domain.Tweet, error) {
	tweet, err := s.store.SetRead(ctx, tweetID, read)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTweetNotFound
		}
		return nil, err
	}
	return tweet, nil
}

// FetchAndStore scrapes username and persists tweets whose content is new for
// the account. The account is created when missing. It returns the number of
// tweets stored.
func (s Service) FetchAndStore(ctx context.Context, username string, limit int) (int, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return 0, err
	}
	if s.scraper == nil {
		return 0, errors.New("scraper not configured")
	}
	scraped, err := s.scraper.Scrape(ctx, username, limit)
	if err != nil {
		return 0, fmt.Errorf("scrape %s: %w", username, err)
	}

	account, err := s.ensureAccount(ctx, username)
	if err != nil {
		return 0, err
	}

	stored := make([]domain.Tweet, 0, len(scraped))
	for _, item := range scraped {
		exists, err := s.store.TweetExists(ctx, account.ID, item.Content)
		if err != nil {
			return len(stored), fmt.Errorf("check tweet: %w", err)
		}
		if exists {
			continue
		}
		tweet, err := s.store.CreateTweet(ctx, account.ID, item.Content, item.Timestamp)
		if err != nil {
			return len(stored), fmt.Errorf("store tweet: %w", err)
		}
		stored = append(stored, *tweet)
	}

	if len(stored) > 0 {
		for _, l := range s.listeners {
			l.TweetsStored(ctx, account.Username, stored)
		}
	}
	return len(stored), nil
}

func (s Service) ensureAccount(ctx context.Context, username string) (*domain.Account, error) {
	account, err := s.store.GetAccount(ctx, username)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	account, err = s.store.CreateAccount(ctx, username)
	if errors.Is(err, repository.ErrConflict) {
		return s.store.GetAccount(ctx, username)
	}
	return account, err
}

func normalizeUsername(username string) (string, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return "", ErrInvalidUsername
	}
	return trimmed, nil
}
