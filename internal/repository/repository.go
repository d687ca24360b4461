package repository

import (
	"context"
	"time"

	"github.com/splax/tweetwatch/internal/domain"
)

// AccountRepository persists subscribed accounts.
type AccountRepository interface {
	GetAccount(ctx context.Context, username string) (*domain.Account, error)
	CreateAccount(ctx context.Context, username string) (*domain.Account, error)
	DeleteAccount(ctx context.Context, username string) error
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

// TweetRepository persists scraped tweets.
type TweetRepository interface {
	TweetExists(ctx context.Context, accountID int64, content string) (bool, error)
	CreateTweet(ctx context.Context, accountID int64, content string, timestamp time.Time) (*domain.Tweet, error)
	ListTweets(ctx context.Context, filter domain.TweetFilter) ([]domain.Tweet, error)
	SetRead(ctx context.Context, tweetID int64, read bool) (*domain.Tweet, error)
}

// Store combines every repository with lifecycle hooks.
type Store interface {
	AccountRepository
	TweetRepository
	Ping(ctx context.Context) error
	Close() error
}
