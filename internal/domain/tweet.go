package domain

import "time"

// Tweet is a stored post belonging to a subscribed account.
type Tweet struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"-"`
	Account   string    `json:"account"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// TweetFilter narrows tweet listings. Nil fields do not filter.
type TweetFilter struct {
	Account *string
	Read    *bool
}

// ScrapedTweet is a post extracted from the timeline before persistence.
type ScrapedTweet struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
