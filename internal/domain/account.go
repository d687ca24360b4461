package domain

import "time"

// Account is a subscribed X username.
type Account struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}
