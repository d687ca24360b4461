package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/splax/tweetwatch/internal/domain"
	"github.com/splax/tweetwatch/internal/repository"
)

const uniqueViolation = "23505"

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Repository)(nil)

// Open connects a pool to dsn.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(pool), nil
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DB returns a database/sql view of the pool for schema migrations.
func (r *Repository) DB() *sql.DB {
	return stdlib.OpenDBFromPool(r.pool)
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases pooled connections.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// GetAccount fetches an account by username.
func (r *Repository) GetAccount(ctx context.Context, username string) (*domain.Account, error) {
	const query = `SELECT id, username, created_at FROM accounts WHERE username = $1`
	var a domain.Account
	if err := r.pool.QueryRow(ctx, query, username).Scan(&a.ID, &a.Username, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account.
func (r *Repository) CreateAccount(ctx context.Context, username string) (*domain.Account, error) {
	const query = `INSERT INTO accounts (username, created_at) VALUES ($1, $2) RETURNING id, created_at`
	a := domain.Account{Username: username}
	if err := r.pool.QueryRow(ctx, query, username, time.Now().UTC()).Scan(&a.ID, &a.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	return &a, nil
}

// DeleteAccount removes an account; tweets follow via ON DELETE CASCADE.
func (r *Repository) DeleteAccount(ctx context.Context, username string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE username = $1`, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListAccounts returns every account in insertion order.
func (r *Repository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, username, created_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Username, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// TweetExists reports whether the account already has a tweet with this content.
func (r *Repository) TweetExists(ctx context.Context, accountID int64, content string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM tweets WHERE account_id = $1 AND md5(content) = md5($2) AND content = $2)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, accountID, content).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// CreateTweet stores a tweet. A zero timestamp is replaced with the current time.
func (r *Repository) CreateTweet(ctx context.Context, accountID int64, content string, timestamp time.Time) (*domain.Tweet, error) {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	const query = `WITH inserted AS (
			INSERT INTO tweets (account_id, content, timestamp, read)
			VALUES ($1, $2, $3, FALSE)
			RETURNING id, account_id, content, timestamp, read
		)
		SELECT i.id, i.account_id, a.username, i.content, i.timestamp, i.read
		FROM inserted i INNER JOIN accounts a ON a.id = i.account_id`
	var t domain.Tweet
	if err := r.pool.QueryRow(ctx, query, accountID, content, timestamp.UTC()).Scan(&t.ID, &t.AccountID, &t.Account, &t.Content, &t.Timestamp, &t.Read); err != nil {
		return nil, err
	}
	t.Timestamp = t.Timestamp.UTC()
	return &t, nil
}

// ListTweets returns tweets newest first.
func (r *Repository) ListTweets(ctx context.Context, filter domain.TweetFilter) ([]domain.Tweet, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Account != nil && *filter.Account != "" {
		args = append(args, *filter.Account)
		clauses = append(clauses, fmt.Sprintf("a.username = $%d", len(args)))
	}
	if filter.Read != nil {
		args = append(args, *filter.Read)
		clauses = append(clauses, fmt.Sprintf("t.read = $%d", len(args)))
	}
	query := `SELECT t.id, t.account_id, a.username, t.content, t.timestamp, t.read
		FROM tweets t
		INNER JOIN accounts a ON a.id = t.account_id`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY t.timestamp DESC, t.id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tweets := make([]domain.Tweet, 0)
	for rows.Next() {
		var t domain.Tweet
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Account, &t.Content, &t.Timestamp, &t.Read); err != nil {
			return nil, err
		}
		t.Timestamp = t.Timestamp.UTC()
		tweets = append(tweets, t)
	}
	return tweets, rows.Err()
}

// SetRead updates the read flag of a tweet.
func (r *Repository) SetRead(ctx context.Context, tweetID int64, read bool) (*domain.Tweet, error) {
	const query = `WITH updated AS (
			UPDATE tweets SET read = $2 WHERE id = $1
			RETURNING id, account_id, content, timestamp, read
		)
		SELECT u.id, u.account_id, a.username, u.content, u.timestamp, u.read
		FROM updated u INNER JOIN accounts a ON a.id = u.account_id`
	var t domain.Tweet
	if err := r.pool.QueryRow(ctx, query, tweetID, read).Scan(&t.ID, &t.AccountID, &t.Account, &t.Content, &t.Timestamp, &t.Read); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	t.Timestamp = t.Timestamp.UTC()
	return &t, nil
}
