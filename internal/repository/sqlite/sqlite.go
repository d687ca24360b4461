package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/splax/tweetwatch/internal/domain"
	"github.com/splax/tweetwatch/internal/repository"
)

// timestampLayout is fixed-width so that lexical order matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Repository implements persistence interfaces on SQLite.
type Repository struct {
	db *sql.DB
}

var _ repository.Store = (*Repository)(nil)

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	return New(db), nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the handle for schema migrations.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// GetAccount fetches an account by username.
func (r *Repository) GetAccount(ctx context.Context, username string) (*domain.Account, error) {
	const query = `SELECT id, username, created_at FROM accounts WHERE username = ?`
	var (
		a       domain.Account
		created string
	)
	if err := r.db.QueryRowContext(ctx, query, username).Scan(&a.ID, &a.Username, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	a.CreatedAt = parseTimestamp(created)
	return &a, nil
}

// CreateAccount inserts a new account.
func (r *Repository) CreateAccount(ctx context.Context, username string) (*domain.Account, error) {
	const query = `INSERT INTO accounts (username, created_at) VALUES (?, ?)`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, username, formatTimestamp(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Account{ID: id, Username: username, CreatedAt: now}, nil
}

// DeleteAccount removes an account and its tweets.
func (r *Repository) DeleteAccount(ctx context.Context, username string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE username = ?`, username).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tweets WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("delete tweets: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return tx.Commit()
}

// ListAccounts returns every account in insertion order.
func (r *Repository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, username, created_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		var (
			a       domain.Account
			created string
		)
		if err := rows.Scan(&a.ID, &a.Username, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTimestamp(created)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// TweetExists reports whether the account already has a tweet with this content.
func (r *Repository) TweetExists(ctx context.Context, accountID int64, content string) (bool, error) {
	const query = `SELECT 1 FROM tweets WHERE account_id = ? AND content = ? LIMIT 1`
	var one int
	if err := r.db.QueryRowContext(ctx, query, accountID, content).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateTweet stores a tweet. A zero timestamp is replaced with the current time.
func (r *Repository) CreateTweet(ctx context.Context, accountID int64, content string, timestamp time.Time) (*domain.Tweet, error) {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	timestamp = timestamp.UTC()
	const query = `INSERT INTO tweets (account_id, content, timestamp, read) VALUES (?, ?, ?, 0)`
	res, err := r.db.ExecContext(ctx, query, accountID, content, formatTimestamp(timestamp))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	var username string
	if err := r.db.QueryRowContext(ctx, `SELECT username FROM accounts WHERE id = ?`, accountID).Scan(&username); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return &domain.Tweet{ID: id, AccountID: accountID, Account: username, Content: content, Timestamp: timestamp}, nil
}

// ListTweets returns tweets newest first.
func (r *Repository) ListTweets(ctx context.Context, filter domain.TweetFilter) ([]domain.Tweet, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Account != nil && *filter.Account != "" {
		clauses = append(clauses, "a.username = ?")
		args = append(args, *filter.Account)
	}
	if filter.Read != nil {
		clauses = append(clauses, "t.read = ?")
		args = append(args, boolToInt(*filter.Read))
	}
	query := `SELECT t.id, t.account_id, a.username, t.content, t.timestamp, t.read
		FROM tweets t
		INNER JOIN accounts a ON a.id = t.account_id`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY t.timestamp DESC, t.id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tweets := make([]domain.Tweet, 0)
	for rows.Next() {
		var (
			t    domain.Tweet
			ts   string
			read int
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Account, &t.Content, &ts, &read); err != nil {
			return nil, err
		}
		t.Timestamp = parseTimestamp(ts)
		t.Read = read != 0
		tweets = append(tweets, t)
	}
	return tweets, rows.Err()
}

// SetRead updates the read flag of a tweet.
func (r *Repository) SetRead(ctx context.Context, tweetID int64, read bool) (*domain.Tweet, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE tweets SET read = ? WHERE id = ?`, boolToInt(read), tweetID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, repository.ErrNotFound
	}
	const query = `SELECT t.id, t.account_id, a.username, t.content, t.timestamp, t.read
		FROM tweets t INNER JOIN accounts a ON a.id = t.account_id WHERE t.id = ?`
	var (
		t     domain.Tweet
		ts    string
		state int
	)
	if err := r.db.QueryRowContext(ctx, query, tweetID).Scan(&t.ID, &t.AccountID, &t.Account, &t.Content, &ts, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	t.Timestamp = parseTimestamp(ts)
	t.Read = state != 0
	return &t, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(value string) time.Time {
	if t, err := time.Parse(timestampLayout, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
