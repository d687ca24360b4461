package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/splax/tweetwatch/internal/domain"
	"github.com/splax/tweetwatch/internal/migrate"
	"github.com/splax/tweetwatch/internal/repository"
)

// Runs only when TEST_DATABASE_URL points at a disposable database.
func TestRepositoryAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	db := repo.DB()
	defer db.Close()
	runner, err := migrate.New(db, migrate.DialectPostgres, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	if err := runner.Ensure(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := repo.pool.Exec(ctx, `TRUNCATE tweets, accounts RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	acct, err := repo.CreateAccount(ctx, "QuakesToday")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := repo.CreateAccount(ctx, "QuakesToday"); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	tweet, err := repo.CreateTweet(ctx, acct.ID, "M4.1 near Ridgecrest", time.Now())
	if err != nil {
		t.Fatalf("create tweet: %v", err)
	}
	exists, err := repo.TweetExists(ctx, acct.ID, "M4.1 near Ridgecrest")
	if err != nil || !exists {
		t.Fatalf("expected tweet to exist: %v %v", exists, err)
	}
	if _, err := repo.SetRead(ctx, tweet.ID, true); err != nil {
		t.Fatalf("set read: %v", err)
	}
	read := true
	tweets, err := repo.ListTweets(ctx, domain.TweetFilter{Read: &read})
	if err != nil || len(tweets) != 1 {
		t.Fatalf("expected one read tweet: %v %v", tweets, err)
	}
	if err := repo.DeleteAccount(ctx, "QuakesToday"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.SetRead(ctx, tweet.ID, false); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected cascade delete, got %v", err)
	}
}
