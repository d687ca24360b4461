package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/splax/tweetwatch/internal/migrate"
	"github.com/splax/tweetwatch/internal/repository"
	"github.com/splax/tweetwatch/internal/repository/postgres"
	"github.com/splax/tweetwatch/internal/repository/sqlite"
)

// Database bundles the repository with the handle and dialect migrations need.
type Database struct {
	Store   repository.Store
	SQL     *sql.DB
	Dialect migrate.Dialect
}

// OpenDatabase selects the backend from the URL scheme: sqlite://path or
// postgres://... (postgresql:// is accepted too).
func OpenDatabase(ctx context.Context, databaseURL string) (*Database, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return nil, errors.New("database url is required")
	case strings.HasPrefix(url, "sqlite://"), strings.HasPrefix(url, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(url, "sqlite:"), "//")
		repo, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return &Database{Store: repo, SQL: repo.DB(), Dialect: migrate.DialectSQLite}, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		repo, err := postgres.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		return &Database{Store: repo, SQL: repo.DB(), Dialect: migrate.DialectPostgres}, nil
	default:
		return nil, fmt.Errorf("unsupported database url %q", url)
	}
}

// Migrate pings the database and applies pending migrations.
func (d *Database) Migrate(ctx context.Context, log *slog.Logger) error {
	runner, err := d.Migrator(log)
	if err != nil {
		return err
	}
	if err := runner.Ping(ctx); err != nil {
		return err
	}
	return runner.Ensure(ctx)
}

// Migrator returns a migration runner for the database.
func (d *Database) Migrator(log *slog.Logger) (migrate.Runner, error) {
	return migrate.New(d.SQL, d.Dialect, log)
}

// Close releases the store.
func (d *Database) Close() error {
	return d.Store.Close()
}
