package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Dialect names a supported database engine.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

// Runner wraps database migration capabilities.
type Runner struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

// New returns a migration runner backed by goose and the embedded migrations.
func New(db *sql.DB, dialect Dialect, log *slog.Logger) (Runner, error) {
	if db == nil {
		return Runner{}, errors.New("nil database provided")
	}
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return Runner{}, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{db: db, dialect: dialect, log: log}, nil
}

func (r Runner) dir() string {
	if r.dialect == DialectPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withGoose(func() error {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		r.log.Info("applying migrations", "dialect", r.dialect)
		if err := goose.UpContext(runCtx, r.db, r.dir()); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		r.log.Info("migrations applied")
		return nil
	})
}

// Status reports applied and pending migrations.
func (r Runner) Status(ctx context.Context) error {
	return r.withGoose(func() error {
		r.log.Info("migration status", "dialect", r.dialect)
		if err := goose.StatusContext(ctx, r.db, r.dir()); err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		return nil
	})
}

// Down rolls back migrations either to the previous version or a specific target version.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withGoose(func() error {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		if targetVersion > 0 {
			r.log.Info("rolling back migrations", "target", targetVersion)
			if err := goose.DownToContext(runCtx, r.db, r.dir(), targetVersion); err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
		} else {
			r.log.Info("rolling back latest migration")
			if err := goose.DownContext(runCtx, r.db, r.dir()); err != nil {
				return fmt.Errorf("rollback latest migration: %w", err)
			}
		}

		r.log.Info("rollback complete")
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (r Runner) withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(r.dialect)); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return fn()
}
