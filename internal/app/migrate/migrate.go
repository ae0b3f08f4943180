// Package migrate applies the durable event store schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const (
	dialect        = "postgres"
	commandTimeout = time.Minute
)

// Runner applies schema migrations against the event store.
type Runner struct {
	pool *pgxpool.Pool
	dsn  string
	dir  string
	log  *slog.Logger
}

// New validates inputs and returns a Runner.
func New(pool *pgxpool.Pool, dsn, dir string, log *slog.Logger) (Runner, error) {
	switch {
	case pool == nil:
		return Runner{}, errors.New("nil pool provided")
	case dsn == "":
		return Runner{}, errors.New("empty database dsn")
	case dir == "":
		return Runner{}, errors.New("empty migrations directory")
	}
	if _, err := os.Stat(dir); err != nil {
		return Runner{}, fmt.Errorf("locate migrations dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{pool: pool, dsn: dsn, dir: dir, log: log.With("component", "migrate")}, nil
}

// Up applies every pending migration.
func (r Runner) Up(ctx context.Context) error {
	return r.run(ctx, func(ctx context.Context, db *sql.DB) error {
		r.log.Info("applying migrations", "dir", r.dir)
		if err := goose.UpContext(ctx, db, r.dir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		version, err := goose.GetDBVersionContext(ctx, db)
		if err == nil {
			r.log.Info("migrations applied", "version", version)
		}
		return nil
	})
}

// Status logs applied and pending migrations.
func (r Runner) Status(ctx context.Context) error {
	return r.run(ctx, func(ctx context.Context, db *sql.DB) error {
		if err := goose.StatusContext(ctx, db, r.dir); err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		return nil
	})
}

// Down rolls back the latest migration, or every migration above target when target > 0.
func (r Runner) Down(ctx context.Context, target int64) error {
	return r.run(ctx, func(ctx context.Context, db *sql.DB) error {
		if target > 0 {
			r.log.Info("rolling back migrations", "target", target)
			if err := goose.DownToContext(ctx, db, r.dir, target); err != nil {
				return fmt.Errorf("rollback to version %d: %w", target, err)
			}
			return nil
		}
		r.log.Info("rolling back latest migration")
		if err := goose.DownContext(ctx, db, r.dir); err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
		return nil
	})
}

// Ping checks the pool can reach the database.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (r Runner) run(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	db, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}
	return fn(ctx, db)
}
