// Package storage persists sources, articles and run checkpoints in MySQL,
// SQLite or PostgreSQL.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"feedsweep/internal/config"
)

const (
	sourcesTable     = "rss_sources"
	articlesTable    = "rss_articles"
	checkpointsTable = "run_checkpoints"
)

// Store implements the catalog, article and checkpoint stores on one database.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	sb      sq.StatementBuilderType
	logger  *slog.Logger
}

// Open connects to the database selected by cfg and ensures the schema.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Store, error) {
	switch cfg.DBDriver {
	case "mysql":
		if err := ensureMySQLDatabase(ctx, cfg); err != nil {
			return nil, err
		}
		return OpenDSN(ctx, "mysql", mysqlDSN(cfg, cfg.DBName), logger)
	case "sqlite":
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		return OpenDSN(ctx, "sqlite", cfg.DBPath, logger)
	case "postgres":
		return OpenDSN(ctx, "postgres", cfg.DBDSN, logger)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

// OpenDSN connects using a driver name ("mysql", "sqlite" or "postgres") and DSN.
func OpenDSN(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if d.singleConn {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{
		db:      db,
		dialect: d,
		sb:      sq.StatementBuilder.PlaceholderFormat(d.placeholder),
		logger:  logger.With("component", "storage"),
	}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ts normalizes timestamps so every dialect stores and compares them alike.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
