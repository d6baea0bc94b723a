package storage

import (
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgUniqueViolation = "23505"

var postgresDialect = dialect{
	name:        "postgres",
	driverName:  "pgx",
	placeholder: sq.Dollar,
	returning:   true,
	isDuplicate: func(err error) bool {
		var pe *pgconn.PgError
		return errors.As(err, &pe) && pe.Code == pgUniqueViolation
	},
	schema: []string{`
CREATE TABLE IF NOT EXISTS rss_sources (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT 'feed',
	url TEXT NOT NULL,
	last_fetch_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS rss_articles (
	id BIGSERIAL PRIMARY KEY,
	source_id BIGINT NOT NULL,
	title TEXT NOT NULL,
	link TEXT NOT NULL,
	link_hash CHAR(64) NOT NULL UNIQUE,
	description TEXT NOT NULL,
	pub_date TIMESTAMPTZ NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	ai_summary TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_pub_date ON rss_articles(pub_date)`, `
CREATE TABLE IF NOT EXISTS run_checkpoints (
	run_id VARCHAR(36) PRIMARY KEY,
	source_ids TEXT NOT NULL,
	next_cursor INTEGER NOT NULL,
	total INTEGER NOT NULL,
	status VARCHAR(16) NOT NULL,
	sources_processed INTEGER NOT NULL DEFAULT 0,
	items_stored INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON run_checkpoints(status, updated_at)`,
	},
}
