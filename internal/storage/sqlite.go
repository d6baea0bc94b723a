package storage

import (
	"errors"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteDialect = dialect{
	name:        "sqlite",
	driverName:  "sqlite",
	placeholder: sq.Question,
	singleConn:  true,
	isDuplicate: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
	schema: []string{`
CREATE TABLE IF NOT EXISTS rss_sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT 'feed',
	url TEXT NOT NULL,
	last_fetch_at DATETIME,
	created_at DATETIME NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS rss_articles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	link TEXT NOT NULL,
	link_hash TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL,
	pub_date DATETIME NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	ai_summary TEXT NOT NULL,
	created_at DATETIME NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_pub_date ON rss_articles(pub_date)`, `
CREATE TABLE IF NOT EXISTS run_checkpoints (
	run_id TEXT PRIMARY KEY,
	source_ids TEXT NOT NULL,
	next_cursor INTEGER NOT NULL,
	total INTEGER NOT NULL,
	status TEXT NOT NULL,
	sources_processed INTEGER NOT NULL DEFAULT 0,
	items_stored INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON run_checkpoints(status, updated_at)`,
	},
}
