package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"

	"feedsweep/internal/config"
)

const mysqlDuplicateEntry = 1062

var mysqlDialect = dialect{
	name:        "mysql",
	driverName:  "mysql",
	placeholder: sq.Question,
	isDuplicate: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
	},
	schema: []string{`
CREATE TABLE IF NOT EXISTS rss_sources (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	category VARCHAR(100) NOT NULL DEFAULT '',
	kind VARCHAR(16) NOT NULL DEFAULT 'feed',
	url TEXT NOT NULL,
	last_fetch_at DATETIME NULL,
	created_at DATETIME NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, `
CREATE TABLE IF NOT EXISTS rss_articles (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	source_id BIGINT NOT NULL,
	title TEXT NOT NULL,
	link TEXT NOT NULL,
	link_hash CHAR(64) NOT NULL UNIQUE,
	description MEDIUMTEXT NOT NULL,
	pub_date DATETIME NOT NULL,
	author VARCHAR(255) NOT NULL DEFAULT '',
	ai_summary TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	INDEX idx_articles_pub_date (pub_date)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, `
CREATE TABLE IF NOT EXISTS run_checkpoints (
	run_id VARCHAR(36) PRIMARY KEY,
	source_ids MEDIUMTEXT NOT NULL,
	next_cursor INT NOT NULL,
	total INT NOT NULL,
	status VARCHAR(16) NOT NULL,
	sources_processed INT NOT NULL DEFAULT 0,
	items_stored INT NOT NULL DEFAULT 0,
	error_count INT NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	INDEX idx_checkpoints_status (status, updated_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
}

// clientFoundRows makes RowsAffected count matched rows, which the
// checkpoint claim relies on.
func mysqlDSN(cfg config.Config, dbName string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC&clientFoundRows=true",
		cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, dbName)
}

// ensureMySQLDatabase creates the configured database if needed.
func ensureMySQLDatabase(ctx context.Context, cfg config.Config) error {
	rootDB, err := sql.Open("mysql", mysqlDSN(cfg, ""))
	if err != nil {
		return fmt.Errorf("open root mysql connection: %w", err)
	}
	defer rootDB.Close()
	if err := rootDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping root mysql: %w", err)
	}
	createDB := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", cfg.DBName)
	if _, err := rootDB.ExecContext(ctx, createDB); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}
