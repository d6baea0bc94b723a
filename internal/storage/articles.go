package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"feedsweep/internal/ingest"
)

// StoredArticle is an article joined with its source name.
type StoredArticle struct {
	ingest.Article
	SourceName string `json:"sourceName"`
}

type articleRow struct {
	SourceID    int64     `db:"source_id"`
	SourceName  string    `db:"source_name"`
	Title       string    `db:"title"`
	Link        string    `db:"link"`
	Description string    `db:"description"`
	PubDate     time.Time `db:"pub_date"`
	Author      string    `db:"author"`
	Summary     string    `db:"ai_summary"`
	CreatedAt   time.Time `db:"created_at"`
}

// linkHash keys the unique index; links are unbounded TEXT.
func linkHash(link string) string {
	sum := sha256.Sum256([]byte(link))
	return hex.EncodeToString(sum[:])
}

// Exists reports whether an article with this link has been stored.
func (s *Store) Exists(ctx context.Context, link string) (bool, error) {
	query, args, err := s.sb.Select("1").From(articlesTable).Where(sq.Eq{"link_hash": linkHash(link)}).Limit(1).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return true, nil
}

// Insert stores a new article. A second insert of the same link returns
// ingest.ErrDuplicate.
func (s *Store) Insert(ctx context.Context, a ingest.Article) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.sb.Insert(articlesTable).
		Columns("source_id", "title", "link", "link_hash", "description", "pub_date", "author", "ai_summary", "created_at").
		Values(a.SourceID, a.Title, a.Link, linkHash(a.Link), a.Description, ts(a.PublishedAt), a.Author, a.Summary, ts(created)).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return ingest.ErrDuplicate
		}
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

// ListRecent returns the most recently published articles.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]StoredArticle, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := s.sb.Select(
		"a.source_id", "COALESCE(s.name, '') AS source_name", "a.title", "a.link",
		"a.description", "a.pub_date", "a.author", "a.ai_summary", "a.created_at",
	).
		From(articlesTable + " a").
		LeftJoin(sourcesTable + " s ON s.id = a.source_id").
		OrderBy("a.pub_date DESC", "a.id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []articleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	items := make([]StoredArticle, 0, len(rows))
	for _, r := range rows {
		items = append(items, StoredArticle{
			Article: ingest.Article{
				SourceID:    r.SourceID,
				Title:       r.Title,
				Link:        r.Link,
				Description: r.Description,
				PublishedAt: r.PubDate.UTC(),
				Author:      r.Author,
				Summary:     r.Summary,
				CreatedAt:   r.CreatedAt.UTC(),
			},
			SourceName: r.SourceName,
		})
	}
	return items, nil
}
