package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"feedsweep/internal/ingest"
)

var sourceColumns = []string{"id", "name", "category", "kind", "url", "last_fetch_at"}

type sourceRow struct {
	ID          int64        `db:"id"`
	Name        string       `db:"name"`
	Category    string       `db:"category"`
	Kind        string       `db:"kind"`
	URL         string       `db:"url"`
	LastFetchAt sql.NullTime `db:"last_fetch_at"`
}

func (r sourceRow) toSource() ingest.Source {
	src := ingest.Source{
		ID:       r.ID,
		Name:     r.Name,
		Category: r.Category,
		Kind:     ingest.Kind(r.Kind),
		URL:      r.URL,
	}
	if r.LastFetchAt.Valid {
		t := r.LastFetchAt.Time.UTC()
		src.LastFetchAt = &t
	}
	return src
}

// ListSources returns the catalog ordered by id.
func (s *Store) ListSources(ctx context.Context) ([]ingest.Source, error) {
	query, args, err := s.sb.Select(sourceColumns...).From(sourcesTable).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	var rows []sourceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	out := make([]ingest.Source, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSource())
	}
	return out, nil
}

// GetSource returns one source or ingest.ErrSourceNotFound.
func (s *Store) GetSource(ctx context.Context, id int64) (ingest.Source, error) {
	query, args, err := s.sb.Select(sourceColumns...).From(sourcesTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return ingest.Source{}, err
	}
	var row sourceRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ingest.Source{}, fmt.Errorf("source %d: %w", id, ingest.ErrSourceNotFound)
		}
		return ingest.Source{}, fmt.Errorf("get source %d: %w", id, err)
	}
	return row.toSource(), nil
}

// MarkFetched records the last successful fetch time of a source.
func (s *Store) MarkFetched(ctx context.Context, id int64, at time.Time) error {
	res, err := s.sb.Update(sourcesTable).
		Set("last_fetch_at", ts(at)).
		Where(sq.Eq{"id": id}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("mark fetched %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("source %d: %w", id, ingest.ErrSourceNotFound)
	}
	return nil
}

// AddSource inserts a source and returns its id.
func (s *Store) AddSource(ctx context.Context, src ingest.Source) (int64, error) {
	if strings.TrimSpace(src.URL) == "" {
		return 0, errors.New("source url is required")
	}
	kind := src.Kind
	if kind == "" {
		kind = ingest.KindFeed
	}
	insert := s.sb.Insert(sourcesTable).
		Columns("name", "category", "kind", "url", "created_at").
		Values(src.Name, src.Category, string(kind), src.URL, ts(time.Now()))

	if s.dialect.returning {
		var id int64
		err := insert.Suffix("RETURNING id").RunWith(s.db).QueryRowContext(ctx).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("add source: %w", err)
		}
		return id, nil
	}
	res, err := insert.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("add source: %w", err)
	}
	return res.LastInsertId()
}

// SeedSources adds every source whose URL is not yet in the catalog and
// returns how many were added.
func (s *Store) SeedSources(ctx context.Context, sources []ingest.Source) (int, error) {
	added := 0
	for _, src := range sources {
		query, args, err := s.sb.Select("COUNT(*)").From(sourcesTable).Where(sq.Eq{"url": src.URL}).ToSql()
		if err != nil {
			return added, err
		}
		var n int
		if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
			return added, fmt.Errorf("check source %s: %w", src.URL, err)
		}
		if n > 0 {
			continue
		}
		if _, err := s.AddSource(ctx, src); err != nil {
			return added, err
		}
		added++
	}
	if added > 0 {
		s.logger.Info("sources seeded", "added", added)
	}
	return added, nil
}
