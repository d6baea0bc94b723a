package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"feedsweep/internal/ingest"
)

var checkpointColumns = []string{
	"run_id", "source_ids", "next_cursor", "total", "status",
	"sources_processed", "items_stored", "error_count", "created_at", "updated_at",
}

type checkpointRow struct {
	RunID            string    `db:"run_id"`
	SourceIDs        string    `db:"source_ids"`
	NextCursor       int       `db:"next_cursor"`
	Total            int       `db:"total"`
	Status           string    `db:"status"`
	SourcesProcessed int       `db:"sources_processed"`
	ItemsStored      int       `db:"items_stored"`
	ErrorCount       int       `db:"error_count"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r checkpointRow) toCheckpoint() (ingest.Checkpoint, error) {
	var ids []int64
	if err := json.Unmarshal([]byte(r.SourceIDs), &ids); err != nil {
		return ingest.Checkpoint{}, fmt.Errorf("decode snapshot of run %s: %w", r.RunID, err)
	}
	return ingest.Checkpoint{
		RunID:            r.RunID,
		SourceIDs:        ids,
		NextCursor:       r.NextCursor,
		Status:           ingest.Status(r.Status),
		SourcesProcessed: r.SourcesProcessed,
		ItemsStored:      r.ItemsStored,
		Errors:           r.ErrorCount,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}, nil
}

// CreateRun stores a new run lineage with its source snapshot.
func (s *Store) CreateRun(ctx context.Context, cp ingest.Checkpoint) error {
	ids := cp.SourceIDs
	if ids == nil {
		ids = []int64{}
	}
	snapshot, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = s.sb.Insert(checkpointsTable).
		Columns(checkpointColumns...).
		Values(cp.RunID, string(snapshot), cp.NextCursor, len(ids), string(cp.Status),
			cp.SourcesProcessed, cp.ItemsStored, cp.Errors, ts(cp.CreatedAt), ts(cp.UpdatedAt)).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return fmt.Errorf("run %s already exists", cp.RunID)
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// LoadRun returns the checkpoint of a run or ingest.ErrRunNotFound.
func (s *Store) LoadRun(ctx context.Context, runID string) (ingest.Checkpoint, error) {
	query, args, err := s.sb.Select(checkpointColumns...).From(checkpointsTable).Where(sq.Eq{"run_id": runID}).ToSql()
	if err != nil {
		return ingest.Checkpoint{}, err
	}
	var row checkpointRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ingest.Checkpoint{}, fmt.Errorf("run %s: %w", runID, ingest.ErrRunNotFound)
		}
		return ingest.Checkpoint{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	return row.toCheckpoint()
}

// Claim takes the lease on cursor. The update only matches while the run is
// unfinished, still waiting at cursor, and not leased by a live invocation.
func (s *Store) Claim(ctx context.Context, runID string, cursor int, now, leaseExpiredBefore time.Time) error {
	res, err := s.sb.Update(checkpointsTable).
		Set("status", string(ingest.StatusRunning)).
		Set("updated_at", ts(now)).
		Where(sq.Eq{"run_id": runID, "next_cursor": cursor}).
		Where(sq.NotEq{"status": string(ingest.StatusDone)}).
		Where(sq.Or{
			sq.NotEq{"status": string(ingest.StatusRunning)},
			sq.Lt{"updated_at": ts(leaseExpiredBefore)},
		}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("claim %s@%d: %w", runID, cursor, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim %s@%d: %w", runID, cursor, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.LoadRun(ctx, runID); err != nil {
		return err
	}
	return ingest.ErrAlreadyClaimed
}

// Advance moves the run past cursor and adds the outcome to its counters.
func (s *Store) Advance(ctx context.Context, runID string, cursor int, o ingest.Outcome, failed bool, status ingest.Status, now time.Time) error {
	errs := o.Failed
	if failed {
		errs++
	}
	res, err := s.sb.Update(checkpointsTable).
		Set("next_cursor", sq.Expr("next_cursor + 1")).
		Set("sources_processed", sq.Expr("sources_processed + 1")).
		Set("items_stored", sq.Expr("items_stored + ?", o.Stored)).
		Set("error_count", sq.Expr("error_count + ?", errs)).
		Set("status", string(status)).
		Set("updated_at", ts(now)).
		Where(sq.Eq{"run_id": runID, "next_cursor": cursor}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("advance %s@%d: %w", runID, cursor, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("advance %s@%d: cursor already moved", runID, cursor)
	}
	return nil
}

// ListStalled returns unfinished runs not updated since before.
func (s *Store) ListStalled(ctx context.Context, before time.Time) ([]ingest.Checkpoint, error) {
	query, args, err := s.sb.Select(checkpointColumns...).
		From(checkpointsTable).
		Where(sq.Eq{"status": []string{
			string(ingest.StatusPending),
			string(ingest.StatusRunning),
			string(ingest.StatusChaining),
		}}).
		Where(sq.Lt{"updated_at": ts(before)}).
		OrderBy("updated_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []checkpointRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list stalled: %w", err)
	}
	out := make([]ingest.Checkpoint, 0, len(rows))
	for _, r := range rows {
		cp, err := r.toCheckpoint()
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint", "run_id", r.RunID, "error", err)
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}
