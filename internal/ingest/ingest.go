// Package ingest implements the feed ingestion pipeline: per-source processing,
// deduplication, summary retries and the run controller that sweeps the source
// catalog across chained invocations.
package ingest

import (
	"context"
	"errors"
	"time"
)

// Kind selects how a source is fetched.
type Kind string

const (
	KindFeed   Kind = "feed"
	KindSocial Kind = "social"
)

const (
	defaultAuthor = "unknown"
	defaultTitle  = "Untitled"
)

var (
	// ErrDuplicate is returned by an ArticleStore when the link is already stored.
	ErrDuplicate = errors.New("article already stored")
	// ErrSourceNotFound is returned when a source id is unknown to the catalog.
	ErrSourceNotFound = errors.New("source not found")
	// ErrRunNotFound is returned when a run id has no checkpoint.
	ErrRunNotFound = errors.New("run not found")
	// ErrCursorOutOfRange is returned for a cursor outside the snapshot.
	ErrCursorOutOfRange = errors.New("cursor out of range")
	// ErrAlreadyClaimed is returned when another invocation owns the cursor.
	ErrAlreadyClaimed = errors.New("cursor already claimed")
)

// Source is a catalog entry.
type Source struct {
	ID          int64
	Name        string
	Category    string
	Kind        Kind
	URL         string
	LastFetchAt *time.Time
}

// RawItem is a fetched, not yet persisted feed entry.
type RawItem struct {
	Title       string
	Link        string
	Content     string
	PublishedAt time.Time
	Author      string
}

// Article is a stored item with its summary.
type Article struct {
	SourceID    int64     `json:"sourceId"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"publishedAt"`
	Author      string    `json:"author"`
	Summary     string    `json:"summary"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Cursor is the only state threaded between chained invocations.
type Cursor struct {
	RunID string `json:"runId"`
	Index int    `json:"cursor"`
}

// Status of a run lineage checkpoint.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusChaining Status = "chaining"
	StatusDone     Status = "done"
)

// Checkpoint is the durable record of a run lineage.
type Checkpoint struct {
	RunID            string
	SourceIDs        []int64
	NextCursor       int
	Status           Status
	SourcesProcessed int
	ItemsStored      int
	Errors           int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Catalog lists and updates sources.
type Catalog interface {
	ListSources(ctx context.Context) ([]Source, error)
	GetSource(ctx context.Context, id int64) (Source, error)
	MarkFetched(ctx context.Context, id int64, at time.Time) error
}

// Fetcher returns the items currently published by a source.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) ([]RawItem, error)
}

// Summarizer produces a short summary of an item.
type Summarizer interface {
	Summarize(ctx context.Context, title, content string) (string, error)
}

// ArticleStore persists articles keyed by link.
type ArticleStore interface {
	Exists(ctx context.Context, link string) (bool, error)
	Insert(ctx context.Context, a Article) error
}

// CheckpointStore keeps run lineages durable between invocations.
type CheckpointStore interface {
	CreateRun(ctx context.Context, cp Checkpoint) error
	LoadRun(ctx context.Context, runID string) (Checkpoint, error)
	// Claim takes the lease on cursor for runID. It returns ErrAlreadyClaimed
	// when the cursor was already advanced or is leased by a live invocation.
	Claim(ctx context.Context, runID string, cursor int, now, leaseExpiredBefore time.Time) error
	// Advance moves the cursor past cursor and adds the counters.
	Advance(ctx context.Context, runID string, cursor int, o Outcome, failed bool, status Status, now time.Time) error
	ListStalled(ctx context.Context, before time.Time) ([]Checkpoint, error)
}

// Chainer starts a fresh invocation continuing at the given cursor. It must
// not wait for that invocation to finish.
type Chainer interface {
	Handoff(ctx context.Context, c Cursor) error
}

// Reporter is told when a run lineage completes.
type Reporter interface {
	RunFinished(ctx context.Context, cp Checkpoint)
}
