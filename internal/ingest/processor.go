package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize bounds concurrent summarization calls per source.
const DefaultBatchSize = 5

// Outcome counts what happened to the items of one source.
type Outcome struct {
	Fetched int
	Stored  int
	Skipped int
	Failed  int
}

// ProcessorDeps wires the collaborators of a Processor.
type ProcessorDeps struct {
	Catalog    Catalog
	Fetcher    Fetcher
	Summarizer Summarizer
	Store      ArticleStore
	Logger     *slog.Logger
	BatchSize  int
	Backoff    Backoff
	Now        func() time.Time
}

// Processor fetches, dedupes, summarizes and stores the items of one source.
type Processor struct {
	catalog    Catalog
	fetcher    Fetcher
	summarizer Summarizer
	store      ArticleStore
	dedup      *Deduplicator
	logger     *slog.Logger
	batchSize  int
	backoff    Backoff
	now        func() time.Time
}

// NewProcessor builds a Processor, filling in defaults.
func NewProcessor(deps ProcessorDeps) *Processor {
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if deps.Backoff.MaxAttempts == 0 {
		deps.Backoff = DefaultBackoff
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Processor{
		catalog:    deps.Catalog,
		fetcher:    deps.Fetcher,
		summarizer: deps.Summarizer,
		store:      deps.Store,
		dedup:      NewDeduplicator(deps.Store),
		logger:     deps.Logger,
		batchSize:  deps.BatchSize,
		backoff:    deps.Backoff,
		now:        deps.Now,
	}
}

// Process handles one source end to end. A fetch failure is returned as an
// error with a zero Outcome and leaves last_fetch_at untouched; item failures
// are only counted.
func (p *Processor) Process(ctx context.Context, src Source) (Outcome, error) {
	fetchedAt := p.now()
	items, err := p.fetcher.Fetch(ctx, src)
	if err != nil {
		p.logger.Warn("fetch failed", "source", src.Name, "url", src.URL, "error", err)
		return Outcome{}, fmt.Errorf("fetch %s: %w", src.Name, err)
	}

	var stored, skipped, failed atomic.Int64
	for i, batch := range lo.Chunk(items, p.batchSize) {
		var g errgroup.Group
		for _, item := range batch {
			g.Go(func() error {
				switch p.processItem(ctx, src, normalize(item, fetchedAt)) {
				case itemStored:
					stored.Add(1)
				case itemSkipped:
					skipped.Add(1)
				default:
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
		p.logger.Debug("batch done", "source", src.Name, "batch", i, "size", len(batch))
	}

	if err := p.catalog.MarkFetched(ctx, src.ID, p.now()); err != nil {
		p.logger.Error("mark fetched failed", "source", src.Name, "error", err)
	}

	out := Outcome{
		Fetched: len(items),
		Stored:  int(stored.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
	p.logger.Info("source processed",
		"source", src.Name,
		"fetched", out.Fetched,
		"stored", out.Stored,
		"skipped", out.Skipped,
		"failed", out.Failed,
	)
	return out, nil
}

type itemResult int

const (
	itemStored itemResult = iota
	itemSkipped
	itemFailed
)

func (p *Processor) processItem(ctx context.Context, src Source, item RawItem) itemResult {
	isNew, err := p.dedup.IsNew(ctx, item.Link)
	if err != nil {
		p.logger.Warn("existence check failed", "link", item.Link, "error", err)
		return itemFailed
	}
	if !isNew {
		return itemSkipped
	}

	summary, err := Retry(ctx, p.backoff, func(ctx context.Context) (string, error) {
		return p.summarizer.Summarize(ctx, item.Title, item.Content)
	})
	if err != nil {
		p.logger.Warn("summarize failed", "link", item.Link, "error", err)
		return itemFailed
	}

	err = p.store.Insert(ctx, Article{
		SourceID:    src.ID,
		Title:       item.Title,
		Link:        item.Link,
		Description: item.Content,
		PublishedAt: item.PublishedAt,
		Author:      item.Author,
		Summary:     summary,
		CreatedAt:   p.now(),
	})
	if errors.Is(err, ErrDuplicate) {
		p.logger.Debug("duplicate insert ignored", "link", item.Link)
		return itemSkipped
	}
	if err != nil {
		p.logger.Warn("store article failed", "link", item.Link, "error", err)
		return itemFailed
	}
	return itemStored
}

func normalize(item RawItem, fetchedAt time.Time) RawItem {
	item.Link = strings.TrimSpace(item.Link)
	if strings.TrimSpace(item.Title) == "" {
		item.Title = defaultTitle
	}
	if strings.TrimSpace(item.Author) == "" {
		item.Author = defaultAuthor
	}
	if item.PublishedAt.IsZero() {
		item.PublishedAt = fetchedAt
	}
	return item
}
