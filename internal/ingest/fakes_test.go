package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memCatalog struct {
	mu      sync.Mutex
	sources []Source
}

func newMemCatalog(sources ...Source) *memCatalog {
	return &memCatalog{sources: sources}
}

func (c *memCatalog) ListSources(context.Context) ([]Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Source, len(c.sources))
	copy(out, c.sources)
	return out, nil
}

func (c *memCatalog) GetSource(_ context.Context, id int64) (Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sources {
		if s.ID == id {
			return s, nil
		}
	}
	return Source{}, ErrSourceNotFound
}

func (c *memCatalog) MarkFetched(_ context.Context, id int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.sources {
		if c.sources[i].ID == id {
			t := at
			c.sources[i].LastFetchAt = &t
			return nil
		}
	}
	return ErrSourceNotFound
}

func (c *memCatalog) lastFetch(id int64) *time.Time {
	s, _ := c.GetSource(context.Background(), id)
	return s.LastFetchAt
}

// memStore enforces link uniqueness on insert like the SQL store does.
type memStore struct {
	mu        sync.Mutex
	articles  map[string]Article
	existsErr error
	insertErr map[string]error
	// existsHook runs before the existence check; used to force races.
	existsHook func(link string)
}

func newMemStore() *memStore {
	return &memStore{articles: map[string]Article{}, insertErr: map[string]error{}}
}

func (s *memStore) Exists(_ context.Context, link string) (bool, error) {
	if s.existsHook != nil {
		s.existsHook(link)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.articles[link]
	return ok, nil
}

func (s *memStore) Insert(_ context.Context, a Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertErr[a.Link]; err != nil {
		return err
	}
	if _, ok := s.articles[a.Link]; ok {
		return ErrDuplicate
	}
	s.articles[a.Link] = a
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.articles)
}

func (s *memStore) get(link string) (Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[link]
	return a, ok
}

type fetchFunc func(ctx context.Context, src Source) ([]RawItem, error)

func (f fetchFunc) Fetch(ctx context.Context, src Source) ([]RawItem, error) { return f(ctx, src) }

// staticFetcher serves fixed items per source URL; URLs listed in fail
// return their error.
type staticFetcher struct {
	items map[string][]RawItem
	fail  map[string]error
}

func (f *staticFetcher) Fetch(_ context.Context, src Source) ([]RawItem, error) {
	if err := f.fail[src.URL]; err != nil {
		return nil, err
	}
	return f.items[src.URL], nil
}

type summarizeFunc func(ctx context.Context, title, content string) (string, error)

func (f summarizeFunc) Summarize(ctx context.Context, title, content string) (string, error) {
	return f(ctx, title, content)
}

func echoSummarizer() Summarizer {
	return summarizeFunc(func(_ context.Context, title, _ string) (string, error) {
		return "summary of " + title, nil
	})
}

type memCheckpoints struct {
	mu   sync.Mutex
	runs map[string]*Checkpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{runs: map[string]*Checkpoint{}}
}

func (m *memCheckpoints) CreateRun(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[cp.RunID]; ok {
		return fmt.Errorf("run %s exists", cp.RunID)
	}
	c := cp
	c.SourceIDs = append([]int64(nil), cp.SourceIDs...)
	m.runs[cp.RunID] = &c
	return nil
}

func (m *memCheckpoints) LoadRun(_ context.Context, runID string) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.runs[runID]
	if !ok {
		return Checkpoint{}, ErrRunNotFound
	}
	return *cp, nil
}

func (m *memCheckpoints) Claim(_ context.Context, runID string, cursor int, now, leaseExpiredBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if cp.Status == StatusDone || cp.NextCursor != cursor {
		return ErrAlreadyClaimed
	}
	if cp.Status == StatusRunning && !cp.UpdatedAt.Before(leaseExpiredBefore) {
		return ErrAlreadyClaimed
	}
	cp.Status = StatusRunning
	cp.UpdatedAt = now
	return nil
}

func (m *memCheckpoints) Advance(_ context.Context, runID string, cursor int, o Outcome, failed bool, status Status, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if cp.NextCursor != cursor {
		return errors.New("cursor moved")
	}
	cp.NextCursor = cursor + 1
	cp.SourcesProcessed++
	cp.ItemsStored += o.Stored
	cp.Errors += o.Failed
	if failed {
		cp.Errors++
	}
	cp.Status = status
	cp.UpdatedAt = now
	return nil
}

func (m *memCheckpoints) ListStalled(_ context.Context, before time.Time) ([]Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Checkpoint
	for _, cp := range m.runs {
		if cp.Status != StatusDone && cp.UpdatedAt.Before(before) {
			out = append(out, *cp)
		}
	}
	return out, nil
}

// recordingChainer remembers handoffs without starting anything.
type recordingChainer struct {
	mu       sync.Mutex
	handoffs []Cursor
	err      error
}

func (r *recordingChainer) Handoff(_ context.Context, c Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handoffs = append(r.handoffs, c)
	return r.err
}

func (r *recordingChainer) pop() (Cursor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handoffs) == 0 {
		return Cursor{}, false
	}
	c := r.handoffs[0]
	r.handoffs = r.handoffs[1:]
	return c, true
}

type recordingReporter struct {
	mu   sync.Mutex
	runs []Checkpoint
}

func (r *recordingReporter) RunFinished(_ context.Context, cp Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, cp)
}
