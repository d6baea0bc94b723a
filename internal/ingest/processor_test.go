package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

func newTestProcessor(cat Catalog, f Fetcher, s Summarizer, store ArticleStore) *Processor {
	return NewProcessor(ProcessorDeps{
		Catalog:    cat,
		Fetcher:    f,
		Summarizer: s,
		Store:      store,
		Logger:     discardLogger(),
		Backoff:    Backoff{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Now:        func() time.Time { return fixedNow },
	})
}

func items(links ...string) []RawItem {
	out := make([]RawItem, 0, len(links))
	for _, l := range links {
		out = append(out, RawItem{Title: "t-" + l, Link: l, Content: "body " + l})
	}
	return out
}

func TestProcessStoresOnlyNewItems(t *testing.T) {
	t.Parallel()

	src := Source{ID: 1, Name: "a", URL: "https://a.example/feed"}
	cat := newMemCatalog(src)
	store := newMemStore()
	store.articles["https://a.example/1"] = Article{Link: "https://a.example/1"}
	store.articles["https://a.example/2"] = Article{Link: "https://a.example/2"}

	links := []string{"https://a.example/1", "https://a.example/2", "https://a.example/3", "https://a.example/4", "https://a.example/5", "https://a.example/6", "https://a.example/7"}
	f := &staticFetcher{items: map[string][]RawItem{src.URL: items(links...)}}

	out, err := newTestProcessor(cat, f, echoSummarizer(), store).Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Fetched != 7 || out.Stored != 5 || out.Skipped != 2 || out.Failed != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if store.count() != 7 {
		t.Fatalf("expected 7 stored articles, got %d", store.count())
	}
	if got := cat.lastFetch(1); got == nil || !got.Equal(fixedNow) {
		t.Fatalf("last_fetch_at not updated: %v", got)
	}
}

func TestProcessUpdatesLastFetchWhenNothingNew(t *testing.T) {
	t.Parallel()

	src := Source{ID: 2, Name: "b", URL: "https://b.example/feed"}
	cat := newMemCatalog(src)
	store := newMemStore()
	store.articles["https://b.example/1"] = Article{}
	f := &staticFetcher{items: map[string][]RawItem{src.URL: items("https://b.example/1")}}

	out, err := newTestProcessor(cat, f, echoSummarizer(), store).Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Stored != 0 {
		t.Fatalf("expected nothing stored, got %d", out.Stored)
	}
	if cat.lastFetch(2) == nil {
		t.Fatal("last_fetch_at must be updated even with zero new items")
	}
}

func TestProcessFetchFailureLeavesLastFetch(t *testing.T) {
	t.Parallel()

	src := Source{ID: 3, Name: "c", URL: "https://c.example/feed"}
	cat := newMemCatalog(src)
	f := &staticFetcher{fail: map[string]error{src.URL: errors.New("502 bad gateway")}}

	out, err := newTestProcessor(cat, f, echoSummarizer(), newMemStore()).Process(context.Background(), src)
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if out != (Outcome{}) {
		t.Fatalf("expected zero outcome, got %+v", out)
	}
	if cat.lastFetch(3) != nil {
		t.Fatal("last_fetch_at must stay unchanged after a fetch failure")
	}
}

func TestProcessItemFailuresDoNotAbortSource(t *testing.T) {
	t.Parallel()

	src := Source{ID: 4, Name: "d", URL: "https://d.example/feed"}
	cat := newMemCatalog(src)
	store := newMemStore()
	store.insertErr["https://d.example/2"] = errors.New("disk full")

	f := &staticFetcher{items: map[string][]RawItem{src.URL: append(items("https://d.example/1", "https://d.example/2", "https://d.example/3"), RawItem{Title: "no link"})}}
	sum := summarizeFunc(func(_ context.Context, title, _ string) (string, error) {
		if title == "t-https://d.example/3" {
			return "", errors.New("model overloaded")
		}
		return "ok", nil
	})

	out, err := newTestProcessor(cat, f, sum, store).Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Stored != 1 || out.Failed != 2 || out.Skipped != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if cat.lastFetch(4) == nil {
		t.Fatal("last_fetch_at must be updated after partial failure")
	}
}

func TestProcessBoundsConcurrencyToBatch(t *testing.T) {
	t.Parallel()

	src := Source{ID: 5, Name: "e", URL: "https://e.example/feed"}
	links := make([]string, 12)
	for i := range links {
		links[i] = fmt.Sprintf("https://e.example/%d", i)
	}
	f := &staticFetcher{items: map[string][]RawItem{src.URL: items(links...)}}

	var inFlight, peak atomic.Int64
	sum := summarizeFunc(func(context.Context, string, string) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "s", nil
	})

	p := NewProcessor(ProcessorDeps{
		Catalog:    newMemCatalog(src),
		Fetcher:    f,
		Summarizer: sum,
		Store:      newMemStore(),
		Logger:     discardLogger(),
		BatchSize:  4,
	})
	out, err := p.Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Stored != 12 {
		t.Fatalf("expected 12 stored, got %d", out.Stored)
	}
	if peak.Load() > 4 {
		t.Fatalf("concurrency exceeded batch size: %d", peak.Load())
	}
}

func TestProcessAppliesItemDefaults(t *testing.T) {
	t.Parallel()

	src := Source{ID: 6, Name: "f", URL: "https://f.example/feed"}
	store := newMemStore()
	f := &staticFetcher{items: map[string][]RawItem{src.URL: {{Link: " https://f.example/1 ", Content: "x"}}}}

	if _, err := newTestProcessor(newMemCatalog(src), f, echoSummarizer(), store).Process(context.Background(), src); err != nil {
		t.Fatalf("Process: %v", err)
	}
	a, ok := store.get("https://f.example/1")
	if !ok {
		t.Fatal("article not stored under trimmed link")
	}
	if a.Author != "unknown" || a.Title != "Untitled" || !a.PublishedAt.Equal(fixedNow) {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if a.SourceID != 6 || a.Summary != "summary of Untitled" {
		t.Fatalf("unexpected article %+v", a)
	}
}

func TestRetryIsTransparentToStoredArticle(t *testing.T) {
	t.Parallel()

	src := Source{ID: 7, Name: "g", URL: "https://g.example/feed"}
	feed := &staticFetcher{items: map[string][]RawItem{src.URL: items("https://g.example/1")}}

	direct := newMemStore()
	if _, err := newTestProcessor(newMemCatalog(src), feed, echoSummarizer(), direct).Process(context.Background(), src); err != nil {
		t.Fatalf("Process: %v", err)
	}

	var calls atomic.Int64
	flaky := summarizeFunc(func(ctx context.Context, title, content string) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("429 too many requests")
		}
		return echoSummarizer().Summarize(ctx, title, content)
	})
	retried := newMemStore()
	if _, err := newTestProcessor(newMemCatalog(src), feed, flaky, retried).Process(context.Background(), src); err != nil {
		t.Fatalf("Process: %v", err)
	}

	a, _ := direct.get("https://g.example/1")
	b, ok := retried.get("https://g.example/1")
	if !ok || a != b {
		t.Fatalf("retried article differs:\n%+v\n%+v", a, b)
	}
}

func TestConcurrentSameLinkStoredOnce(t *testing.T) {
	t.Parallel()

	link := "https://shared.example/story"
	a := Source{ID: 10, Name: "a", URL: "https://a.example/feed"}
	b := Source{ID: 11, Name: "b", URL: "https://b.example/feed"}
	cat := newMemCatalog(a, b)
	store := newMemStore()

	// Both invocations pass the advisory check before either inserts.
	var barrier sync.WaitGroup
	barrier.Add(2)
	store.existsHook = func(string) {
		barrier.Done()
		barrier.Wait()
	}

	f := &staticFetcher{items: map[string][]RawItem{a.URL: items(link), b.URL: items(link)}}
	p := newTestProcessor(cat, f, echoSummarizer(), store)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i, src := range []Source{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], _ = p.Process(context.Background(), src)
		}()
	}
	wg.Wait()

	if store.count() != 1 {
		t.Fatalf("expected exactly one article, got %d", store.count())
	}
	if outcomes[0].Stored+outcomes[1].Stored != 1 {
		t.Fatalf("expected one stored across invocations, got %+v", outcomes)
	}
	if outcomes[0].Failed+outcomes[1].Failed != 0 {
		t.Fatalf("duplicate insert must be benign, got %+v", outcomes)
	}
}

func TestKindRouter(t *testing.T) {
	t.Parallel()

	feed := fetchFunc(func(context.Context, Source) ([]RawItem, error) { return items("feed"), nil })
	social := fetchFunc(func(context.Context, Source) ([]RawItem, error) { return items("social"), nil })
	r := KindRouter{KindFeed: feed, KindSocial: social}

	got, err := r.Fetch(context.Background(), Source{Kind: KindSocial})
	if err != nil || got[0].Link != "social" {
		t.Fatalf("social dispatch: %v %v", got, err)
	}
	got, err = r.Fetch(context.Background(), Source{})
	if err != nil || got[0].Link != "feed" {
		t.Fatalf("empty kind should default to feed: %v %v", got, err)
	}
	if _, err := r.Fetch(context.Background(), Source{Kind: "podcast"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDeduplicator(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.articles["https://x.example/1"] = Article{}
	d := NewDeduplicator(store)
	ctx := context.Background()

	if ok, _ := d.IsNew(ctx, ""); ok {
		t.Fatal("empty link must not be new")
	}
	if ok, _ := d.IsNew(ctx, "   "); ok {
		t.Fatal("blank link must not be new")
	}
	if ok, _ := d.IsNew(ctx, "https://x.example/1"); ok {
		t.Fatal("stored link must not be new")
	}
	if ok, _ := d.IsNew(ctx, "https://x.example/2"); !ok {
		t.Fatal("unknown link must be new")
	}

	store.existsErr = errors.New("db down")
	if ok, err := d.IsNew(ctx, "https://x.example/3"); ok || err == nil {
		t.Fatal("store error must not report new")
	}
}
