package rss

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedsweep/internal/ingest"
)

const userAgent = "feedsweep/1.0 (+https://github.com/feedsweep)"

// Fetcher pulls and parses RSS, Atom and JSON feeds.
type Fetcher struct {
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewFetcher creates a feed fetcher. A nil client uses a 30s timeout client.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &Fetcher{
		parser: parser,
		logger: logger.With("component", "rss"),
	}
}

// Fetch pulls the source feed and returns its items in feed order.
func (f *Fetcher) Fetch(ctx context.Context, src ingest.Source) ([]ingest.RawItem, error) {
	feed, err := f.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.URL, err)
	}

	items := make([]ingest.RawItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		link := pickLink(entry)
		if link == "" {
			f.logger.Debug("skipping item without link", "source", src.Name, "title", entry.Title)
			continue
		}
		items = append(items, ingest.RawItem{
			Title:       strings.TrimSpace(entry.Title),
			Link:        link,
			Content:     pickContent(entry),
			PublishedAt: pickPublished(entry),
			Author:      pickAuthor(entry),
		})
	}
	return items, nil
}

func pickLink(entry *gofeed.Item) string {
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	// Some feeds only carry a permalink GUID.
	guid := strings.TrimSpace(entry.GUID)
	if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
		return guid
	}
	return ""
}

func pickContent(entry *gofeed.Item) string {
	if entry.Content != "" {
		return entry.Content
	}
	return entry.Description
}

func pickPublished(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed
	}
	if entry.UpdatedParsed != nil {
		return *entry.UpdatedParsed
	}
	return time.Time{}
}

func pickAuthor(entry *gofeed.Item) string {
	if entry.Author != nil && entry.Author.Name != "" {
		return entry.Author.Name
	}
	for _, a := range entry.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}
