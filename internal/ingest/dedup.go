package ingest

import (
	"context"
	"strings"
)

// Deduplicator decides whether an item has been stored before. The check is
// advisory; the store's unique key on link is what prevents duplicates.
type Deduplicator struct {
	store ArticleStore
}

// NewDeduplicator wraps the article store existence check.
func NewDeduplicator(store ArticleStore) *Deduplicator {
	return &Deduplicator{store: store}
}

// IsNew reports whether link has no stored article. Items without a link are
// never new.
func (d *Deduplicator) IsNew(ctx context.Context, link string) (bool, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return false, nil
	}
	exists, err := d.store.Exists(ctx, link)
	if err != nil {
		return false, err
	}
	return !exists, nil
}
