package ingest

import (
	"context"
	"fmt"
)

// KindRouter dispatches Fetch to the fetcher registered for the source kind.
type KindRouter map[Kind]Fetcher

// Fetch implements Fetcher.
func (r KindRouter) Fetch(ctx context.Context, src Source) ([]RawItem, error) {
	kind := src.Kind
	if kind == "" {
		kind = KindFeed
	}
	f, ok := r[kind]
	if !ok || f == nil {
		return nil, fmt.Errorf("no fetcher for source kind %q", kind)
	}
	return f.Fetch(ctx, src)
}
