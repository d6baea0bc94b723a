// Package chain starts the next invocation of a run lineage without waiting
// for it to finish.
package chain

import (
	"context"

	"feedsweep/internal/ingest"
)

// Invoker runs one invocation. *ingest.Controller implements it.
type Invoker interface {
	Invoke(ctx context.Context, c ingest.Cursor) (ingest.Result, error)
}

// message is the payload carried between invocations.
type message struct {
	RunID  string `json:"runId"`
	Cursor int    `json:"cursor"`
}

func (m message) toCursor() ingest.Cursor {
	return ingest.Cursor{RunID: m.RunID, Index: m.Cursor}
}
