package chain

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"feedsweep/internal/ingest"
)

// ErrClosed is returned by Handoff once the chainer is closed.
var ErrClosed = errors.New("chainer closed")

// Local hands off to a goroutine in the same process.
type Local struct {
	inv     Invoker
	timeout time.Duration
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocal creates an in-process chainer.
func NewLocal(inv Invoker, timeout time.Duration, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Local{
		inv:     inv,
		timeout: timeout,
		logger:  logger.With("component", "chain", "mode", "local"),
		base:    base,
		cancel:  cancel,
	}
}

// Handoff starts the next invocation detached from ctx's cancellation. The
// invocation is still cancelled by Close. After Close it returns ErrClosed and
// the lineage is left for the watchdog.
func (l *Local) Handoff(ctx context.Context, c ingest.Cursor) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.wg.Add(1)
	l.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithCancel(detached)
		defer cancel()
		stop := context.AfterFunc(l.base, cancel)
		defer stop()
		if l.timeout > 0 {
			var cancelTimeout context.CancelFunc
			ctx, cancelTimeout = context.WithTimeout(ctx, l.timeout)
			defer cancelTimeout()
		}
		if _, err := l.inv.Invoke(ctx, c); err != nil {
			l.logger.Error("chained invocation failed", "run_id", c.RunID, "cursor", c.Index, "error", err)
		}
	}()
	return nil
}

// Close refuses further handoffs and cancels running invocations. It does
// not wait; call Wait for that.
func (l *Local) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
}

// Wait blocks until every started invocation, including ones they chained,
// has returned.
func (l *Local) Wait() {
	l.wg.Wait()
}
