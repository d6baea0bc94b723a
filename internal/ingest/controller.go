package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// State is what an invocation reports back to its caller.
type State string

const (
	StateChained State = "chained"
	StateDone    State = "done"
	StateSkipped State = "skipped"
)

// Result is the progress report of one invocation.
type Result struct {
	RunID            string `json:"runId,omitempty"`
	ProcessedSource  string `json:"processedSource"`
	CurrentIndex     int    `json:"currentIndex"`
	TotalSources     int    `json:"totalSources"`
	RemainingSources int    `json:"remainingSources"`
	NewItems         int    `json:"newItems"`
	State            State  `json:"state"`
}

// SourceProcessor processes one source. *Processor implements it.
type SourceProcessor interface {
	Process(ctx context.Context, src Source) (Outcome, error)
}

// ControllerConfig tunes how much work one invocation does.
type ControllerConfig struct {
	// SourcesPerInvocation caps sources handled before chaining. Defaults to 1.
	SourcesPerInvocation int
	// InvocationBudget stops in-process continuation once exceeded. Zero disables it.
	InvocationBudget time.Duration
	// StallAfter is both the cursor lease and the age after which a lineage is resumed.
	StallAfter time.Duration
}

// ControllerDeps wires a Controller.
type ControllerDeps struct {
	Catalog     Catalog
	Checkpoints CheckpointStore
	Processor   SourceProcessor
	Chainer     Chainer
	Reporter    Reporter
	Logger      *slog.Logger
	Config      ControllerConfig
	Now         func() time.Time
	NewRunID    func() string
}

// Controller drives a run lineage over the catalog snapshot, one cursor at a
// time, handing off to a fresh invocation when its budget is used up.
type Controller struct {
	catalog     Catalog
	checkpoints CheckpointStore
	processor   SourceProcessor
	chainer     Chainer
	reporter    Reporter
	logger      *slog.Logger
	cfg         ControllerConfig
	now         func() time.Time
	newRunID    func() string
}

// NewController builds a Controller, filling in defaults.
func NewController(deps ControllerDeps) *Controller {
	if deps.Config.SourcesPerInvocation <= 0 {
		deps.Config.SourcesPerInvocation = 1
	}
	if deps.Config.StallAfter <= 0 {
		deps.Config.StallAfter = 10 * time.Minute
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = func() string { return uuid.NewString() }
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{
		catalog:     deps.Catalog,
		checkpoints: deps.Checkpoints,
		processor:   deps.Processor,
		chainer:     deps.Chainer,
		reporter:    deps.Reporter,
		logger:      deps.Logger,
		cfg:         deps.Config,
		now:         deps.Now,
		newRunID:    deps.NewRunID,
	}
}

// SetChainer replaces the chainer. Used when the chainer itself needs the
// controller, as the in-process one does.
func (c *Controller) SetChainer(ch Chainer) {
	c.chainer = ch
}

// Invoke runs one invocation of a lineage starting at req.Index. An empty
// RunID starts a new lineage from a fresh catalog snapshot.
func (c *Controller) Invoke(ctx context.Context, req Cursor) (Result, error) {
	cp, err := c.loadRun(ctx, req)
	if err != nil {
		return Result{}, err
	}

	total := len(cp.SourceIDs)
	res := Result{RunID: cp.RunID, TotalSources: total, CurrentIndex: req.Index}
	if req.Index == total {
		res.State = StateDone
		if req.RunID == "" {
			// Created already done; nothing else will report it.
			c.finish(ctx, cp.RunID)
		}
		return res, nil
	}

	started := c.now()
	processed := 0
	log := c.logger.With("run_id", cp.RunID)

	for cursor := req.Index; ; {
		now := c.now()
		err := c.checkpoints.Claim(ctx, cp.RunID, cursor, now, now.Add(-c.cfg.StallAfter))
		if errors.Is(err, ErrAlreadyClaimed) {
			log.Info("cursor already claimed", "cursor", cursor)
			if processed == 0 {
				res.State = StateSkipped
				res.RemainingSources = total - cursor
			} else {
				res.State = StateChained
			}
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("claim cursor %d: %w", cursor, err)
		}

		name, outcome, failed := c.processAt(ctx, cp.SourceIDs[cursor])

		status := StatusChaining
		if cursor+1 == total {
			status = StatusDone
		}
		if err := c.checkpoints.Advance(ctx, cp.RunID, cursor, outcome, failed, status, c.now()); err != nil {
			return res, fmt.Errorf("advance cursor %d: %w", cursor, err)
		}

		processed++
		res.ProcessedSource = name
		res.CurrentIndex = cursor
		res.NewItems += outcome.Stored
		res.RemainingSources = total - cursor - 1
		cursor++

		if cursor == total {
			res.State = StateDone
			c.finish(ctx, cp.RunID)
			return res, nil
		}

		if c.mayContinue(ctx, processed, started) {
			continue
		}

		next := Cursor{RunID: cp.RunID, Index: cursor}
		if c.chainer == nil {
			log.Warn("no chainer configured, lineage waits for watchdog", "cursor", cursor)
		} else if err := c.chainer.Handoff(ctx, next); err != nil {
			log.Error("chain handoff failed", "cursor", cursor, "error", err)
		} else {
			log.Debug("chained", "cursor", cursor)
		}
		res.State = StateChained
		return res, nil
	}
}

// ProcessSource processes a single source outside of any lineage.
func (c *Controller) ProcessSource(ctx context.Context, id int64) (Result, error) {
	src, err := c.catalog.GetSource(ctx, id)
	if err != nil {
		return Result{}, err
	}
	outcome, err := c.processor.Process(ctx, src)
	if err != nil {
		c.logger.Warn("single source failed", "source", src.Name, "error", err)
	}
	return Result{
		ProcessedSource: src.Name,
		TotalSources:    1,
		NewItems:        outcome.Stored,
		State:           StateDone,
	}, nil
}

// ResumeStalled re-issues handoffs for lineages whose checkpoint has not moved
// for longer than StallAfter. It returns how many were resumed.
func (c *Controller) ResumeStalled(ctx context.Context) (int, error) {
	if c.chainer == nil {
		return 0, nil
	}
	stalled, err := c.checkpoints.ListStalled(ctx, c.now().Add(-c.cfg.StallAfter))
	if err != nil {
		return 0, fmt.Errorf("list stalled runs: %w", err)
	}
	resumed := 0
	for _, cp := range stalled {
		next := Cursor{RunID: cp.RunID, Index: cp.NextCursor}
		if err := c.chainer.Handoff(ctx, next); err != nil {
			c.logger.Error("resume handoff failed", "run_id", cp.RunID, "cursor", cp.NextCursor, "error", err)
			continue
		}
		c.logger.Info("resumed stalled run", "run_id", cp.RunID, "cursor", cp.NextCursor)
		resumed++
	}
	return resumed, nil
}

func (c *Controller) loadRun(ctx context.Context, req Cursor) (Checkpoint, error) {
	if req.RunID != "" {
		cp, err := c.checkpoints.LoadRun(ctx, req.RunID)
		if err != nil {
			return Checkpoint{}, err
		}
		if req.Index < 0 || req.Index > len(cp.SourceIDs) {
			return Checkpoint{}, fmt.Errorf("%w: %d of %d", ErrCursorOutOfRange, req.Index, len(cp.SourceIDs))
		}
		return cp, nil
	}

	sources, err := c.catalog.ListSources(ctx)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("list sources: %w", err)
	}
	if req.Index < 0 || req.Index > len(sources) {
		return Checkpoint{}, fmt.Errorf("%w: %d of %d", ErrCursorOutOfRange, req.Index, len(sources))
	}

	ids := make([]int64, len(sources))
	for i, s := range sources {
		ids[i] = s.ID
	}
	now := c.now()
	cp := Checkpoint{
		RunID:      c.newRunID(),
		SourceIDs:  ids,
		NextCursor: req.Index,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Index == len(ids) {
		cp.Status = StatusDone
	}
	if err := c.checkpoints.CreateRun(ctx, cp); err != nil {
		return Checkpoint{}, fmt.Errorf("create run: %w", err)
	}
	c.logger.Info("run started", "run_id", cp.RunID, "sources", len(ids), "cursor", req.Index)
	return cp, nil
}

func (c *Controller) processAt(ctx context.Context, id int64) (string, Outcome, bool) {
	src, err := c.catalog.GetSource(ctx, id)
	if err != nil {
		c.logger.Warn("snapshot source unavailable", "source_id", id, "error", err)
		return fmt.Sprintf("source %d", id), Outcome{}, true
	}
	outcome, err := c.processor.Process(ctx, src)
	return src.Name, outcome, err != nil
}

func (c *Controller) mayContinue(ctx context.Context, processed int, started time.Time) bool {
	if ctx.Err() != nil || processed >= c.cfg.SourcesPerInvocation {
		return false
	}
	return c.cfg.InvocationBudget <= 0 || c.now().Sub(started) < c.cfg.InvocationBudget
}

func (c *Controller) finish(ctx context.Context, runID string) {
	cp, err := c.checkpoints.LoadRun(ctx, runID)
	if err != nil {
		c.logger.Error("load finished run", "run_id", runID, "error", err)
		return
	}
	c.logger.Info("run finished",
		"run_id", runID,
		"sources", cp.SourcesProcessed,
		"stored", cp.ItemsStored,
		"errors", cp.Errors,
	)
	if c.reporter != nil {
		c.reporter.RunFinished(ctx, cp)
	}
}
