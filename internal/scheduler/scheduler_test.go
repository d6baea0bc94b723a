package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New("UTC", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsBadTimezone(t *testing.T) {
	if _, err := New("Mars/Olympus", time.Second, nil); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.AddJob("bad", "not a schedule", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for bad schedule")
	}
}

func TestJobRunsOnSchedule(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	done := make(chan struct{}, 1)
	err := s.AddJob("tick", "@every 1s", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context has no deadline")
		}
		runs.Add(1)
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
	if runs.Load() < 1 {
		t.Fatal("run not counted")
	}
}

func TestListAndRemoveJobs(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }
	if err := s.AddJob("full-run", "0 0 * * *", noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("watchdog", "@every 5m", noop); err != nil {
		t.Fatal(err)
	}
	// Replacing keeps one entry per name.
	if err := s.AddJob("watchdog", "@every 10m", noop); err != nil {
		t.Fatal(err)
	}

	jobs := s.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %+v", jobs)
	}
	for _, j := range jobs {
		if j.Name == "watchdog" && j.Schedule != "@every 10m" {
			t.Fatalf("watchdog not replaced: %+v", j)
		}
	}

	s.RemoveJob("watchdog")
	if jobs := s.ListJobs(); len(jobs) != 1 || jobs[0].Name != "full-run" {
		t.Fatalf("unexpected jobs after remove: %+v", jobs)
	}
}

func TestRunNowReturnsJobError(t *testing.T) {
	s := newTestScheduler(t)
	want := errors.New("boom")
	if err := s.RunNow("x", func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected job error, got %v", err)
	}
}
