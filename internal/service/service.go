// Package service exposes the ingestion pipeline over HTTP and runs its
// scheduled jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"feedsweep/internal/config"
	"feedsweep/internal/ingest"
	"feedsweep/internal/scheduler"
	"feedsweep/internal/storage"
)

const (
	jobFullRun  = "full-run"
	jobWatchdog = "watchdog"
)

// Runner drives run lineages. *ingest.Controller implements it.
type Runner interface {
	Invoke(ctx context.Context, c ingest.Cursor) (ingest.Result, error)
	ProcessSource(ctx context.Context, id int64) (ingest.Result, error)
	ResumeStalled(ctx context.Context) (int, error)
}

// ArticleLister lists stored articles. *storage.Store implements it.
type ArticleLister interface {
	ListRecent(ctx context.Context, limit int) ([]storage.StoredArticle, error)
}

// Service ties together the HTTP trigger, the article listing and the cron jobs.
type Service struct {
	runner    Runner
	articles  ArticleLister
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	cfg       config.Config
}

// NewService creates a Service instance. sched may be nil to disable cron jobs.
func NewService(runner Runner, articles ArticleLister, sched *scheduler.Scheduler, logger *slog.Logger, cfg config.Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runner:    runner,
		articles:  articles,
		scheduler: sched,
		logger:    logger.With("component", "service"),
		cfg:       cfg,
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.BindAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts the scheduler and the HTTP server on ln, and shuts both down
// when ctx is cancelled.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.startJobs(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("stopping service, context cancelled")
	case serveErr = <-errCh:
		s.logger.Error("http server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if s.scheduler != nil {
		select {
		case <-s.scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			s.logger.Warn("scheduled jobs still running at shutdown")
		}
	}
	return serveErr
}

func (s *Service) startJobs(ctx context.Context) error {
	if s.scheduler == nil {
		return nil
	}
	if s.cfg.Schedule != "" {
		if err := s.scheduler.AddJob(jobFullRun, s.cfg.Schedule, s.fullRun); err != nil {
			return err
		}
	}
	if s.cfg.WatchdogSchedule != "" {
		if err := s.scheduler.AddJob(jobWatchdog, s.cfg.WatchdogSchedule, s.resumeStalled); err != nil {
			return err
		}
	}
	s.scheduler.Start()

	if s.cfg.RunOnStart {
		go func() {
			if err := s.scheduler.RunNow(jobFullRun, s.fullRun); err != nil && ctx.Err() == nil {
				s.logger.Error("initial run failed", "error", err)
			}
		}()
	}
	return nil
}

func (s *Service) fullRun(ctx context.Context) error {
	res, err := s.runner.Invoke(ctx, ingest.Cursor{})
	if err != nil {
		return err
	}
	s.logger.Info("scheduled run started", "run_id", res.RunID, "sources", res.TotalSources, "state", res.State)
	return nil
}

func (s *Service) resumeStalled(ctx context.Context) error {
	n, err := s.runner.ResumeStalled(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("stalled runs resumed", "count", n)
	}
	return nil
}
