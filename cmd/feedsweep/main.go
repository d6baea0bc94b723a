package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"feedsweep/internal/analysis"
	"feedsweep/internal/chain"
	"feedsweep/internal/config"
	"feedsweep/internal/ingest"
	"feedsweep/internal/logging"
	"feedsweep/internal/notify"
	"feedsweep/internal/rss"
	"feedsweep/internal/scheduler"
	"feedsweep/internal/service"
	"feedsweep/internal/social"
	"feedsweep/internal/storage"
)

const chainQueue = "feedsweep"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.TraceContext{})

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init %s store: %w", cfg.DBDriver, err)
	}
	defer store.Close()

	if cfg.SourcesFile != "" {
		sources, err := storage.LoadSeedFile(cfg.SourcesFile)
		if err != nil {
			return err
		}
		added, err := store.SeedSources(ctx, sources)
		if err != nil {
			return fmt.Errorf("seed sources: %w", err)
		}
		logger.Info("sources seeded", "file", cfg.SourcesFile, "added", added)
	}

	summarizer, err := analysis.New(cfg, logger)
	if err != nil {
		return err
	}

	fetchers := ingest.KindRouter{
		ingest.KindFeed:   rss.NewFetcher(nil, logger),
		ingest.KindSocial: social.NewFetcher(social.Options{Headless: cfg.ChromeHeadless, CookieFile: cfg.CookieFile}, logger),
	}

	processor := ingest.NewProcessor(ingest.ProcessorDeps{
		Catalog:    store,
		Fetcher:    fetchers,
		Summarizer: summarizer,
		Store:      store,
		Logger:     logger.With("component", "processor"),
		BatchSize:  cfg.BatchSize,
		Backoff: ingest.Backoff{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryInitialDelay,
			MaxDelay:     cfg.RetryMaxDelay,
		},
	})

	ctrl := ingest.NewController(ingest.ControllerDeps{
		Catalog:     store,
		Checkpoints: store,
		Processor:   processor,
		Reporter:    notify.NewWebhook(cfg.WebhookURL, nil, logger),
		Logger:      logger.With("component", "controller"),
		Config: ingest.ControllerConfig{
			SourcesPerInvocation: cfg.SourcesPerInvocation,
			InvocationBudget:     cfg.InvocationBudget,
			StallAfter:           cfg.StallAfter,
		},
	})

	switch cfg.ChainMode {
	case "http":
		h := chain.NewHTTP(cfg.ChainBaseURL, cfg.InvocationTimeout+30*time.Second, logger)
		defer h.Wait()
		ctrl.SetChainer(h)
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("feedsweep"))
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
		}
		defer nc.Drain()
		sub, err := chain.Subscribe(nc, cfg.ChainSubject, chainQueue, ctrl, cfg.InvocationTimeout, logger)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		ctrl.SetChainer(chain.NewNATS(nc, cfg.ChainSubject))
	case "local":
		l := chain.NewLocal(ctrl, cfg.InvocationTimeout, logger)
		defer func() {
			l.Close()
			l.Wait()
		}()
		ctrl.SetChainer(l)
	}

	sched, err := scheduler.New(cfg.Timezone, cfg.InvocationTimeout, logger)
	if err != nil {
		return err
	}

	logger.Info("feedsweep starting",
		"addr", cfg.BindAddr,
		"db", cfg.DBDriver,
		"provider", cfg.SummaryProvider,
		"chain", cfg.ChainMode,
		"batch_size", cfg.BatchSize,
		"sources_per_invocation", cfg.SourcesPerInvocation,
		"schedule", cfg.Schedule,
	)
	return service.NewService(ctrl, store, sched, logger, cfg).Run(ctx)
}
