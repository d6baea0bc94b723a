package analysis

import (
	"fmt"
	"log/slog"

	"feedsweep/internal/config"
	"feedsweep/internal/ingest"
)

// New builds the configured provider behind the rate limiter.
func New(cfg config.Config, logger *slog.Logger) (ingest.Summarizer, error) {
	var (
		next  ingest.Summarizer
		ready bool
	)
	switch cfg.SummaryProvider {
	case "openai":
		c := NewOpenAI(Options{
			APIKey:    cfg.OpenAIKey,
			Model:     cfg.OpenAIModel,
			BaseURL:   cfg.OpenAIBase,
			Prompt:    cfg.SummaryPrompt,
			MaxTokens: cfg.SummaryMaxTokens,
		}, logger)
		next, ready = c, c.Ready()
	case "anthropic":
		c := NewAnthropic(Options{
			APIKey:    cfg.AnthropicKey,
			Model:     cfg.AnthropicModel,
			Prompt:    cfg.SummaryPrompt,
			MaxTokens: cfg.SummaryMaxTokens,
		}, logger)
		next, ready = c, c.Ready()
	default:
		return nil, fmt.Errorf("unsupported summary provider %q", cfg.SummaryProvider)
	}
	if !ready && logger != nil {
		logger.Warn("summarizer has no api key, items will not be stored", "provider", cfg.SummaryProvider)
	}
	return NewLimited(next, cfg.SummaryRatePerSecond, cfg.BatchSize), nil
}
