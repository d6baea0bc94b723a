package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"feedsweep/internal/ingest"
)

// Anthropic summarizes with the Anthropic messages API.
type Anthropic struct {
	client *anthropic.Client
	opts   Options
	logger *slog.Logger
}

// NewAnthropic builds a summarizer. If the api key is empty, calls fail with
// a permanent error.
func NewAnthropic(opts Options, logger *slog.Logger) *Anthropic {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	a := &Anthropic{opts: opts, logger: logger.With("component", "anthropic")}
	if opts.APIKey == "" {
		return a
	}
	// Retries are owned by the pipeline.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(reqOpts...)
	a.client = &client
	return a
}

// Ready indicates whether the summarizer is usable.
func (a *Anthropic) Ready() bool {
	return a.client != nil
}

// Summarize asks Claude for a short summary of the article.
func (a *Anthropic) Summarize(ctx context.Context, title, content string) (string, error) {
	if !a.Ready() {
		return "", ingest.Permanent(errDisabled)
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.opts.Model),
		MaxTokens: int64(a.opts.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: a.opts.Prompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(title, content))),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && isPermanentStatus(apiErr.StatusCode) {
			return "", ingest.Permanent(fmt.Errorf("anthropic: %w", err))
		}
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	summary := cleanupResponse(text)
	if summary == "" {
		a.logger.Warn("empty summary", "title", title)
		return "", errors.New("empty summary returned by Claude")
	}
	return summary, nil
}
