// Package analysis produces short article summaries with an LLM provider.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"feedsweep/internal/ingest"
)

const (
	defaultPrompt    = "Summarize the following article in at most 200 words. Reply with the summary only."
	defaultMaxTokens = 300
	maxInputRunes    = 6000
)

var errDisabled = errors.New("summarizer disabled: missing api key")

// Options configures a provider client.
type Options struct {
	APIKey    string
	Model     string
	BaseURL   string
	Prompt    string
	MaxTokens int
}

func (o Options) withDefaults() Options {
	if o.Prompt == "" {
		o.Prompt = defaultPrompt
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
	return o
}

// OpenAI summarizes with an OpenAI compatible chat completion API.
type OpenAI struct {
	client    *openai.Client
	opts      Options
	logger    *slog.Logger
	activated bool
}

// NewOpenAI builds a summarizer. If the api key is empty, calls fail with a
// permanent error.
func NewOpenAI(opts Options, logger *slog.Logger) *OpenAI {
	opts = opts.withDefaults()
	var cli *openai.Client
	activated := opts.APIKey != ""
	if activated {
		cfg := openai.DefaultConfig(opts.APIKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
		cli = openai.NewClientWithConfig(cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		client:    cli,
		opts:      opts,
		logger:    logger.With("component", "openai"),
		activated: activated,
	}
}

// Ready indicates whether the summarizer is usable.
func (c *OpenAI) Ready() bool {
	return c.activated && c.client != nil
}

// Summarize asks the model for a short summary of the article.
func (c *OpenAI) Summarize(ctx context.Context, title, content string) (string, error) {
	if !c.Ready() {
		return "", ingest.Permanent(errDisabled)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.opts.Prompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(title, content)},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && isPermanentStatus(apiErr.HTTPStatusCode) {
			return "", ingest.Permanent(fmt.Errorf("openai: %w", err))
		}
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned by OpenAI")
	}

	summary := cleanupResponse(resp.Choices[0].Message.Content)
	if summary == "" {
		c.logger.Warn("empty summary", "title", title)
		return "", errors.New("empty summary returned by OpenAI")
	}
	return summary, nil
}

func userPrompt(title, content string) string {
	text := trimText(PlainText(content), maxInputRunes)
	if text == "" {
		return fmt.Sprintf("Title: %s", title)
	}
	return fmt.Sprintf("Title: %s\n\n%s", title, text)
}

// isPermanentStatus reports provider responses a retry cannot fix.
func isPermanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func trimText(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}

// cleanupResponse removes code fences and surrounding whitespace.
func cleanupResponse(s string) string {
	c := strings.TrimSpace(s)
	if strings.HasPrefix(c, "```") {
		if idx := strings.Index(c, "\n"); idx != -1 {
			c = c[idx+1:]
		} else {
			c = strings.TrimPrefix(c, "```")
		}
		c = strings.TrimSuffix(strings.TrimSpace(c), "```")
		c = strings.TrimSpace(c)
	}
	return c
}
