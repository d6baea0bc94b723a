// Package notify reports finished runs to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"feedsweep/internal/ingest"
)

// Webhook posts a text message when a run lineage finishes. It speaks the
// {"msgtype":"text","text":{"content":...}} format used by WeCom and
// compatible bots.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a reporter. An empty url disables it.
func NewWebhook(url string, client *http.Client, logger *slog.Logger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{url: url, client: client, logger: logger.With("component", "notify")}
}

// RunFinished sends the run totals. Failures are logged only.
func (w *Webhook) RunFinished(ctx context.Context, cp ingest.Checkpoint) {
	if w.url == "" {
		return
	}
	if err := w.send(ctx, summaryText(cp)); err != nil {
		w.logger.Error("send webhook failed", "run_id", cp.RunID, "error", err)
	}
}

func summaryText(cp ingest.Checkpoint) string {
	elapsed := cp.UpdatedAt.Sub(cp.CreatedAt).Round(time.Second)
	return fmt.Sprintf("Feed sweep %s finished\nSources: %d\nNew articles: %d\nErrors: %d\nDuration: %s",
		cp.RunID, cp.SourcesProcessed, cp.ItemsStored, cp.Errors, elapsed)
}

func (w *Webhook) send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text": map[string]string{
			"content": content,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %s", resp.Status)
	}
	return nil
}
