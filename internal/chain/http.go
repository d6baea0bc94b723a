package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"feedsweep/internal/ingest"
)

// HTTP hands off by calling the trigger endpoint of the service itself.
type HTTP struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewHTTP creates an HTTP chainer posting to baseURL + "/api/update-rss".
func NewHTTP(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTP {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: timeout,
		logger:  logger.With("component", "chain", "mode", "http"),
	}
}

// Handoff sends the request in the background and returns immediately.
// Only request construction errors are reported.
func (h *HTTP) Handoff(ctx context.Context, c ingest.Cursor) error {
	if h.baseURL == "" {
		return errors.New("chain base url is not configured")
	}
	q := url.Values{}
	q.Set("startIndex", strconv.Itoa(c.Index))
	q.Set("runId", c.RunID)
	target := h.baseURL + "/api/update-rss?" + q.Encode()

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("build chain request: %w", err)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()
		resp, err := h.client.Do(req)
		if err != nil {
			h.logger.Error("chain request failed", "run_id", c.RunID, "cursor", c.Index, "error", err)
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			h.logger.Error("chain request rejected", "run_id", c.RunID, "cursor", c.Index, "status", resp.StatusCode)
		}
	}()
	return nil
}

// Wait blocks until in-flight handoffs finish.
func (h *HTTP) Wait() {
	h.wg.Wait()
}
