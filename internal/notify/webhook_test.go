package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedsweep/internal/ingest"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunFinishedPostsSummary(t *testing.T) {
	var payload struct {
		MsgType string `json:"msgtype"`
		Text    struct {
			Content string `json:"content"`
		} `json:"text"`
	}
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer srv.Close()

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	NewWebhook(srv.URL, nil, discard()).RunFinished(context.Background(), ingest.Checkpoint{
		RunID:            "run-1",
		SourcesProcessed: 3,
		ItemsStored:      7,
		Errors:           1,
		CreatedAt:        start,
		UpdatedAt:        start.Add(90 * time.Second),
	})

	if contentType != "application/json" {
		t.Fatalf("unexpected content type %q", contentType)
	}
	if payload.MsgType != "text" {
		t.Fatalf("unexpected msgtype %q", payload.MsgType)
	}
	for _, want := range []string{"run-1", "Sources: 3", "New articles: 7", "Errors: 1", "1m30s"} {
		if !strings.Contains(payload.Text.Content, want) {
			t.Fatalf("content %q missing %q", payload.Text.Content, want)
		}
	}
}

func TestDisabledWebhookSendsNothing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	NewWebhook("", srv.Client(), discard()).RunFinished(context.Background(), ingest.Checkpoint{RunID: "r"})
	if called {
		t.Fatal("disabled webhook should not send")
	}
}

func TestSendReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, nil, discard())
	if err := w.send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for 502")
	}
}
