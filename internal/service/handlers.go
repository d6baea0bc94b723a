package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedsweep/internal/ingest"
	"feedsweep/internal/storage"
)

const maxArticlesLimit = 500

type updateResponse struct {
	Message string `json:"message"`
	ingest.Result
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Handler returns the HTTP handler with middleware applied.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/api/update-rss", s.updateHandler)
	mux.HandleFunc("/api/articles", s.articlesHandler)

	return Chain(mux,
		OTel("feedsweep"),
		Logger(s.logger),
		Recover(s.logger),
	)
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// updateHandler runs one invocation. The invocation is detached from the
// request so a caller that stops waiting cannot abort a source midway.
func (s *Service) updateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: fmt.Sprintf("Method %s Not Allowed", r.Method)})
		return
	}

	q := r.URL.Query()
	ctx := context.WithoutCancel(r.Context())
	if s.cfg.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.InvocationTimeout)
		defer cancel()
	}

	if raw := strings.TrimSpace(q.Get("sourceId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid sourceId", Details: raw})
			return
		}
		res, err := s.runner.ProcessSource(ctx, id)
		s.writeResult(w, res, err)
		return
	}

	cursor := ingest.Cursor{RunID: strings.TrimSpace(q.Get("runId"))}
	if raw := strings.TrimSpace(q.Get("startIndex")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid startIndex", Details: raw})
			return
		}
		cursor.Index = idx
	}
	if cursor.RunID != "" {
		if _, err := uuid.Parse(cursor.RunID); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid runId", Details: cursor.RunID})
			return
		}
	}

	res, err := s.runner.Invoke(ctx, cursor)
	s.writeResult(w, res, err)
}

func (s *Service) writeResult(w http.ResponseWriter, res ingest.Result, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ingest.ErrCursorOutOfRange):
			status = http.StatusBadRequest
		case errors.Is(err, ingest.ErrRunNotFound), errors.Is(err, ingest.ErrSourceNotFound):
			status = http.StatusNotFound
		default:
			s.logger.Error("update failed", "error", err)
		}
		s.writeJSON(w, status, errorResponse{Error: "Failed to update RSS feeds", Details: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, updateResponse{Message: messageFor(res.State), Result: res})
}

func messageFor(state ingest.State) string {
	switch state {
	case ingest.StateChained:
		return "Source processed, continuing with the next source"
	case ingest.StateSkipped:
		return "Cursor already handled, nothing to do"
	default:
		return "RSS update completed successfully"
	}
}

func (s *Service) articlesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: fmt.Sprintf("Method %s Not Allowed", r.Method)})
		return
	}
	limit := s.cfg.MaxArticles
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit", Details: raw})
			return
		}
		limit = min(n, maxArticlesLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	items, err := s.articles.ListRecent(ctx, limit)
	if err != nil {
		s.logger.Error("list articles failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch articles"})
		return
	}
	if items == nil {
		items = []storage.StoredArticle{}
	}
	s.writeJSON(w, http.StatusOK, struct {
		Count int                     `json:"count"`
		Items []storage.StoredArticle `json:"items"`
	}{
		Count: len(items),
		Items: items,
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}
