package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/inkpad/inkpad"
	"github.com/inkpad/inkpad/internal/lookup"
	"github.com/inkpad/inkpad/runner"
)

const defaultSearchLimit = 10

// handleSearch serves GET /api/documents?q=...&limit=... from the local
// lookup index. The editor's link picker queries this while the user types.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.resolver.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("document search failed", zap.String("query", query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if records == nil {
		records = []lookup.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handlePut serves POST /api/documents, indexing or re-titling a document.
// A title change on an existing document propagates to every tracked
// document's wiki links.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var rec lookup.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if rec.DocID == "" || rec.Title == "" {
		writeError(w, http.StatusBadRequest, "docId and docTitle are required")
		return
	}

	prev, err := s.store.Get(r.Context(), rec.DocID)
	switch {
	case err == nil && prev.Title != rec.Title:
		if err := s.resolver.Rename(r.Context(), rec.DocID, rec.Title); err != nil {
			s.logger.Error("rename failed", zap.String("docId", rec.DocID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "rename failed")
			return
		}
	case err == nil:
		// Unchanged, nothing to do.
	case errors.Is(err, lookup.ErrNotFound):
		if err := s.store.Put(r.Context(), rec); err != nil {
			s.logger.Error("index update failed", zap.String("docId", rec.DocID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "index update failed")
			return
		}
	default:
		s.logger.Error("index lookup failed", zap.String("docId", rec.DocID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "index lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleRun serves POST /api/run, the non-streaming execution path. Wasm
// blocks execute locally in the sandbox; everything else runs against the
// backend through the retry and circuit-breaker wrappers, so a dead backend
// fails fast instead of queueing timeouts.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var req runner.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "correlationId is required")
		return
	}

	exec := s.exec
	if req.Language == "wasm" && s.local != nil {
		exec = s.local
	}

	res, err := exec.Run(r.Context(), req)
	if err != nil {
		s.logger.Warn("run failed",
			zap.String("runner", exec.Name()),
			zap.String("block", req.BlockID),
			zap.String("runId", req.RunID),
			zap.Error(err))
		if errors.Is(err, runner.ErrCircuitOpen) {
			writeError(w, http.StatusServiceUnavailable, "execution backend unavailable")
			return
		}
		writeError(w, http.StatusBadGateway, "execution failed")
		return
	}

	out := map[string]string{
		"correlationId": res.RunID,
		"status":        "success",
	}
	if res.Status == inkpad.RunError {
		out["status"] = "error"
		out["error"] = res.Message
	} else {
		out["output"] = res.Output
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
