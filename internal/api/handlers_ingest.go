package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dgallion1/ragingest/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

const maxRequestBytes = 10 << 20

type ingestRequest struct {
	SourceDir     string `json:"source_dir"`
	BatchSize     int    `json:"batch_size"`
	QueueCapacity int    `json:"queue_capacity"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.BatchSize < 0 || req.QueueCapacity < 0 {
		jsonError(w, "batch_size and queue_capacity must not be negative", http.StatusBadRequest)
		return
	}

	run, err := s.orchestrator.Submit(pipeline.RunRequest{
		SourceDir:     req.SourceDir,
		BatchSize:     req.BatchSize,
		QueueCapacity: req.QueueCapacity,
	})
	switch {
	case errors.Is(err, pipeline.ErrPoolFull):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case errors.Is(err, pipeline.ErrInvalidConfig):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	snap := run.Snapshot()
	setRunID(r, snap.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":   snap.ID,
		"status":   snap.Status,
		"poll_url": fmt.Sprintf("/api/ingest/%s/status", snap.ID),
	})
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run := s.orchestrator.GetRun(runID)
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
