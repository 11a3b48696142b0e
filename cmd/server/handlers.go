package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ahasler/recall"
	"github.com/ahasler/recall/ingest"
	"github.com/ahasler/recall/retrieve"
)

type handler struct {
	core *recall.Core
}

func newHandler(c *recall.Core) *handler {
	return &handler{core: c}
}

// POST /ask
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question string `json:"question"`
		TopK     int    `json:"top_k,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.TopK < 0 || req.TopK > 100 {
		req.TopK = 0 // use default
	}

	start := time.Now()
	answer, err := h.core.Ask(ctx, req.Question, req.TopK)
	if err != nil {
		if errors.Is(err, retrieve.ErrNoResults) {
			writeError(w, http.StatusNotFound, "no matching documents")
			return
		}
		writeError(w, http.StatusInternalServerError, "ask failed")
		slog.Error("ask error", "question", req.Question, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer":     answer.Answer,
		"citations":  answer.Citations,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

// POST /ingest
// Accepts one ingest payload and queues it for the workers.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var pl ingest.Payload
	if err := json.NewDecoder(r.Body).Decode(&pl); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.core.EnqueueDocument(r.Context(), &pl); err != nil {
		if errors.Is(err, ingest.ErrInvalidPayload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		slog.Error("ingest enqueue error", "doc_id", pl.Document.DocID, "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"doc_id": pl.Document.DocID,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := h.core.Health(ctx)
	status := http.StatusOK
	out := make(map[string]string, len(checks))
	for name, err := range checks {
		if err != nil {
			status = http.StatusServiceUnavailable
			out[name] = err.Error()
		} else {
			out[name] = "ok"
		}
	}
	writeJSON(w, status, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
