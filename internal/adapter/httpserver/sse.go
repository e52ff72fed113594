package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/univac-1/risk-analyzer/internal/adapter/observability"
	"github.com/univac-1/risk-analyzer/internal/domain"
)

// ssePollInterval is how often an event stream re-reads the snapshot.
const ssePollInterval = time.Second

// EventsHandler streams progress snapshots over SSE. The current snapshot
// is emitted immediately, then on every structural change. A terminal
// snapshot is followed by one complete event and the stream closes.
func (s *Server) EventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		snap, err := s.Jobs.Snapshot(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, r, fmt.Errorf("op=httpserver.Events: streaming unsupported: %w", domain.ErrInternal), nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		observability.SSEConnections.Inc()
		defer observability.SSEConnections.Dec()

		var lastSent []byte
		var lastOverall float64
		emit := func(snap domain.ProgressSnapshot) bool {
			// A shared snapshot can be read mid-regression; never let
			// overall move backward on one connection unless the job
			// failed.
			if snap.Overall < lastOverall && snap.Status != domain.JobFailed {
				snap.Overall = lastOverall
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				LoggerFrom(r).Warn("sse: snapshot marshal failed", slog.Any("error", err))
				return false
			}
			if bytes.Equal(payload, lastSent) {
				return false
			}
			lastSent = payload
			lastOverall = snap.Overall
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
			flusher.Flush()
			return true
		}

		finish := func(status domain.JobStatus) {
			fmt.Fprintf(w, "event: complete\ndata: {\"status\":%q}\n\n", status)
			flusher.Flush()
		}

		emit(snap)
		if snap.Status.Terminal() {
			finish(snap.Status)
			return
		}

		ticker := time.NewTicker(ssePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}

			snap, err := s.Jobs.Snapshot(r.Context(), jobID)
			if err != nil {
				LoggerFrom(r).Warn("sse: snapshot read failed",
					slog.String("job_id", jobID), slog.Any("error", err))
				continue
			}
			emit(snap)
			if snap.Status.Terminal() {
				finish(snap.Status)
				return
			}
		}
	}
}
