package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scanorch/scanorch/internal/queue"
)

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	entries, err := s.queue.ListDLQ(r.Context(), pool, 0, -1)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleRetryDLQ(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	taskID := chi.URLParam(r, "taskID")
	if err := s.queue.RetryDLQ(r.Context(), pool, taskID); err != nil {
		writeError(w, tagNotFound(err, queue.ErrEntryNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// handleResetBreaker clears the named breaker's failure state and forces it
// closed, matching scanorchctl's reset-breaker subcommand.
func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	instanceKey := chi.URLParam(r, "instanceKey")
	s.breakers.Get(instanceKey).Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
