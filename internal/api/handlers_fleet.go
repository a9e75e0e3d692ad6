package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scanorch/scanorch/internal/registry"
)

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pools": s.registry.ListPools()})
}

func (s *Server) handleListScanners(w http.ResponseWriter, r *http.Request) {
	pools := s.registry.ListPools()
	out := make(map[string][]registry.InstanceStatus, len(pools))
	for _, pool := range pools {
		instances, err := s.registry.ListInstances(pool)
		if err != nil {
			writeError(w, tagNotFound(err, registry.ErrUnknownPool))
			return
		}
		out[pool] = instances
	}
	writeJSON(w, http.StatusOK, map[string]any{"scanners": out})
}

func (s *Server) handleGetPoolStatus(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	if pool == "" {
		pool = s.registry.GetDefaultPool()
	}
	status, err := s.registry.GetPoolStatus(pool)
	if err != nil {
		writeError(w, tagNotFound(err, registry.ErrUnknownPool))
		return
	}

	breakerStates := s.breakers.States()
	instanceBreakers := make(map[string]string, len(status.Instances))
	for _, inst := range status.Instances {
		key := pool + ":" + inst.InstanceID
		if state, ok := breakerStates[key]; ok {
			instanceBreakers[key] = state.String()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool":            status.Pool,
		"total_instances": status.TotalInstances,
		"total_active":    status.TotalActive,
		"instances":       status.Instances,
		"circuit_breakers": instanceBreakers,
	})
}

func (s *Server) handleGetQueueStatus(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	if pool == "" {
		pool = s.registry.GetDefaultPool()
	}
	if _, err := s.registry.GetPoolStatus(pool); err != nil {
		writeError(w, tagNotFound(err, registry.ErrUnknownPool))
		return
	}

	depth, err := s.queue.Depth(r.Context(), pool)
	if err != nil {
		writeError(w, err)
		return
	}
	dlqDepth, err := s.queue.DLQDepth(r.Context(), pool)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool":      pool,
		"depth":     depth,
		"dlq_depth": dlqDepth,
	})
}
