package api

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scanorch/scanorch/internal/apierr"
	"github.com/scanorch/scanorch/internal/idempotency"
	"github.com/scanorch/scanorch/internal/lifecycle"
	"github.com/scanorch/scanorch/internal/metrics"
	"github.com/scanorch/scanorch/internal/queue"
	"github.com/scanorch/scanorch/internal/resultschema"
	"github.com/scanorch/scanorch/internal/taskstore"
)

type submitScanRequest struct {
	Targets           string                          `json:"targets"`
	Name              string                          `json:"name"`
	ScanType          taskstore.ScanType              `json:"scan_type"`
	Description       string                          `json:"description,omitempty"`
	Credentials       *taskstore.CredentialDescriptor `json:"credentials,omitempty"`
	IdempotencyKey    string                          `json:"idempotency_key,omitempty"`
	ScannerPool       string                          `json:"scanner_pool,omitempty"`
	ScannerInstanceID string                          `json:"scanner_instance_id,omitempty"`
}

type submitScanResponse struct {
	TaskID        string           `json:"task_id"`
	TraceID       string           `json:"trace_id"`
	Status        lifecycle.Status `json:"status"`
	QueuePosition int64            `json:"queue_position"`
	Idempotent    bool             `json:"idempotent"`
}

func (req submitScanRequest) canonicalParams() map[string]any {
	var creds map[string]any
	if req.Credentials != nil {
		creds = map[string]any{
			"username":          req.Credentials.Username,
			"password":          req.Credentials.Password,
			"escalation_method": req.Credentials.EscalationMethod,
		}
	}
	return map[string]any{
		"targets":             req.Targets,
		"name":                req.Name,
		"scan_type":           string(req.ScanType),
		"description":         req.Description,
		"credentials":         creds,
		"scanner_pool":        req.ScannerPool,
		"scanner_instance_id": req.ScannerInstanceID,
	}
}

func newTaskID(pool string) string {
	return fmt.Sprintf("%s:%d:%d", pool, time.Now().UnixNano(), rand.Int31())
}

func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var req submitScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: decode request body: %v", apierr.ErrBadRequest, err))
		return
	}
	if req.Targets == "" || req.Name == "" || req.ScanType == "" {
		writeError(w, fmt.Errorf("%w: targets, name, and scan_type are required", apierr.ErrBadRequest))
		return
	}
	switch req.ScanType {
	case taskstore.ScanTypeUntrusted, taskstore.ScanTypeAuthenticated, taskstore.ScanTypeAuthenticatedPrivileged:
	default:
		writeError(w, fmt.Errorf("%w: unknown scan_type %q", apierr.ErrBadRequest, req.ScanType))
		return
	}
	if err := req.Credentials.Validate(); err != nil {
		writeError(w, fmt.Errorf("%w: %v", apierr.ErrBadRequest, err))
		return
	}

	pool := req.ScannerPool
	if pool == "" {
		pool = s.registry.GetDefaultPool()
	}
	if pool == "" {
		writeError(w, fmt.Errorf("%w: no scanner pool configured", apierr.ErrBadRequest))
		return
	}

	taskID := newTaskID(pool)
	idempotent := false

	if req.IdempotencyKey != "" && s.idemp != nil {
		result, err := s.idemp.Reserve(r.Context(), req.IdempotencyKey, taskID, req.canonicalParams())
		if err != nil {
			writeError(w, err)
			return
		}
		switch result.Outcome {
		case idempotency.Conflict:
			metrics.ObserveIdempotency(result.Outcome)
			writeError(w, fmt.Errorf("%w: Idempotency key '%s' already used for task %s with different parameters", apierr.ErrConflict, req.IdempotencyKey, result.TaskID))
			return
		case idempotency.AlreadyExistsSame:
			metrics.ObserveIdempotency(result.Outcome)
			task, err := s.store.Get(result.TaskID)
			if err != nil {
				writeError(w, tagNotFound(err, taskstore.ErrTaskNotFound))
				return
			}
			writeJSON(w, http.StatusOK, submitScanResponse{
				TaskID:     task.TaskID,
				TraceID:    task.TraceID,
				Status:     task.Status,
				Idempotent: true,
			})
			return
		case idempotency.Stored:
			metrics.ObserveIdempotency(result.Outcome)
		}
	}

	payload := taskstore.Payload{
		Targets:     req.Targets,
		Name:        req.Name,
		Description: req.Description,
		Credentials: req.Credentials,
	}
	task := &taskstore.Task{
		TaskID:            taskID,
		TraceID:           newTaskID("trace"),
		ScanType:          req.ScanType,
		ScannerPool:       pool,
		ScannerType:       "nessus",
		ScannerInstanceID: req.ScannerInstanceID,
		Payload:           payload,
	}
	if err := s.store.Create(task); err != nil {
		writeError(w, err)
		return
	}

	depth, err := s.queue.Enqueue(r.Context(), queue.Entry{
		TaskID:            task.TaskID,
		TraceID:           task.TraceID,
		Pool:              pool,
		ScannerType:       task.ScannerType,
		ScanType:          string(task.ScanType),
		ScannerInstanceID: task.ScannerInstanceID,
		Payload:           payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordSubmitted(pool)

	writeJSON(w, http.StatusAccepted, submitScanResponse{
		TaskID:        task.TaskID,
		TraceID:       task.TraceID,
		Status:        task.Status,
		QueuePosition: depth,
		Idempotent:    idempotent,
	})
}

func (s *Server) handleGetScanStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.Get(taskID)
	if err != nil {
		writeError(w, tagNotFound(err, taskstore.ErrTaskNotFound))
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(task))
}

func (s *Server) handleGetScanResults(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.Get(taskID)
	if err != nil {
		writeError(w, tagNotFound(err, taskstore.ErrTaskNotFound))
		return
	}
	if task.Status != lifecycle.StatusCompleted {
		writeError(w, fmt.Errorf("%w: task %s has not reached completed (status=%s)", apierr.ErrConflict, taskID, task.Status))
		return
	}

	query := r.URL.Query()
	opts := resultschema.Options{
		SchemaProfile: query.Get("schema_profile"),
		Page:          atoiOrDefault(query.Get("page"), 0),
		PageSize:      atoiOrDefault(query.Get("page_size"), 0),
	}
	if fields := query["custom_fields"]; len(fields) > 0 {
		opts.CustomFields = fields
	}
	if opts.SchemaProfile != "" && opts.SchemaProfile != resultschema.DefaultProfile && len(opts.CustomFields) > 0 {
		writeError(w, fmt.Errorf("%w: cannot specify both a non-default schema_profile and custom_fields", apierr.ErrBadRequest))
		return
	}

	artifact, err := s.store.ReadArtifact(taskID)
	if err != nil {
		writeError(w, tagNotFound(err, taskstore.ErrTaskNotFound))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	if err := resultschema.Convert(w, artifact, opts); err != nil {
		writeError(w, err)
		return
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := taskstore.Filter{
		Status:      lifecycle.Status(query.Get("status")),
		Pool:        query.Get("scanner_pool"),
		ScannerType: query.Get("scanner_type"),
		Target:      query.Get("target"),
	}
	limit := atoiOrDefault(query.Get("limit"), 0)

	tasks, err := s.store.List(filter, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]*taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, toTaskView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views, "total": len(views)})
}

func atoiOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
