package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"demoforge/internal/domain"
)

type taskResponse struct {
	TaskID        string `json:"task_id"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	ResultURL     string `json:"result_url,omitempty"`
	Error         string `json:"error,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	AttemptCount  int    `json:"attempt_count"`
	SubmittedAt   string `json:"submitted_at"`
	UpdatedAt     string `json:"updated_at"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

func taskToResponse(t *domain.GenerationTask) taskResponse {
	out := taskResponse{
		TaskID:        t.TaskID,
		Kind:          string(t.Kind),
		Status:        string(t.Status),
		ResultURL:     t.ResultURL,
		Error:         t.Error,
		FailureReason: string(t.FailureReason),
		AttemptCount:  t.AttemptCount,
		SubmittedAt:   t.SubmittedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if t.ExpiresAt != nil {
		out.ExpiresAt = t.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

// TaskStatus polls the provider for a non-terminal task and returns the
// current record. Terminal tasks are served from memory without a
// provider round trip.
func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := a.Orchestrator.Poll(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "unknown task")
			return
		}
		a.error(w, http.StatusBadGateway, "provider", err.Error())
		return
	}
	if task.Status.Terminal() {
		// Terminal polls are served from memory, so settling a
		// pending reference here costs no provider call.
		if done, err := a.References.Complete(r.Context(), taskID); err == nil && done {
			a.Logger.Debug().Str("task_id", taskID).Msg("reference task settled")
			if refreshed, err := a.Orchestrator.Get(r.Context(), taskID); err == nil {
				task = refreshed
			}
		}
	}
	a.json(w, http.StatusOK, taskToResponse(task))
}

// TaskCancel requests cancellation. Canceling a task that already
// reached a terminal status returns 409 with the unchanged record.
func (a *App) TaskCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := a.Orchestrator.Cancel(r.Context(), taskID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "unknown task")
		return
	case errors.Is(err, domain.ErrAlreadyTerminal):
		a.json(w, http.StatusConflict, taskToResponse(task))
		return
	case err != nil:
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	a.json(w, http.StatusOK, taskToResponse(task))
}

// TaskList returns all tracked tasks, oldest first.
func (a *App) TaskList(w http.ResponseWriter, r *http.Request) {
	tasks := a.Orchestrator.Tasks(r.Context())
	out := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, taskToResponse(&tasks[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"tasks": out})
}

// TaskResult returns the artifact URL of a succeeded task, refusing
// expired artifacts.
func (a *App) TaskResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	url, err := a.Orchestrator.ResultURL(r.Context(), taskID)
	if err != nil {
		var expired *domain.ExpiredArtifactError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "unknown task")
		case errors.As(err, &expired):
			a.error(w, http.StatusGone, "expired", err.Error())
		default:
			a.error(w, http.StatusConflict, "not_ready", err.Error())
		}
		return
	}
	a.json(w, http.StatusOK, map[string]string{"task_id": taskID, "result_url": url})
}
