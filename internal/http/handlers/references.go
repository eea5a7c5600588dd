package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"demoforge/internal/domain"
)

type referenceRequest struct {
	Pose  string `json:"pose"`
	Force bool   `json:"force"`
}

type referenceResponse struct {
	SubjectID string `json:"subject_id"`
	ResultURL string `json:"result_url,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// SubjectReference requests a reference image for one subject. The
// response carries either a result_url (fresh reference already on the
// sheet, or the provider resolved synchronously) or a task_id to poll.
func (a *App) SubjectReference(w http.ResponseWriter, r *http.Request) {
	store, err := a.session(r)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown session")
		return
	}
	subjectID := chi.URLParam(r, "subject_id")

	var req referenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	res, err := a.References.Generate(r.Context(), store, subjectID, req.Pose, req.Force)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "unknown subject")
		case domain.IsValidation(err):
			a.error(w, http.StatusBadRequest, "validation", err.Error())
		case domain.IsTransient(err):
			a.error(w, http.StatusServiceUnavailable, "transient", "provider unavailable, retry the request")
		default:
			a.error(w, http.StatusBadGateway, "provider", err.Error())
		}
		return
	}

	out := referenceResponse{SubjectID: res.SubjectID, ResultURL: res.URL}
	status := http.StatusOK
	if res.Task != nil {
		out.TaskID = res.Task.TaskID
		out.Status = string(res.Task.Status)
		if res.URL == "" {
			status = http.StatusAccepted
		}
	}
	a.json(w, status, out)
}
