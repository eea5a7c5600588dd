package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"demoforge/internal/domain"
	"demoforge/internal/providers/generation"
)

type generateRequest struct {
	SubjectIDs         []string `json:"subject_ids"`
	IncludeEnvironment *bool    `json:"include_environment"`
	PromptSuffix       string   `json:"prompt_suffix"`
}

type generateResponse struct {
	Task   taskResponse `json:"task"`
	Prompt string       `json:"prompt"`
}

// GenerateVideo assembles a video prompt from the session's sheets and
// submits it to the generation provider. The assembled prompt is echoed
// back so callers can see what was actually sent.
func (a *App) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	store, err := a.session(r)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown session")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	includeEnv := true
	if req.IncludeEnvironment != nil {
		includeEnv = *req.IncludeEnvironment
	}

	state := store.Snapshot()
	subjectIDs := req.SubjectIDs
	if len(subjectIDs) == 0 {
		for _, s := range state.Subjects {
			subjectIDs = append(subjectIDs, s.ID)
		}
	}

	prompt := a.Assembler.VideoPrompt(state, subjectIDs, includeEnv)
	if suffix := strings.TrimSpace(req.PromptSuffix); suffix != "" {
		prompt = a.Assembler.Fit(prompt + ", " + suffix)
	}

	task, err := a.Orchestrator.Submit(r.Context(), generation.Submission{
		Kind:              domain.TaskKindVideo,
		Prompt:            prompt,
		ReferenceImageURL: a.Assembler.PrimaryReference(state, subjectIDs),
		SessionID:         state.SessionID,
	})
	if err != nil {
		switch {
		case domain.IsValidation(err):
			a.error(w, http.StatusBadRequest, "validation", err.Error())
		case domain.IsTransient(err):
			a.error(w, http.StatusServiceUnavailable, "transient", "provider unavailable, retry the request")
		default:
			a.error(w, http.StatusBadGateway, "provider", err.Error())
		}
		return
	}
	a.json(w, http.StatusAccepted, generateResponse{Task: taskToResponse(task), Prompt: prompt})
}
