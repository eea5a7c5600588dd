package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"demoforge/internal/domain"
	"demoforge/internal/middleware"
	"demoforge/internal/providers/extract"
)

type sessionUpdatesRequest struct {
	// Text is a raw conversational turn run through the extraction
	// adapter. Updates are pre-structured and applied as-is; both may
	// be supplied in one call.
	Text    string          `json:"text"`
	Updates []domain.Update `json:"updates"`
}

type sessionUpdatesResponse struct {
	Applied int                     `json:"applied"`
	State   domain.ConsistencyState `json:"state"`
}

func (a *App) SessionCreate(w http.ResponseWriter, r *http.Request) {
	id := a.Sessions.Create()
	// Snapshot the empty state immediately so the session survives a
	// restart even before its first update.
	if store, err := a.Sessions.Get(id); err == nil {
		a.saveState(r, store)
	}
	a.Logger.Info().Str("session_id", id).Msg("session created")
	a.json(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (a *App) SessionState(w http.ResponseWriter, r *http.Request) {
	store, err := a.session(r)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown session")
		return
	}
	a.json(w, http.StatusOK, store.Snapshot())
}

func (a *App) SessionUpdates(w http.ResponseWriter, r *http.Request) {
	store, err := a.session(r)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown session")
		return
	}
	var req sessionUpdatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Text == "" && len(req.Updates) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "text or updates required")
		return
	}

	updates := req.Updates
	if req.Text != "" {
		extracted, err := a.Extractor.Extract(r.Context(), extract.Request{
			Text:   req.Text,
			Locale: middleware.LocaleFromContext(r.Context()),
		})
		if err != nil {
			a.error(w, http.StatusBadGateway, "extraction_failed", err.Error())
			return
		}
		updates = append(updates, extracted...)
	}

	applied := 0
	for _, u := range updates {
		if err := store.Apply(u); err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				a.error(w, http.StatusBadRequest, "validation", verr.Error())
				return
			}
			a.error(w, http.StatusInternalServerError, "internal", "failed to apply update")
			return
		}
		applied++
	}
	if applied > 0 {
		a.saveState(r, store)
	}
	a.json(w, http.StatusOK, sessionUpdatesResponse{Applied: applied, State: store.Snapshot()})
}
