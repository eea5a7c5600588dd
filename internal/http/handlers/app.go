// Package handlers exposes the consistency and orchestration surface
// over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"demoforge/internal/consistency"
	"demoforge/internal/domain"
	"demoforge/internal/infra"
	"demoforge/internal/orchestrator"
	"demoforge/internal/providers/extract"
	"demoforge/internal/reference"
)

type App struct {
	Sessions     *consistency.Registry
	Assembler    *consistency.Assembler
	Orchestrator *orchestrator.Orchestrator
	Extractor    extract.Extractor
	References   *reference.Manager
	// StateSnapshots, when set, receives the session state after every
	// mutation and backs session lookup across restarts.
	StateSnapshots domain.StateSnapshotRepository
	Logger         *infra.Logger
}

// session resolves a store from the registry, falling back to the
// snapshot repository so sessions survive a process restart.
func (a *App) session(r *http.Request) (*consistency.Store, error) {
	id := chi.URLParam(r, "session_id")
	store, err := a.Sessions.Get(id)
	if err == nil {
		return store, nil
	}
	if a.StateSnapshots == nil || !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	state, err := a.StateSnapshots.Load(r.Context(), id)
	if err != nil {
		return nil, err
	}
	store = consistency.Restore(*state)
	a.Sessions.Put(store)
	return store, nil
}

// saveState pushes the current session state to the snapshot
// repository. Persistence failures are logged, never surfaced.
func (a *App) saveState(r *http.Request, store *consistency.Store) {
	if a.StateSnapshots == nil {
		return
	}
	state := store.Snapshot()
	if err := a.StateSnapshots.Save(r.Context(), state); err != nil {
		a.Logger.Warn().Err(err).Str("session_id", state.SessionID).Msg("state snapshot save failed")
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]errorBody{"error": {Code: kind, Message: message}})
}
