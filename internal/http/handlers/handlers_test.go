package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"demoforge/internal/consistency"
	"demoforge/internal/domain"
	"demoforge/internal/http/handlers"
	"demoforge/internal/http/httpapi"
	"demoforge/internal/infra"
	"demoforge/internal/orchestrator"
	"demoforge/internal/providers/extract"
	"demoforge/internal/providers/generation"
	"demoforge/internal/reference"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := infra.Logger(zerolog.New(io.Discard))
	asm := consistency.NewAssembler(0)
	orch := orchestrator.New(orchestrator.Options{
		Provider: generation.NewLocal(),
		Logger:   &logger,
	})
	refs := reference.NewManager(reference.Options{
		Orchestrator: orch,
		Assembler:    asm,
		Logger:       &logger,
	})
	app := &handlers.App{
		Sessions:     consistency.NewRegistry(),
		Assembler:    asm,
		Orchestrator: orch,
		Extractor:    extract.NewStaticExtractor(),
		References:   refs,
		Logger:       &logger,
	}
	return httpapi.NewRouter(app, httpapi.RouterOptions{DefaultLocale: "en"})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, out := doJSON(t, h, http.MethodPost, "/v1/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d", rec.Code)
	}
	id, _ := out["session_id"].(string)
	if id == "" {
		t.Fatalf("create session: missing session_id in %v", out)
	}
	return id
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	rec, out := doJSON(t, h, http.MethodGet, "/v1/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if out["status"] != "ok" {
		t.Fatalf("body = %v", out)
	}
}

func TestSessionUpdatesAndState(t *testing.T) {
	h := newTestServer(t)
	id := createSession(t, h)

	desc := "red scarf, round glasses"
	rec, out := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/updates", map[string]any{
		"updates": []domain.Update{
			{Subject: &domain.SubjectUpdate{Name: "Avery", Description: &desc}},
			{Environment: &domain.EnvironmentUpdate{Description: "rainy neon street"}},
			{Style: &domain.StyleUpdate{Description: "cinematic, muted palette"}},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("updates: status %d body %v", rec.Code, out)
	}
	if got := out["applied"].(float64); got != 3 {
		t.Fatalf("applied = %v, want 3", got)
	}

	rec, out = doJSON(t, h, http.MethodGet, "/v1/sessions/"+id+"/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: status %d", rec.Code)
	}
	subjects := out["subjects"].([]any)
	if len(subjects) != 1 {
		t.Fatalf("subjects = %d, want 1", len(subjects))
	}
	subject := subjects[0].(map[string]any)
	if subject["name"] != "Avery" || subject["description"] != desc {
		t.Fatalf("subject = %v", subject)
	}
	if out["environment"] == nil || out["style"] == nil {
		t.Fatalf("environment/style missing: %v", out)
	}
}

func TestSessionUpdatesFromText(t *testing.T) {
	h := newTestServer(t)
	id := createSession(t, h)

	rec, out := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/updates", map[string]any{
		"text": "Maya wears a yellow raincoat.\nThe scene is a foggy harbor at dawn.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %v", rec.Code, out)
	}
	if got := out["applied"].(float64); got < 2 {
		t.Fatalf("applied = %v, want at least 2", got)
	}
	state := out["state"].(map[string]any)
	subjects := state["subjects"].([]any)
	if len(subjects) != 1 {
		t.Fatalf("subjects = %d, want 1", len(subjects))
	}
	if name := subjects[0].(map[string]any)["name"]; name != "Maya" {
		t.Fatalf("name = %v, want Maya", name)
	}
}

func TestSessionUpdatesRejectsEmptyBody(t *testing.T) {
	h := newTestServer(t)
	id := createSession(t, h)
	rec, _ := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/updates", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	h := newTestServer(t)
	rec, out := doJSON(t, h, http.MethodGet, "/v1/sessions/nope/state", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	errBody := out["error"].(map[string]any)
	if errBody["code"] != "not_found" {
		t.Fatalf("error = %v", errBody)
	}
}

func TestSubjectReferenceSyncImage(t *testing.T) {
	h := newTestServer(t)
	id := createSession(t, h)

	desc := "tall, silver jacket"
	_, out := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/updates", map[string]any{
		"updates": []domain.Update{{Subject: &domain.SubjectUpdate{Name: "Noor", Description: &desc}}},
	})
	state := out["state"].(map[string]any)
	subjectID := state["subjects"].([]any)[0].(map[string]any)["id"].(string)

	rec, out := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/subjects/"+subjectID+"/reference", map[string]any{
		"pose": "neutral standing, facing camera",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reference: status %d body %v", rec.Code, out)
	}
	url, _ := out["result_url"].(string)
	if !strings.HasPrefix(url, "https://local.demoforge.invalid/") {
		t.Fatalf("result_url = %q", url)
	}

	// The URL must land on the sheet.
	_, out = doJSON(t, h, http.MethodGet, "/v1/sessions/"+id+"/state", nil)
	subject := out["subjects"].([]any)[0].(map[string]any)
	if subject["reference_image_url"] != url {
		t.Fatalf("reference_image_url = %v, want %q", subject["reference_image_url"], url)
	}

	// A second request without force reuses the existing reference.
	rec, out = doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/subjects/"+subjectID+"/reference", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reuse: status %d", rec.Code)
	}
	if out["result_url"] != url {
		t.Fatalf("reuse result_url = %v, want %q", out["result_url"], url)
	}
	if _, ok := out["task_id"]; ok {
		t.Fatalf("reuse should not submit a task: %v", out)
	}
}

func TestSubjectReferenceUnknownSubject(t *testing.T) {
	h := newTestServer(t)
	id := createSession(t, h)
	rec, _ := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/subjects/missing/reference", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGenerateVideoLifecycle(t *testing.T) {
	h := newTestServer(t)
	id := createSession(t, h)

	desc := "red scarf, round glasses"
	doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/updates", map[string]any{
		"updates": []domain.Update{
			{Subject: &domain.SubjectUpdate{Name: "Avery", Description: &desc}},
			{Environment: &domain.EnvironmentUpdate{Description: "rainy street"}},
		},
	})

	rec, out := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]any{})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate: status %d body %v", rec.Code, out)
	}
	prompt, _ := out["prompt"].(string)
	if !strings.Contains(prompt, "Avery") || !strings.Contains(prompt, "rainy street") {
		t.Fatalf("prompt = %q", prompt)
	}
	task := out["task"].(map[string]any)
	taskID := task["task_id"].(string)
	if task["status"] != string(domain.TaskStatusPending) {
		t.Fatalf("status = %v, want pending", task["status"])
	}

	// Local video tasks need two polls to finish.
	rec, out = doJSON(t, h, http.MethodGet, "/v1/tasks/"+taskID, nil)
	if rec.Code != http.StatusOK || out["status"] != string(domain.TaskStatusRunning) {
		t.Fatalf("first poll: status %d body %v", rec.Code, out)
	}
	rec, out = doJSON(t, h, http.MethodGet, "/v1/tasks/"+taskID, nil)
	if rec.Code != http.StatusOK || out["status"] != string(domain.TaskStatusSucceeded) {
		t.Fatalf("second poll: status %d body %v", rec.Code, out)
	}
	if url, _ := out["result_url"].(string); url == "" {
		t.Fatalf("missing result_url: %v", out)
	}

	rec, out = doJSON(t, h, http.MethodGet, "/v1/tasks/"+taskID+"/result", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result: status %d body %v", rec.Code, out)
	}
	if !strings.HasSuffix(out["result_url"].(string), ".mp4") {
		t.Fatalf("result_url = %v", out["result_url"])
	}

	// Canceling a finished task keeps the record and reports conflict.
	rec, out = doJSON(t, h, http.MethodPost, "/v1/tasks/"+taskID+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel: status %d", rec.Code)
	}
	if out["status"] != string(domain.TaskStatusSucceeded) {
		t.Fatalf("cancel body = %v", out)
	}

	rec, out = doJSON(t, h, http.MethodGet, "/v1/tasks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	if tasks := out["tasks"].([]any); len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
}

func TestGenerateVideoCarriesSubjectReference(t *testing.T) {
	logger := infra.Logger(zerolog.New(io.Discard))
	provider := &capturingProvider{}
	asm := consistency.NewAssembler(0)
	orch := orchestrator.New(orchestrator.Options{Provider: provider, Logger: &logger})
	sessions := consistency.NewRegistry()
	app := &handlers.App{
		Sessions:     sessions,
		Assembler:    asm,
		Orchestrator: orch,
		Extractor:    extract.NewStaticExtractor(),
		References:   reference.NewManager(reference.Options{Orchestrator: orch, Assembler: asm, Logger: &logger}),
		Logger:       &logger,
	}
	h := httpapi.NewRouter(app, httpapi.RouterOptions{DefaultLocale: "en"})

	id := sessions.Create()
	store, err := sessions.Get(id)
	if err != nil {
		t.Fatalf("get store: %v", err)
	}
	desc := "red scarf, round glasses"
	if err := store.Apply(domain.Update{Subject: &domain.SubjectUpdate{Name: "Avery", Description: &desc}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	subjectID := store.Snapshot().Subjects[0].ID
	const refURL = "https://cdn.example.com/avery.png"
	if err := store.SetReferenceURL(subjectID, refURL); err != nil {
		t.Fatalf("set reference: %v", err)
	}

	rec, out := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]any{})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate: status %d body %v", rec.Code, out)
	}
	if provider.last.ReferenceImageURL != refURL {
		t.Fatalf("provider reference = %q, want %q", provider.last.ReferenceImageURL, refURL)
	}
	if provider.last.SessionID != id {
		t.Fatalf("provider session = %q, want %q", provider.last.SessionID, id)
	}
}

func TestSessionCreateSnapshotsImmediately(t *testing.T) {
	logger := infra.Logger(zerolog.New(io.Discard))
	asm := consistency.NewAssembler(0)
	orch := orchestrator.New(orchestrator.Options{Provider: generation.NewLocal(), Logger: &logger})
	snaps := newMemorySnapshots()
	app := &handlers.App{
		Sessions:       consistency.NewRegistry(),
		Assembler:      asm,
		Orchestrator:   orch,
		Extractor:      extract.NewStaticExtractor(),
		References:     reference.NewManager(reference.Options{Orchestrator: orch, Assembler: asm, Logger: &logger}),
		StateSnapshots: snaps,
		Logger:         &logger,
	}
	h := httpapi.NewRouter(app, httpapi.RouterOptions{DefaultLocale: "en"})

	id := createSession(t, h)
	if _, ok := snaps.states[id]; !ok {
		t.Fatalf("no snapshot saved for new session %q", id)
	}

	// A fresh process sharing the repository serves the session.
	restarted := &handlers.App{
		Sessions:       consistency.NewRegistry(),
		Assembler:      asm,
		Orchestrator:   orch,
		Extractor:      extract.NewStaticExtractor(),
		References:     app.References,
		StateSnapshots: snaps,
		Logger:         &logger,
	}
	h2 := httpapi.NewRouter(restarted, httpapi.RouterOptions{DefaultLocale: "en"})
	rec, out := doJSON(t, h2, http.MethodGet, "/v1/sessions/"+id+"/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state after restart: status %d body %v", rec.Code, out)
	}
	if out["session_id"] != id {
		t.Fatalf("session_id = %v, want %q", out["session_id"], id)
	}
}

func TestGenerateVideoEmptySessionRejected(t *testing.T) {
	h := newTestServer(t)
	id := createSession(t, h)
	rec, out := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body %v, want 400", rec.Code, out)
	}
}

func TestUnknownTaskIs404(t *testing.T) {
	h := newTestServer(t)
	rec, _ := doJSON(t, h, http.MethodGet, "/v1/tasks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	rec, _ = doJSON(t, h, http.MethodPost, "/v1/tasks/nope/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel status = %d, want 404", rec.Code)
	}
}

// capturingProvider records the last submission so tests can assert on
// what handlers hand to the backend.
type capturingProvider struct {
	last generation.Submission
}

func (p *capturingProvider) Name() string { return "capturing" }

func (p *capturingProvider) Submit(_ context.Context, sub generation.Submission) (*generation.SubmitResult, error) {
	p.last = sub
	return &generation.SubmitResult{TaskID: "cap-1", State: generation.StatePending}, nil
}

func (p *capturingProvider) Status(context.Context, string) (*generation.StatusResult, error) {
	return &generation.StatusResult{State: generation.StateRunning}, nil
}

func (p *capturingProvider) Cancel(context.Context, string) error { return nil }

type memorySnapshots struct {
	states map[string]domain.ConsistencyState
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{states: map[string]domain.ConsistencyState{}}
}

func (m *memorySnapshots) Save(_ context.Context, state domain.ConsistencyState) error {
	m.states[state.SessionID] = state.Clone()
	return nil
}

func (m *memorySnapshots) Load(_ context.Context, sessionID string) (*domain.ConsistencyState, error) {
	state, ok := m.states[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := state.Clone()
	return &clone, nil
}
