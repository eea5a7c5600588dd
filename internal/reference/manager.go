// Package reference generates and tracks canonical reference images
// for subjects. A reference grounds later video prompts so the same
// character keeps the same face across segments.
package reference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"demoforge/internal/consistency"
	"demoforge/internal/domain"
	"demoforge/internal/infra"
	"demoforge/internal/orchestrator"
	"demoforge/internal/providers/generation"
	"demoforge/internal/storage"
)

// Result is the outcome of a generation request. URL is set when the
// image resolved synchronously or a reference already existed; Task is
// set whenever a provider job was involved.
type Result struct {
	SubjectID string
	URL       string
	Task      *domain.GenerationTask
}

// Options wires the manager's collaborators. Cache is optional; when
// set, succeeded artifacts are downloaded and kept locally so a
// reference survives the provider's artifact expiry window.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Assembler    *consistency.Assembler
	Cache        *storage.FileStore
	HTTPClient   *http.Client
	Snapshots    domain.StateSnapshotRepository
	Logger       *infra.Logger
}

// Manager owns the binding between in-flight reference tasks and the
// subjects they are for. Once a task succeeds, the manager writes the
// artifact URL into the owning sheet; nothing else touches
// reference_image_url.
type Manager struct {
	orch   *orchestrator.Orchestrator
	asm    *consistency.Assembler
	logger *infra.Logger

	cache *storage.FileStore
	httpc *http.Client
	snaps domain.StateSnapshotRepository

	mu      sync.Mutex
	pending map[string]pendingRef
}

type pendingRef struct {
	store     *consistency.Store
	subjectID string
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Manager{
		orch:    opts.Orchestrator,
		asm:     opts.Assembler,
		cache:   opts.Cache,
		httpc:   httpc,
		snaps:   opts.Snapshots,
		logger:  logger,
		pending: make(map[string]pendingRef),
	}
}

// Generate requests a reference image for one subject. An existing
// reference is reused unless force is set; regeneration is always an
// explicit caller decision.
func (m *Manager) Generate(ctx context.Context, store *consistency.Store, subjectID, pose string, force bool) (*Result, error) {
	sheet, err := store.Subject(subjectID)
	if err != nil {
		return nil, err
	}
	if sheet.ReferenceImageURL != "" && !force {
		return &Result{SubjectID: subjectID, URL: sheet.ReferenceImageURL}, nil
	}

	prompt, err := m.asm.ReferencePrompt(store.Snapshot(), subjectID, pose)
	if err != nil {
		return nil, err
	}

	task, err := m.orch.Submit(ctx, generation.Submission{
		Kind:      domain.TaskKindImage,
		Prompt:    prompt,
		SessionID: store.Snapshot().SessionID,
		SubjectID: subjectID,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{SubjectID: subjectID, Task: task}
	switch task.Status {
	case domain.TaskStatusSucceeded:
		if err := store.SetReferenceURL(subjectID, task.ResultURL); err != nil {
			return nil, err
		}
		res.URL = task.ResultURL
		m.cacheArtifact(ctx, subjectID, task.ResultURL)
		m.persistState(ctx, store)
	case domain.TaskStatusPending, domain.TaskStatusRunning:
		m.mu.Lock()
		m.pending[task.TaskID] = pendingRef{store: store, subjectID: subjectID}
		m.mu.Unlock()
		m.logger.Info().
			Str("task_id", task.TaskID).
			Str("subject_id", subjectID).
			Msg("reference generation in flight")
	}
	return res, nil
}

// Complete polls one pending reference task and, on success, writes
// the artifact URL into the subject sheet. Reports whether the task
// reached a terminal state.
func (m *Manager) Complete(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	ref, ok := m.pending[taskID]
	m.mu.Unlock()
	if !ok {
		return false, domain.ErrNotFound
	}

	task, err := m.orch.Poll(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !task.Status.Terminal() {
		return false, nil
	}

	m.mu.Lock()
	delete(m.pending, taskID)
	m.mu.Unlock()

	if task.Status != domain.TaskStatusSucceeded {
		m.logger.Warn().
			Str("task_id", taskID).
			Str("subject_id", ref.subjectID).
			Str("status", string(task.Status)).
			Str("error", task.Error).
			Msg("reference generation did not succeed")
		return true, nil
	}
	if err := m.AttachResult(ctx, ref.store, ref.subjectID, task); err != nil {
		return true, err
	}
	return true, nil
}

// AttachResult writes a succeeded reference task's artifact URL onto
// the subject sheet, caches the artifact, and persists the session
// state. Callers that track tasks outside the pending map (the worker
// restores them from snapshots) use this directly.
func (m *Manager) AttachResult(ctx context.Context, store *consistency.Store, subjectID string, task *domain.GenerationTask) error {
	if task.Status != domain.TaskStatusSucceeded {
		return fmt.Errorf("task %s is %s, nothing to attach", task.TaskID, task.Status)
	}
	if err := store.SetReferenceURL(subjectID, task.ResultURL); err != nil {
		return err
	}
	m.cacheArtifact(ctx, subjectID, task.ResultURL)
	m.persistState(ctx, store)
	m.logger.Info().
		Str("task_id", task.TaskID).
		Str("subject_id", subjectID).
		Msg("reference image attached")
	return nil
}

func (m *Manager) persistState(ctx context.Context, store *consistency.Store) {
	if m.snaps == nil {
		return
	}
	state := store.Snapshot()
	if err := m.snaps.Save(ctx, state); err != nil {
		m.logger.Warn().Err(err).Str("session_id", state.SessionID).Msg("state snapshot save failed")
	}
}

// cacheArtifact downloads the artifact into the local store. Failures
// are logged only; the remote URL on the sheet stays authoritative.
func (m *Manager) cacheArtifact(ctx context.Context, subjectID, url string) {
	if m.cache == nil || url == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		m.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("reference cache download failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.logger.Warn().Int("status", resp.StatusCode).Str("subject_id", subjectID).Msg("reference cache download failed")
		return
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		m.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("reference cache read failed")
		return
	}
	key := fmt.Sprintf("references/%s.png", subjectID)
	if _, err := m.cache.Write(ctx, key, data); err != nil {
		m.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("reference cache write failed")
		return
	}
	m.logger.Debug().Str("subject_id", subjectID).Str("key", key).Msg("reference cached")
}

// Pending returns the ids of reference tasks still awaiting a result.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
