package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"demoforge/internal/adapter/repo"
	"demoforge/internal/consistency"
	"demoforge/internal/domain"
	"demoforge/internal/infra"
	"demoforge/internal/orchestrator"
	"demoforge/internal/providers/generation"
	"demoforge/internal/reference"
	"demoforge/internal/storage"
)

// The worker restores persisted tasks and drives every non-terminal
// one to completion: poll, retry with backoff, persist each change.
// When a reference-image task succeeds it writes the artifact URL back
// onto the owning subject sheet. It shares state with the API through
// the snapshot tables only.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required, task state is shared through postgres")
	}
	pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to ensure snapshot schema")
	}
	tasks := repo.NewTaskRepository(pool)
	states := repo.NewSessionRepository(pool)

	var provider generation.Provider
	if cfg.DashScopeAPIKey == "" {
		logger.Warn().Msg("worker: DASHSCOPE_API_KEY missing, using synthetic local generation")
		provider = generation.NewLocal()
	} else {
		provider, err = generation.NewWan(generation.WanOptions{
			APIKey:     cfg.DashScopeAPIKey,
			BaseURL:    cfg.DashScopeBaseURL,
			ImageModel: cfg.WanImageModel,
			VideoModel: cfg.WanVideoModel,
			Logger:     &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to configure wan provider")
		}
	}

	orch := orchestrator.New(orchestrator.Options{
		Provider: provider,
		Config: orchestrator.Config{
			MaxRetries:       cfg.TaskMaxRetries,
			ArtifactTTL:      cfg.ArtifactTTL,
			VideoPromptLimit: cfg.VideoPromptCap,
		},
		Logger:    &logger,
		Snapshots: tasks,
	})

	var cache *storage.FileStore
	if cfg.StoragePath != "" {
		cache, err = storage.NewFileStore(cfg.StoragePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to configure storage")
		}
	}
	refs := reference.NewManager(reference.Options{
		Orchestrator: orch,
		Assembler:    consistency.NewAssembler(cfg.VideoPromptCap),
		Cache:        cache,
		Snapshots:    states,
		Logger:       &logger,
	})

	w := &worker{
		orch:     orch,
		tasks:    tasks,
		states:   states,
		refs:     refs,
		sessions: consistency.NewRegistry(),
		logger:   logger,
	}
	if err := w.run(ctx, cfg.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

type worker struct {
	orch     *orchestrator.Orchestrator
	tasks    *repo.TaskRepositoryPG
	states   *repo.SessionRepositoryPG
	refs     *reference.Manager
	sessions *consistency.Registry
	logger   infra.Logger
}

func (w *worker) run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = orchestrator.DefaultPollInterval
	}
	w.logger.Info().Dur("interval", interval).Msg("worker: started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// Refresh from the snapshot table so tasks submitted by the
		// API since the last tick get picked up.
		snapshots, err := w.tasks.List(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: failed to list task snapshots")
		} else if n := w.orch.Restore(snapshots); n > 0 {
			w.logger.Info().Int("tasks", n).Msg("worker: restored tasks")
		}

		w.sweep(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep polls each non-terminal task once, honoring the per-task retry
// backoff so flaky providers are not hammered every tick.
func (w *worker) sweep(ctx context.Context) {
	now := time.Now()
	for _, id := range w.orch.Pending() {
		task, err := w.orch.Get(ctx, id)
		if err != nil {
			continue
		}
		if task.AttemptCount > 0 && now.Sub(task.UpdatedAt) < orchestrator.Backoff(task.AttemptCount) {
			continue
		}
		polled, err := w.orch.Poll(ctx, id)
		if err != nil {
			w.logger.Error().Err(err).Str("task_id", id).Msg("worker: poll failed")
			continue
		}
		if polled.Status != task.Status {
			w.logger.Info().
				Str("task_id", id).
				Str("status", string(polled.Status)).
				Msg("worker: task advanced")
		}
		if polled.Status == domain.TaskStatusSucceeded && polled.SubjectID != "" {
			w.attachReference(ctx, polled)
		}
	}
}

// attachReference writes a succeeded reference task's artifact back
// onto the subject sheet of its owning session.
func (w *worker) attachReference(ctx context.Context, task *domain.GenerationTask) {
	store, err := w.session(ctx, task.SessionID)
	if err != nil {
		w.logger.Error().Err(err).
			Str("task_id", task.TaskID).
			Str("session_id", task.SessionID).
			Msg("worker: session for reference task not found")
		return
	}
	sheet, err := store.Subject(task.SubjectID)
	if err != nil {
		w.logger.Error().Err(err).
			Str("task_id", task.TaskID).
			Str("subject_id", task.SubjectID).
			Msg("worker: subject for reference task not found")
		return
	}
	if sheet.ReferenceImageURL == task.ResultURL {
		return
	}
	if err := w.refs.AttachResult(ctx, store, task.SubjectID, task); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("worker: reference write-back failed")
	}
}

func (w *worker) session(ctx context.Context, sessionID string) (*consistency.Store, error) {
	if store, err := w.sessions.Get(sessionID); err == nil {
		return store, nil
	}
	state, err := w.states.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	store := consistency.Restore(*state)
	w.sessions.Put(store)
	return store, nil
}
