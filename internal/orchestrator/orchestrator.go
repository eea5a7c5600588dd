// Package orchestrator tracks generation tasks from submission to a
// terminal state. It never polls on its own schedule; callers drive
// Poll explicitly and use Backoff to pick their cadence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"demoforge/internal/domain"
	"demoforge/internal/infra"
	"demoforge/internal/providers/generation"
)

// DefaultPollInterval is the provider-recommended poll cadence.
const DefaultPollInterval = 15 * time.Second

// Config bounds the orchestrator's retry and validation behavior.
type Config struct {
	// MaxRetries is the number of transient poll failures tolerated
	// before a task is failed with a retry-exhausted reason.
	MaxRetries int
	// ArtifactTTL overrides the provider-reported artifact lifetime
	// when the provider does not report one.
	ArtifactTTL time.Duration
	// VideoPromptLimit is the hard character cap for video prompts.
	// Zero means the assembler default.
	VideoPromptLimit int
	// ImagePromptLimit caps image prompts. Zero means uncapped.
	ImagePromptLimit int
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Provider generation.Provider
	Config   Config
	Logger   *infra.Logger
	// Snapshots, when set, receives a copy of every task after each
	// state change. Failures to persist are logged, never fatal.
	Snapshots domain.TaskSnapshotRepository
}

// Orchestrator owns all GenerationTask records. The registry supports
// concurrent reads and per-task single-writer updates: polls for
// different tasks may run in parallel, two polls for the same task are
// serialized.
type Orchestrator struct {
	provider  generation.Provider
	cfg       Config
	logger    *infra.Logger
	snapshots domain.TaskSnapshotRepository

	mu    sync.RWMutex
	tasks map[string]*trackedTask

	now func() time.Time
}

type trackedTask struct {
	mu   sync.Mutex
	task *domain.GenerationTask
}

func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ArtifactTTL <= 0 {
		cfg.ArtifactTTL = generation.DefaultArtifactTTL
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Orchestrator{
		provider:  opts.Provider,
		cfg:       cfg,
		logger:    logger,
		snapshots: opts.Snapshots,
		tasks:     make(map[string]*trackedTask),
		now:       time.Now,
	}
}

// Submit validates the prompt, sends it to the provider, and registers
// the resulting task. Local validation failures and transient network
// failures during submission leave no task record behind; the latter
// are safe to resubmit because the provider never saw the request
// complete. A provider-side validation rejection does create a record,
// already failed, so the caller has something to show.
func (o *Orchestrator) Submit(ctx context.Context, sub generation.Submission) (*domain.GenerationTask, error) {
	prompt := strings.TrimSpace(sub.Prompt)
	if prompt == "" {
		return nil, &domain.ValidationError{Msg: "prompt is required"}
	}
	if limit := o.promptLimit(sub.Kind); limit > 0 && len(prompt) > limit {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("prompt exceeds %d character limit for %s", limit, sub.Kind)}
	}
	sub.Prompt = prompt

	now := o.now()
	res, err := o.provider.Submit(ctx, sub)
	if err != nil {
		if domain.IsTransient(err) {
			// No task was created provider-side; resubmitting is safe.
			return nil, err
		}
		if !domain.IsValidation(err) {
			return nil, err
		}
		// The provider rejected the input after accepting the call.
		// Those never get a provider task id, so mint a local one.
		task := &domain.GenerationTask{
			TaskID:      "rejected-" + uuid.NewString(),
			Kind:        sub.Kind,
			Prompt:      prompt,
			Reference:   sub.ReferenceImageURL,
			SessionID:   sub.SessionID,
			SubjectID:   sub.SubjectID,
			SubmittedAt: now,
			Status:      domain.TaskStatusPending,
		}
		task.Fail(domain.FailureValidation, err.Error(), now)
		o.register(ctx, task)
		return task.Clone(), nil
	}

	task := &domain.GenerationTask{
		TaskID:      res.TaskID,
		Kind:        sub.Kind,
		Prompt:      prompt,
		Reference:   sub.ReferenceImageURL,
		SessionID:   sub.SessionID,
		SubjectID:   sub.SubjectID,
		SubmittedAt: now,
		Status:      domain.TaskStatusPending,
		UpdatedAt:   now,
	}
	if res.State == generation.StateSucceeded {
		task.Start(now)
		task.Succeed(res.ResultURL, now.Add(o.artifactTTL(res.ArtifactTTL)), now)
	} else if res.State == generation.StateRunning {
		task.Start(now)
	}
	o.register(ctx, task)
	o.logger.Info().
		Str("task_id", task.TaskID).
		Str("kind", string(task.Kind)).
		Str("status", string(task.Status)).
		Msg("task submitted")
	return task.Clone(), nil
}

// Poll refreshes one task from the provider. It is idempotent: polling
// a terminal task returns the unchanged record without contacting the
// provider, except that a succeeded task whose artifact window has
// elapsed flips to expired. Transient provider errors are absorbed
// into the record's attempt count; only an unknown task id makes Poll
// itself fail.
func (o *Orchestrator) Poll(ctx context.Context, taskID string) (*domain.GenerationTask, error) {
	tracked, err := o.lookup(taskID)
	if err != nil {
		return nil, err
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	task := tracked.task
	now := o.now()

	if task.Status.Terminal() || o.refreshExpiry(ctx, task, now) {
		return task.Clone(), nil
	}

	res, err := o.provider.Status(ctx, task.TaskID)
	if err != nil {
		if domain.IsTransient(err) {
			task.AttemptCount++
			task.UpdatedAt = now
			if task.AttemptCount >= o.cfg.MaxRetries {
				task.Fail(domain.FailureRetryExhausted, fmt.Sprintf("gave up after %d transient poll failures: %v", task.AttemptCount, err), now)
				o.logger.Warn().
					Str("task_id", task.TaskID).
					Int("attempts", task.AttemptCount).
					Msg("task retries exhausted")
			}
			o.persist(ctx, task)
			return task.Clone(), nil
		}
		var perr *domain.ProviderError
		if errors.As(err, &perr) {
			task.Fail(domain.FailureProvider, perr.Message, now)
			o.persist(ctx, task)
			return task.Clone(), nil
		}
		return nil, err
	}

	task.AttemptCount = 0
	switch res.State {
	case generation.StateRunning:
		task.Start(now)
	case generation.StateSucceeded:
		task.Start(now)
		task.Succeed(res.ResultURL, now.Add(o.artifactTTL(res.ArtifactTTL)), now)
	case generation.StateFailed:
		msg := res.Message
		if msg == "" {
			msg = "provider reported failure"
		}
		task.Fail(domain.FailureProvider, msg, now)
	case generation.StateCanceled:
		task.CancelAt(now)
	}
	task.UpdatedAt = now
	o.persist(ctx, task)
	return task.Clone(), nil
}

// Cancel aborts a non-terminal task. The provider is notified best
// effort; orchestrator-side bookkeeping flips regardless. Canceling a
// terminal task returns the unchanged record with ErrAlreadyTerminal.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) (*domain.GenerationTask, error) {
	tracked, err := o.lookup(taskID)
	if err != nil {
		return nil, err
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	task := tracked.task

	if task.Status.Terminal() {
		return task.Clone(), domain.ErrAlreadyTerminal
	}
	if err := o.provider.Cancel(ctx, task.TaskID); err != nil {
		o.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("provider cancel failed")
	}
	task.CancelAt(o.now())
	o.persist(ctx, task)
	return task.Clone(), nil
}

// ResultURL returns the artifact URL of a succeeded task. A URL past
// its validity window is never served: the task flips to expired and
// the caller gets an ExpiredArtifactError telling it to regenerate.
func (o *Orchestrator) ResultURL(ctx context.Context, taskID string) (string, error) {
	tracked, err := o.lookup(taskID)
	if err != nil {
		return "", err
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	task := tracked.task
	now := o.now()

	if o.refreshExpiry(ctx, task, now) || task.Status == domain.TaskStatusExpired {
		expiredAt := now
		if task.ExpiresAt != nil {
			expiredAt = *task.ExpiresAt
		}
		return "", &domain.ExpiredArtifactError{TaskID: task.TaskID, ExpiredAt: expiredAt}
	}
	if task.Status != domain.TaskStatusSucceeded {
		return "", fmt.Errorf("task %s is %s, no result to return", task.TaskID, task.Status)
	}
	return task.ResultURL, nil
}

// Get returns a copy of one task, applying time-driven expiry first.
func (o *Orchestrator) Get(ctx context.Context, taskID string) (*domain.GenerationTask, error) {
	tracked, err := o.lookup(taskID)
	if err != nil {
		return nil, err
	}
	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	o.refreshExpiry(ctx, tracked.task, o.now())
	return tracked.task.Clone(), nil
}

// Tasks returns copies of every tracked task, oldest first.
func (o *Orchestrator) Tasks(ctx context.Context) []domain.GenerationTask {
	o.mu.RLock()
	list := make([]*trackedTask, 0, len(o.tasks))
	for _, t := range o.tasks {
		list = append(list, t)
	}
	o.mu.RUnlock()

	now := o.now()
	out := make([]domain.GenerationTask, 0, len(list))
	for _, tracked := range list {
		tracked.mu.Lock()
		o.refreshExpiry(ctx, tracked.task, now)
		out = append(out, *tracked.task.Clone())
		tracked.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Restore loads previously persisted tasks into the registry without
// touching the provider. Known task ids are left alone so a restore
// never rolls back live state.
func (o *Orchestrator) Restore(tasks []domain.GenerationTask) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	restored := 0
	for i := range tasks {
		if _, ok := o.tasks[tasks[i].TaskID]; ok {
			continue
		}
		o.tasks[tasks[i].TaskID] = &trackedTask{task: tasks[i].Clone()}
		restored++
	}
	return restored
}

// Pending returns the ids of all non-terminal tasks.
func (o *Orchestrator) Pending() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var ids []string
	for id, tracked := range o.tasks {
		tracked.mu.Lock()
		if !tracked.task.Status.Terminal() {
			ids = append(ids, id)
		}
		tracked.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// refreshExpiry flips a succeeded task to expired when its artifact
// window has elapsed. Reports whether the task expired on this call.
func (o *Orchestrator) refreshExpiry(ctx context.Context, task *domain.GenerationTask, now time.Time) bool {
	if task.Status == domain.TaskStatusSucceeded && task.ArtifactExpired(now) {
		task.Expire(now)
		o.persist(ctx, task)
		return true
	}
	return false
}

func (o *Orchestrator) promptLimit(kind domain.TaskKind) int {
	if kind == domain.TaskKindVideo {
		return o.cfg.VideoPromptLimit
	}
	return o.cfg.ImagePromptLimit
}

func (o *Orchestrator) artifactTTL(reported time.Duration) time.Duration {
	if reported > 0 {
		return reported
	}
	return o.cfg.ArtifactTTL
}

func (o *Orchestrator) lookup(taskID string) (*trackedTask, error) {
	o.mu.RLock()
	tracked, ok := o.tasks[taskID]
	o.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return tracked, nil
}

func (o *Orchestrator) register(ctx context.Context, task *domain.GenerationTask) {
	o.mu.Lock()
	o.tasks[task.TaskID] = &trackedTask{task: task}
	o.mu.Unlock()
	o.persist(ctx, task)
}

func (o *Orchestrator) persist(ctx context.Context, task *domain.GenerationTask) {
	if o.snapshots == nil {
		return
	}
	if err := o.snapshots.Save(ctx, *task.Clone()); err != nil {
		o.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("task snapshot save failed")
	}
}
