package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"demoforge/internal/domain"
)

// Local is a synthetic provider for development and tests. Image jobs
// resolve synchronously; video jobs become tasks that succeed after a
// fixed number of polls. No network is involved and output URLs are
// deterministic per task.
type Local struct {
	// PollsUntilDone is how many Status calls a video task needs
	// before it succeeds. Zero means two.
	PollsUntilDone int

	mu    sync.Mutex
	tasks map[string]*localTask
}

type localTask struct {
	kind     domain.TaskKind
	polls    int
	canceled bool
}

func NewLocal() *Local {
	return &Local{tasks: make(map[string]*localTask)}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	if strings.TrimSpace(sub.Prompt) == "" {
		return nil, &domain.ValidationError{Msg: "prompt is required"}
	}
	id := uuid.NewString()
	if sub.Kind == domain.TaskKindImage {
		return &SubmitResult{
			TaskID:      id,
			State:       StateSucceeded,
			ResultURL:   fmt.Sprintf("https://local.demoforge.invalid/%s.png", id),
			ArtifactTTL: DefaultArtifactTTL,
		}, nil
	}
	l.mu.Lock()
	l.tasks[id] = &localTask{kind: sub.Kind}
	l.mu.Unlock()
	return &SubmitResult{TaskID: id, State: StatePending, ArtifactTTL: DefaultArtifactTTL}, nil
}

func (l *Local) Status(ctx context.Context, taskID string) (*StatusResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.tasks[taskID]
	if !ok {
		return nil, &domain.ProviderError{Message: "unknown task " + taskID}
	}
	if task.canceled {
		return &StatusResult{State: StateCanceled}, nil
	}
	task.polls++
	threshold := l.PollsUntilDone
	if threshold <= 0 {
		threshold = 2
	}
	if task.polls < threshold {
		return &StatusResult{State: StateRunning}, nil
	}
	return &StatusResult{
		State:       StateSucceeded,
		ResultURL:   fmt.Sprintf("https://local.demoforge.invalid/%s.mp4", taskID),
		ArtifactTTL: DefaultArtifactTTL,
	}, nil
}

func (l *Local) Cancel(ctx context.Context, taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if task, ok := l.tasks[taskID]; ok {
		task.canceled = true
	}
	return nil
}

var _ Provider = (*Local)(nil)
