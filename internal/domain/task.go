package domain

import "time"

// TaskKind enumerates the media categories a provider can produce.
type TaskKind string

const (
	TaskKindImage TaskKind = "image"
	TaskKindVideo TaskKind = "video"
)

// TaskStatus enumerates generation task lifecycle states.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusExpired   TaskStatus = "expired"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// Terminal reports whether no further provider-driven transition is possible.
// A succeeded task can still flip to expired, but only by the clock.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusExpired, TaskStatusCanceled:
		return true
	}
	return false
}

// FailureReason distinguishes why a task ended in failed so callers can
// decide between offering a retry and a hard error message.
type FailureReason string

const (
	FailureValidation     FailureReason = "validation"
	FailureProvider       FailureReason = "provider"
	FailureRetryExhausted FailureReason = "retry_exhausted"
)

// GenerationTask is one outstanding or completed provider job. It is owned
// exclusively by the orchestrator; all writes go through its methods.
type GenerationTask struct {
	TaskID string     `json:"task_id"`
	Kind   TaskKind   `json:"kind"`
	Status TaskStatus `json:"status"`
	Prompt string     `json:"prompt,omitempty"`
	// Reference is the image URL the submission carried, if any.
	Reference string `json:"reference,omitempty"`
	// SessionID and SubjectID bind a task back to the session store
	// it was submitted for. Reference-image tasks carry both so a
	// separate process can write the artifact URL onto the sheet.
	SessionID     string        `json:"session_id,omitempty"`
	SubjectID     string        `json:"subject_id,omitempty"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	ResultURL     string        `json:"result_url,omitempty"`
	Error         string        `json:"error,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	AttemptCount  int           `json:"attempt_count"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// allowedTransitions is the forward-only state machine. Absent entries are
// rejected; terminal states admit nothing except succeeded -> expired.
var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusPending: {
		TaskStatusRunning:   {},
		TaskStatusSucceeded: {},
		TaskStatusFailed:    {},
		TaskStatusCanceled:  {},
	},
	TaskStatusRunning: {
		TaskStatusSucceeded: {},
		TaskStatusFailed:    {},
		TaskStatusCanceled:  {},
	},
	TaskStatusSucceeded: {
		TaskStatusExpired: {},
	},
}

// CanTransition reports whether moving to next is legal from the current state.
func (t *GenerationTask) CanTransition(next TaskStatus) bool {
	_, ok := allowedTransitions[t.Status][next]
	return ok
}

// Start marks the task acknowledged by the provider.
func (t *GenerationTask) Start(now time.Time) {
	if !t.CanTransition(TaskStatusRunning) {
		return
	}
	t.Status = TaskStatusRunning
	t.UpdatedAt = now
}

// Succeed records the artifact URL and its validity deadline. ResultURL is
// only ever set here, once.
func (t *GenerationTask) Succeed(resultURL string, expiresAt time.Time, now time.Time) {
	if !t.CanTransition(TaskStatusSucceeded) {
		return
	}
	t.Status = TaskStatusSucceeded
	t.ResultURL = resultURL
	t.ExpiresAt = &expiresAt
	t.UpdatedAt = now
}

// Fail records a terminal failure with a distinguishable reason. Error is
// only ever set here, once, and never alongside ResultURL.
func (t *GenerationTask) Fail(reason FailureReason, message string, now time.Time) {
	if !t.CanTransition(TaskStatusFailed) {
		return
	}
	t.Status = TaskStatusFailed
	t.FailureReason = reason
	t.Error = message
	t.UpdatedAt = now
}

// Expire flips a succeeded task whose artifact window has elapsed.
func (t *GenerationTask) Expire(now time.Time) {
	if !t.CanTransition(TaskStatusExpired) {
		return
	}
	t.Status = TaskStatusExpired
	t.UpdatedAt = now
}

// CancelAt marks the task canceled. Callers must check Terminal first.
func (t *GenerationTask) CancelAt(now time.Time) {
	if !t.CanTransition(TaskStatusCanceled) {
		return
	}
	t.Status = TaskStatusCanceled
	t.UpdatedAt = now
}

// ArtifactExpired reports whether a succeeded artifact URL can no longer be
// trusted at the given instant.
func (t *GenerationTask) ArtifactExpired(now time.Time) bool {
	return t.Status == TaskStatusSucceeded && t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Clone returns a copy safe to return across the orchestrator boundary.
func (t *GenerationTask) Clone() *GenerationTask {
	out := *t
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		out.ExpiresAt = &exp
	}
	return &out
}
