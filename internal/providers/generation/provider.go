// Package generation defines the provider contract for asynchronous
// media generation and the Wan implementation backed by DashScope.
package generation

import (
	"context"
	"time"

	"demoforge/internal/domain"
)

// TaskState is the provider-side view of a job. It is narrower than
// domain.TaskStatus: expiry is orchestrator bookkeeping, providers
// never report it.
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
	StateCanceled  TaskState = "canceled"
)

// Submission carries everything a provider needs for one job.
// SessionID and SubjectID are orchestrator bookkeeping copied onto the
// task record; providers ignore them.
type Submission struct {
	Kind              domain.TaskKind
	Prompt            string
	NegativePrompt    string
	ReferenceImageURL string
	SessionID         string
	SubjectID         string
}

// SubmitResult is the provider acknowledgment. Image jobs may complete
// synchronously, in which case State is already succeeded and ResultURL
// is set; video jobs always come back pending behind a task id.
type SubmitResult struct {
	TaskID      string
	State       TaskState
	ResultURL   string
	ArtifactTTL time.Duration
	Message     string
}

// StatusResult is one poll observation.
type StatusResult struct {
	State       TaskState
	ResultURL   string
	Message     string
	Code        string
	ArtifactTTL time.Duration
}

// Provider is an opaque generation backend. Implementations map their
// transport failures onto the domain error taxonomy: validation
// problems to *domain.ValidationError, provider-reported failures to
// *domain.ProviderError, and network/timeout/rate-limit conditions to
// *domain.TransientError.
type Provider interface {
	Name() string
	Submit(ctx context.Context, sub Submission) (*SubmitResult, error)
	Status(ctx context.Context, taskID string) (*StatusResult, error)
	Cancel(ctx context.Context, taskID string) error
}
