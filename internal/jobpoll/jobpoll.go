// Package jobpoll drives long-running external jobs: start, poll on a fixed
// interval until a terminal state, and resolve or fail. Handles of in-flight
// jobs are kept in a Registry so a restarted process can resume waiting.
package jobpoll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrTimeout means polling gave up before the job reached a terminal state.
// It is distinct from a *ProviderError: the job may still finish remotely.
var ErrTimeout = errors.New("job poll attempts exhausted")

type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// NormalizeStatus maps provider vocabularies onto Status. Unknown values are
// treated as still processing.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "starting", "queued", "pending", "submitted", "created":
		return StatusStarting
	case "succeeded", "success", "successful", "completed", "complete", "done", "finished":
		return StatusSucceeded
	case "failed", "failure", "error", "errored":
		return StatusFailed
	case "canceled", "cancelled", "aborted":
		return StatusCanceled
	default:
		return StatusProcessing
	}
}

// Handle identifies a job on a provider.
type Handle struct {
	ID        string            `json:"id"`
	Provider  string            `json:"provider"`
	Status    Status            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (h Handle) key() string { return h.Provider + ":" + h.ID }

// Spec is the provider-agnostic job request.
type Spec struct {
	Kind  string
	Input map[string]any
	// Metadata is copied onto the handle (e.g. the workflow run id).
	Metadata map[string]string
}

// PollResult is one status observation.
type PollResult struct {
	Status Status
	// Output is the result location (usually a media URL) once succeeded.
	Output   string
	Error    string
	Progress float64
}

// Source is a provider that runs asynchronous jobs.
type Source interface {
	Name() string
	Start(ctx context.Context, spec Spec) (Handle, error)
	Poll(ctx context.Context, h Handle) (PollResult, error)
}

// ProviderError is a job the provider reported as failed or canceled.
type ProviderError struct {
	Provider string
	JobID    string
	Status   Status
	Message  string
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no error message"
	}
	return fmt.Sprintf("%s job %s %s: %s", e.Provider, e.JobID, e.Status, msg)
}

type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 120
	}
	return o
}
