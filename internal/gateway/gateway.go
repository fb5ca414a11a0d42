// Package gateway wraps the asynchronous batch-inference provider. The
// orchestrator sees four operations: upload a request file, submit a batch
// against it, poll the batch, and fetch result artifacts.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// State mirrors the provider's batch lifecycle states.
type State string

const (
	StateValidating State = "validating"
	StateInProgress State = "in_progress"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateExpired    State = "expired"
	StateCancelling State = "cancelling"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether the provider will make no further progress.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired, StateCancelled:
		return true
	}
	return false
}

// RequestCounts reports per-request progress inside a batch.
type RequestCounts struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// BatchStatus is one poll observation.
type BatchStatus struct {
	ID           string        `json:"id"`
	State        State         `json:"state"`
	Counts       RequestCounts `json:"counts"`
	OutputFileID string        `json:"output_file_id,omitempty"`
	ErrorFileID  string        `json:"error_file_id,omitempty"`
}

// Gateway is the batch submission interface. All calls block and honor
// context cancellation; the orchestrator bounds them with timeouts.
type Gateway interface {
	// Upload stores a request file with the provider and returns its handle.
	Upload(ctx context.Context, name string, data []byte) (fileID string, err error)
	// SubmitBatch creates a batch over a previously uploaded file.
	SubmitBatch(ctx context.Context, fileID, completionWindow string) (batchID string, err error)
	// PollBatch returns the current status of a batch.
	PollBatch(ctx context.Context, batchID string) (BatchStatus, error)
	// Fetch downloads a provider file's content.
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

// ErrorKind classifies gateway failures for operator diagnostics.
// Classification never drives control flow.
type ErrorKind string

const (
	KindQuota      ErrorKind = "quota"
	KindRateLimit  ErrorKind = "rate_limit"
	KindCredential ErrorKind = "credential"
	KindInput      ErrorKind = "input_validation"
	KindTransport  ErrorKind = "transport"
	KindUnknown    ErrorKind = "unknown"
)

// Error is a typed gateway failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s error: %s", e.Kind, e.Message)
}

// KindOf extracts the error kind, defaulting to unknown.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// retryable reports whether an error is worth retrying at the transport
// level. Quota, credential and input errors will not heal on retry.
func retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTransport, KindUnknown:
		return true
	}
	return false
}
