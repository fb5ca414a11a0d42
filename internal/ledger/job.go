package ledger

import "time"

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timeout"
)

// Terminal reports whether the status is an end state for an attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Job is one chunk of record indices submitted as a single batch.
// Identity is Name, unique within a ledger. Jobs are created by the
// planner, mutated only by the orchestrator, and never deleted: terminal
// jobs stay in the ledger for audit and reconciliation.
type Job struct {
	Name         string     `json:"name"`
	StartIndex   int        `json:"start_index"`
	EndIndex     int        `json:"end_index"` // exclusive
	Indices      []int      `json:"indices,omitempty"`
	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ErrorMsg     string     `json:"error_message,omitempty"`
	ErrorClass   string     `json:"error_class,omitempty"`
	BatchID      string     `json:"batch_id,omitempty"`
	OutputFile   string     `json:"output_file,omitempty"`
	VerifiedRows int        `json:"verified_rows,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a pending job covering [start, end). indices optionally
// restricts the job to specific rows inside that range (rescue rounds).
func NewJob(name string, start, end, maxAttempts int, indices []int) *Job {
	return &Job{
		Name:        name,
		StartIndex:  start,
		EndIndex:    end,
		Indices:     indices,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
}

// Retryable reports whether the job may be attempted (again).
func (j *Job) Retryable() bool {
	switch j.Status {
	case StatusPending, StatusFailed, StatusTimedOut:
		return j.Attempts < j.MaxAttempts
	}
	return false
}

// Exhausted reports whether the job has used all attempts without
// completing.
func (j *Job) Exhausted() bool {
	return j.Status != StatusCompleted && j.Attempts >= j.MaxAttempts
}

// RowCount returns the number of rows the job covers.
func (j *Job) RowCount() int {
	if len(j.Indices) > 0 {
		return len(j.Indices)
	}
	return j.EndIndex - j.StartIndex
}

// Covers reports whether a record index belongs to this job.
func (j *Job) Covers(index int) bool {
	if index < j.StartIndex || index >= j.EndIndex {
		return false
	}
	if len(j.Indices) == 0 {
		return true
	}
	for _, i := range j.Indices {
		if i == index {
			return true
		}
	}
	return false
}
