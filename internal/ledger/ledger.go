// Package ledger persists job state for a processing run. The ledger file
// is the single source of truth: every mutation is written back before the
// orchestrator proceeds, so a restart resumes from the last persisted
// state with nothing lost beyond the in-flight job.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the ledger file within a run directory.
const FileName = "batch_status.json"

// Ledger is the ordered collection of jobs for a run.
type Ledger struct {
	LastUpdated time.Time `json:"last_updated"`
	TotalJobs   int       `json:"total_jobs"`
	Jobs        []*Job    `json:"jobs"`

	path string
}

// New creates an empty ledger that will persist to the given run directory.
func New(dir string) *Ledger {
	return &Ledger{path: filepath.Join(dir, FileName)}
}

// Load reads the ledger from a run directory. A missing file yields an
// empty ledger; an unreadable or invalid file is an error rather than a
// silent fresh start, since overwriting an existing run's ledger would
// double-submit every job. Unknown fields are ignored for forward
// compatibility.
func Load(dir string) (*Ledger, error) {
	l := New(dir)

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("ledger file %s is not valid: %w", l.path, err)
	}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", l.path, err)
	}
	return l, nil
}

// Save persists the full ledger atomically: the file is written whole to a
// temp path in the same directory, synced, then renamed over the previous
// version. A failed save must abort the run; continuing with an
// unpersisted ledger breaks the resume contract.
func (l *Ledger) Save() error {
	l.LastUpdated = time.Now().UTC()
	l.TotalJobs = len(l.Jobs)

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close ledger temp file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Get returns the job with the given name, or nil.
func (l *Ledger) Get(name string) *Job {
	for _, j := range l.Jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

// Add appends a job if no job with that name exists yet. Returns true when
// the job was added. Replanning over an existing ledger is therefore
// idempotent.
func (l *Ledger) Add(job *Job) bool {
	if l.Get(job.Name) != nil {
		return false
	}
	l.Jobs = append(l.Jobs, job)
	return true
}

// Counts summarizes job statuses.
type Counts struct {
	Total     int `json:"total" yaml:"total"`
	Completed int `json:"completed" yaml:"completed"`
	Failed    int `json:"failed" yaml:"failed"`
	TimedOut  int `json:"timed_out" yaml:"timed_out"`
	Pending   int `json:"pending" yaml:"pending"`
	Running   int `json:"running" yaml:"running"`
}

// Counts tallies jobs by status.
func (l *Ledger) Counts() Counts {
	c := Counts{Total: len(l.Jobs)}
	for _, j := range l.Jobs {
		switch j.Status {
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusTimedOut:
			c.TimedOut++
		case StatusRunning:
			c.Running++
		default:
			c.Pending++
		}
	}
	return c
}

// Unfinished returns jobs that are not Completed, for exit-code and
// summary reporting.
func (l *Ledger) Unfinished() []*Job {
	var out []*Job
	for _, j := range l.Jobs {
		if j.Status != StatusCompleted {
			out = append(out, j)
		}
	}
	return out
}
