// Package orchestrator drives jobs through their state machine against the
// batch submission gateway, persisting the ledger after every transition.
//
// The central defensive decision lives here: failure signals from the
// gateway are trusted, success signals are verified. A batch reported
// "completed" is only marked Completed after its result artifact has been
// fetched and shown to contain outcomes for this job's own row range.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackzampolin/roundup/internal/costs"
	"github.com/jackzampolin/roundup/internal/encoder"
	"github.com/jackzampolin/roundup/internal/gateway"
	"github.com/jackzampolin/roundup/internal/ledger"
	"github.com/jackzampolin/roundup/internal/reconcile"
	"github.com/jackzampolin/roundup/internal/records"
)

// Delays are the fixed inter-job sleeps. Fixed rather than exponential:
// the only consumer of these timings is rate-limit courtesy toward the
// gateway, and a human supervises the run.
type Delays struct {
	AfterSuccess time.Duration
	AfterFailure time.Duration
	RetryPass    time.Duration
}

// Config assembles a Runner.
type Config struct {
	Ledger           *ledger.Ledger
	Gateway          gateway.Gateway
	Table            *records.Table
	Dir              string // run directory for request/result artifacts
	Model            string
	CompletionWindow string
	EncodeOpts       encoder.Options
	PollInterval     time.Duration
	JobTimeout       time.Duration
	Delays           Delays
	Costs            *costs.Tracker // optional
	Logger           *slog.Logger
}

// Runner executes ledger jobs sequentially. One job runs at a time; the
// in-memory ledger it mutates is the same object that gets persisted, so
// disk and memory cannot diverge.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &Runner{cfg: cfg, logger: logger}
}

// RunJob executes a single attempt of a retryable job. The returned error
// is fatal to the run (ledger persistence failure or cancellation); a job
// that merely fails records its failure in the ledger and returns nil.
func (r *Runner) RunJob(ctx context.Context, job *ledger.Job) error {
	if !job.Retryable() {
		return fmt.Errorf("job %s is not runnable (status=%s attempts=%d/%d)",
			job.Name, job.Status, job.Attempts, job.MaxAttempts)
	}

	job.Attempts++
	job.Status = ledger.StatusRunning
	if err := r.save(); err != nil {
		return err
	}

	logger := r.logger.With("job", job.Name, "attempt", job.Attempts)
	logger.Info("running job", "rows", fmt.Sprintf("%d-%d", job.StartIndex+1, job.EndIndex))

	// Encode this job's records. Per-record skips are a data problem, not a
	// system fault; zero surviving requests still fails the attempt.
	var recs []records.Record
	if len(job.Indices) > 0 {
		recs = r.cfg.Table.Select(job.Indices)
	} else {
		recs = r.cfg.Table.Slice(job.StartIndex, job.EndIndex)
	}
	opts := r.cfg.EncodeOpts
	opts.Model = r.cfg.Model
	opts.Logger = logger
	reqs, skipped := encoder.Encode(recs, opts)
	if skipped > 0 {
		logger.Warn("skipped records with invalid payloads", "skipped", skipped)
	}
	if len(reqs) == 0 {
		return r.failJob(ctx, job, ledger.StatusFailed, fmt.Errorf("no valid requests"), ClassInput)
	}

	data, err := encoder.MarshalJSONL(reqs)
	if err != nil {
		return r.failJob(ctx, job, ledger.StatusFailed, err, ClassInput)
	}

	inputName := job.Name + ".jsonl"
	if err := os.WriteFile(filepath.Join(r.cfg.Dir, inputName), data, 0o644); err != nil {
		// Losing the write target of the run directory is process-fatal:
		// the ledger shares it.
		return fmt.Errorf("failed to write batch input file: %w", err)
	}

	jctx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	fileID, err := r.cfg.Gateway.Upload(jctx, inputName, data)
	if err != nil {
		return r.failGatewayErr(ctx, jctx, job, fmt.Errorf("upload failed: %w", err))
	}

	batchID, err := r.cfg.Gateway.SubmitBatch(jctx, fileID, r.cfg.CompletionWindow)
	if err != nil {
		return r.failGatewayErr(ctx, jctx, job, fmt.Errorf("submit failed: %w", err))
	}
	job.BatchID = batchID
	if err := r.save(); err != nil {
		return err
	}
	logger.Info("batch submitted", "batch_id", batchID)

	status, err := r.pollUntilTerminal(jctx, batchID, logger)
	if err != nil {
		return r.failGatewayErr(ctx, jctx, job, err)
	}

	if status.State != gateway.StateCompleted {
		return r.failJob(ctx, job, ledger.StatusFailed,
			fmt.Errorf("batch ended %s (%d/%d completed, %d failed)",
				status.State, status.Counts.Completed, status.Counts.Total, status.Counts.Failed),
			ClassUnknown)
	}

	return r.completeJob(ctx, jctx, job, status, logger)
}

// completeJob downloads artifacts and verifies them before trusting the
// gateway's completed state.
func (r *Runner) completeJob(ctx, jctx context.Context, job *ledger.Job, status gateway.BatchStatus, logger *slog.Logger) error {
	if status.OutputFileID == "" {
		return r.failJob(ctx, job, ledger.StatusFailed,
			fmt.Errorf("batch %s completed without an output file", status.ID), ClassUnknown)
	}

	result, err := r.cfg.Gateway.Fetch(jctx, status.OutputFileID)
	if err != nil {
		return r.failGatewayErr(ctx, jctx, job, fmt.Errorf("result download failed: %w", err))
	}

	resultName := fmt.Sprintf("batch_results_%s.jsonl", status.ID)
	if err := os.WriteFile(filepath.Join(r.cfg.Dir, resultName), result, 0o644); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}

	if status.ErrorFileID != "" {
		if errData, err := r.cfg.Gateway.Fetch(jctx, status.ErrorFileID); err != nil {
			logger.Warn("failed to download error file", "error", err)
		} else {
			errName := fmt.Sprintf("batch_errors_%s.jsonl", status.ID)
			if err := os.WriteFile(filepath.Join(r.cfg.Dir, errName), errData, 0o644); err != nil {
				return fmt.Errorf("failed to write error file: %w", err)
			}
		}
	}

	// Independent verification: the artifact must contain outcomes for this
	// job's own rows. The gateway's success signal alone is not evidence.
	outcomes, _ := reconcile.ParseFile(result, resultName)
	verified := 0
	for _, o := range outcomes {
		if job.Covers(o.Index) {
			verified++
		}
	}
	if verified == 0 {
		return r.failJob(ctx, job, ledger.StatusFailed,
			fmt.Errorf("batch %s completed but result file has no outcomes for rows %d-%d",
				status.ID, job.StartIndex+1, job.EndIndex), ClassUnknown)
	}

	now := time.Now().UTC()
	job.Status = ledger.StatusCompleted
	job.ErrorMsg = ""
	job.ErrorClass = ""
	job.OutputFile = resultName
	job.VerifiedRows = verified
	job.CompletedAt = &now
	if err := r.save(); err != nil {
		return err
	}

	if r.cfg.Costs != nil {
		est := costs.EstimateBatch(r.cfg.Model, job.RowCount())
		if err := r.cfg.Costs.Record(job.Name, job.BatchID, est); err != nil {
			logger.Warn("failed to record job cost", "error", err)
		}
		logger.Info("job completed", "verified_rows", verified, "estimated_cost_usd", est.BatchCost)
	} else {
		logger.Info("job completed", "verified_rows", verified)
	}
	return nil
}

// pollUntilTerminal polls the batch until the provider reports a terminal
// state or jctx expires.
func (r *Runner) pollUntilTerminal(jctx context.Context, batchID string, logger *slog.Logger) (gateway.BatchStatus, error) {
	for {
		status, err := r.cfg.Gateway.PollBatch(jctx, batchID)
		if err != nil {
			return gateway.BatchStatus{}, err
		}
		if status.State.Terminal() {
			return status, nil
		}
		logger.Info("batch in progress",
			"state", status.State,
			"completed", status.Counts.Completed,
			"total", status.Counts.Total,
			"failed", status.Counts.Failed)

		select {
		case <-jctx.Done():
			return gateway.BatchStatus{}, jctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// failGatewayErr records a gateway failure, distinguishing job timeouts
// (jctx expired while the parent is still live) from other failures.
func (r *Runner) failGatewayErr(ctx, jctx context.Context, job *ledger.Job, err error) error {
	if jctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return r.failJob(ctx, job, ledger.StatusTimedOut,
			fmt.Errorf("job timed out after %s: %w", r.cfg.JobTimeout, err), ClassTimeout)
	}
	if ctx.Err() != nil {
		// Run cancelled: leave a truthful failed record, then surface the
		// cancellation to stop the pass.
		if ferr := r.failJob(ctx, job, ledger.StatusFailed, err, classifyError(err)); ferr != nil {
			return ferr
		}
		return ctx.Err()
	}
	return r.failJob(ctx, job, ledger.StatusFailed, err, classifyError(err))
}

// failJob records a failed attempt. Only ledger persistence errors
// propagate.
func (r *Runner) failJob(ctx context.Context, job *ledger.Job, status ledger.Status, cause error, class string) error {
	job.Status = status
	job.ErrorMsg = cause.Error()
	job.ErrorClass = class
	if err := r.save(); err != nil {
		return err
	}
	r.logger.Error("job failed",
		"job", job.Name,
		"status", job.Status,
		"class", class,
		"attempts", fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
		"error", cause)
	return nil
}

func (r *Runner) save() error {
	if err := r.cfg.Ledger.Save(); err != nil {
		return fmt.Errorf("ledger persistence failed, aborting run: %w", err)
	}
	return nil
}

// RunAll executes every runnable job in ledger order. Completed jobs and
// jobs out of attempts are skipped. Between jobs the runner sleeps longer
// after a failure than after a success.
func (r *Runner) RunAll(ctx context.Context) error {
	for i, job := range r.cfg.Ledger.Jobs {
		if job.Status == ledger.StatusCompleted {
			r.logger.Info("skipping completed job", "job", job.Name)
			continue
		}
		if job.Exhausted() {
			r.logger.Warn("skipping job out of attempts", "job", job.Name, "attempts", job.Attempts)
			continue
		}

		if err := r.RunJob(ctx, job); err != nil {
			return err
		}

		if i < len(r.cfg.Ledger.Jobs)-1 {
			delay := r.cfg.Delays.AfterSuccess
			if job.Status != ledger.StatusCompleted {
				delay = r.cfg.Delays.AfterFailure
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// RetryFailed re-runs Failed/TimedOut jobs that still have attempts left,
// with the longer retry-pass delay between them. Explicit names act as a
// manual override: those jobs get their attempt counter reset first.
func (r *Runner) RetryFailed(ctx context.Context, names []string) error {
	if len(names) > 0 {
		for _, name := range names {
			job := r.cfg.Ledger.Get(name)
			if job == nil {
				return fmt.Errorf("no job named %s in ledger", name)
			}
			if job.Status == ledger.StatusCompleted {
				r.logger.Info("not retrying completed job", "job", job.Name)
				continue
			}
			job.Attempts = 0
			job.ErrorMsg = ""
			job.ErrorClass = ""
		}
		if err := r.save(); err != nil {
			return err
		}
	}

	var retryable []*ledger.Job
	for _, job := range r.cfg.Ledger.Jobs {
		if (job.Status == ledger.StatusFailed || job.Status == ledger.StatusTimedOut) && job.Retryable() {
			retryable = append(retryable, job)
		}
	}
	if len(retryable) == 0 {
		r.logger.Info("no failed jobs eligible for retry")
		return nil
	}

	r.logger.Info("retrying failed jobs", "count", len(retryable))
	for i, job := range retryable {
		if err := r.RunJob(ctx, job); err != nil {
			return err
		}
		if i < len(retryable)-1 {
			if err := sleep(ctx, r.cfg.Delays.RetryPass); err != nil {
				return err
			}
		}
	}
	return nil
}

// Summary describes run completion for operator reporting and exit codes.
type Summary struct {
	Counts     ledger.Counts `json:"counts" yaml:"counts"`
	Unfinished []JobFailure  `json:"unfinished,omitempty" yaml:"unfinished,omitempty"`
}

// JobFailure is one non-completed job with its diagnostics.
type JobFailure struct {
	Name     string `json:"name" yaml:"name"`
	Status   string `json:"status" yaml:"status"`
	Rows     string `json:"rows" yaml:"rows"`
	Attempts string `json:"attempts" yaml:"attempts"`
	Class    string `json:"class,omitempty" yaml:"class,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Summarize reports ledger completion state.
func (r *Runner) Summarize() Summary {
	s := Summary{Counts: r.cfg.Ledger.Counts()}
	for _, job := range r.cfg.Ledger.Unfinished() {
		s.Unfinished = append(s.Unfinished, JobFailure{
			Name:     job.Name,
			Status:   string(job.Status),
			Rows:     fmt.Sprintf("%d-%d", job.StartIndex+1, job.EndIndex),
			Attempts: fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
			Class:    job.ErrorClass,
			Error:    job.ErrorMsg,
		})
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
