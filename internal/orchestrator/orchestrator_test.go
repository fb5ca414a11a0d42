package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/roundup/internal/encoder"
	"github.com/jackzampolin/roundup/internal/gateway"
	"github.com/jackzampolin/roundup/internal/ledger"
	"github.com/jackzampolin/roundup/internal/planner"
	"github.com/jackzampolin/roundup/internal/records"
)

// tableWithPayloads builds an n-row table whose image payloads exist on disk.
func tableWithPayloads(t *testing.T, dir string, n int) *records.Table {
	t.Helper()
	table := &records.Table{Header: []string{"Image Path", "Content of P1"}}
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("img_%d.png", i))
		if err := os.WriteFile(path, []byte("\x89PNG fake"), 0o644); err != nil {
			t.Fatal(err)
		}
		table.Records = append(table.Records, records.Record{
			Index:     i,
			ImagePath: path,
			Prompt:    "describe this receipt",
			Raw:       []string{path, "describe this receipt"},
		})
	}
	return table
}

// resultData builds a result file covering rows [lo, hi).
func resultData(lo, hi int) []byte {
	var b strings.Builder
	for i := lo; i < hi; i++ {
		fmt.Fprintf(&b, `{"custom_id":"row_%d","response":{"body":{"choices":[{"message":{"content":"row %d text"}}]}}}`+"\n", i, i)
	}
	return []byte(b.String())
}

func newRunner(t *testing.T, fake *gateway.Fake, rows, batchSize int) (*Runner, *ledger.Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	led := ledger.New(dir)
	table := tableWithPayloads(t, dir, rows)
	planner.Plan(led, 0, rows, batchSize, 3)

	r := New(Config{
		Ledger:           led,
		Gateway:          fake,
		Table:            table,
		Dir:              dir,
		Model:            "gpt-4o-mini",
		CompletionWindow: "24h",
		PollInterval:     time.Millisecond,
		JobTimeout:       time.Second,
		EncodeOpts:       encoder.Options{},
	})
	return r, led, dir
}

func TestRunJob(t *testing.T) {
	t.Run("success path marks verified completion", func(t *testing.T) {
		fake := gateway.NewFake()
		fake.PollStates = []gateway.BatchStatus{
			{State: gateway.StateInProgress, Counts: gateway.RequestCounts{Total: 3, Completed: 1}},
			{State: gateway.StateCompleted, Counts: gateway.RequestCounts{Total: 3, Completed: 3}, OutputFileID: "file-out"},
		}
		fake.Files["file-out"] = resultData(0, 3)

		r, led, dir := newRunner(t, fake, 3, 3)
		job := led.Jobs[0]

		if err := r.RunJob(context.Background(), job); err != nil {
			t.Fatalf("RunJob: %v", err)
		}

		if job.Status != ledger.StatusCompleted {
			t.Fatalf("status = %s, want completed (error: %s)", job.Status, job.ErrorMsg)
		}
		if job.Attempts != 1 {
			t.Errorf("attempts = %d, want 1", job.Attempts)
		}
		if job.VerifiedRows != 3 {
			t.Errorf("verified_rows = %d, want 3", job.VerifiedRows)
		}
		if job.CompletedAt == nil {
			t.Error("completed_at not set")
		}
		if job.BatchID == "" {
			t.Error("batch id not recorded")
		}

		// The uploaded request file carries the row-bound custom ids.
		uploaded, ok := fake.Uploaded("file-upload-1")
		if !ok {
			t.Fatal("no upload recorded")
		}
		if !strings.Contains(string(uploaded), `"custom_id":"row_0"`) {
			t.Error("uploaded file missing row_0 request")
		}

		// Input and result artifacts on disk, ledger persisted.
		if _, err := os.Stat(filepath.Join(dir, job.Name+".jsonl")); err != nil {
			t.Errorf("input file missing: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, job.OutputFile)); err != nil {
			t.Errorf("result file missing: %v", err)
		}
		reloaded, err := ledger.Load(dir)
		if err != nil {
			t.Fatal(err)
		}
		if got := reloaded.Get(job.Name); got == nil || got.Status != ledger.StatusCompleted {
			t.Error("completion not persisted to ledger file")
		}
	})

	t.Run("completed batch with no in-range outcomes is a failure", func(t *testing.T) {
		fake := gateway.NewFake()
		fake.PollStates = []gateway.BatchStatus{
			{State: gateway.StateCompleted, OutputFileID: "file-out"},
		}
		// Outcomes exist but for somebody else's rows.
		fake.Files["file-out"] = resultData(50, 53)

		r, led, _ := newRunner(t, fake, 3, 3)
		job := led.Jobs[0]

		if err := r.RunJob(context.Background(), job); err != nil {
			t.Fatalf("RunJob: %v", err)
		}
		if job.Status != ledger.StatusFailed {
			t.Fatalf("status = %s, want failed", job.Status)
		}
		if !strings.Contains(job.ErrorMsg, "no outcomes") {
			t.Errorf("error = %q", job.ErrorMsg)
		}
	})

	t.Run("rescue job verification only counts its own indices", func(t *testing.T) {
		fake := gateway.NewFake()
		fake.PollStates = []gateway.BatchStatus{
			{State: gateway.StateCompleted, OutputFileID: "file-out"},
		}
		// Row 1 sits inside the job's [0,3) envelope but is not one of the
		// rescued rows, so it must not count as verification.
		fake.Files["file-out"] = resultData(1, 2)

		dir := t.TempDir()
		led := ledger.New(dir)
		table := tableWithPayloads(t, dir, 3)
		planner.PlanIndices(led, []int{0, 2}, 10, 3)

		r := New(Config{
			Ledger: led, Gateway: fake, Table: table, Dir: dir,
			Model: "gpt-4o-mini", CompletionWindow: "24h",
			PollInterval: time.Millisecond, JobTimeout: time.Second,
		})

		job := led.Jobs[0]
		if err := r.RunJob(context.Background(), job); err != nil {
			t.Fatalf("RunJob: %v", err)
		}
		if job.Status != ledger.StatusFailed {
			t.Fatalf("status = %s, want failed", job.Status)
		}

		// A result for one of the rescued rows does verify.
		fake.Files["file-out"] = resultData(2, 3)
		if err := r.RunJob(context.Background(), job); err != nil {
			t.Fatalf("RunJob: %v", err)
		}
		if job.Status != ledger.StatusCompleted {
			t.Fatalf("status = %s, want completed (error: %s)", job.Status, job.ErrorMsg)
		}
		if job.VerifiedRows != 1 {
			t.Errorf("verified_rows = %d, want 1", job.VerifiedRows)
		}
	})

	t.Run("completed batch without output file is a failure", func(t *testing.T) {
		fake := gateway.NewFake()
		fake.PollStates = []gateway.BatchStatus{{State: gateway.StateCompleted}}

		r, led, _ := newRunner(t, fake, 2, 2)
		job := led.Jobs[0]

		if err := r.RunJob(context.Background(), job); err != nil {
			t.Fatalf("RunJob: %v", err)
		}
		if job.Status != ledger.StatusFailed {
			t.Fatalf("status = %s, want failed", job.Status)
		}
	})

	t.Run("terminal failed state records the batch counts", func(t *testing.T) {
		fake := gateway.NewFake()
		fake.PollStates = []gateway.BatchStatus{
			{State: gateway.StateFailed, Counts: gateway.RequestCounts{Total: 2, Failed: 2}},
		}

		r, led, _ := newRunner(t, fake, 2, 2)
		job := led.Jobs[0]

		if err := r.RunJob(context.Background(), job); err != nil {
			t.Fatalf("RunJob: %v", err)
		}
		if job.Status != ledger.StatusFailed {
			t.Fatalf("status = %s, want failed", job.Status)
		}
		if !strings.Contains(job.ErrorMsg, "failed") {
			t.Errorf("error = %q", job.ErrorMsg)
		}
	})

	t.Run("records with no valid payloads fail the attempt", func(t *testing.T) {
		fake := gateway.NewFake()
		dir := t.TempDir()
		led := ledger.New(dir)
		table := &records.Table{
			Header: []string{"Image Path", "Content of P1"},
			Records: []records.Record{
				{Index: 0, ImagePath: filepath.Join(dir, "gone.png"), Prompt: "p"},
			},
		}
		planner.Plan(led, 0, 1, 1, 3)

		r := New(Config{
			Ledger: led, Gateway: fake, Table: table, Dir: dir,
			Model: "gpt-4o-mini", CompletionWindow: "24h",
			PollInterval: time.Millisecond, JobTimeout: time.Second,
		})

		job := led.Jobs[0]
		if err := r.RunJob(context.Background(), job); err != nil {
			t.Fatalf("RunJob: %v", err)
		}
		if job.Status != ledger.StatusFailed || job.ErrorClass != ClassInput {
			t.Errorf("status=%s class=%s, want failed/input_validation", job.Status, job.ErrorClass)
		}
		if !strings.Contains(job.ErrorMsg, "no valid requests") {
			t.Errorf("error = %q", job.ErrorMsg)
		}
	})

	t.Run("job timeout becomes timed out, not failed", func(t *testing.T) {
		fake := gateway.NewFake() // no scripted states: forever in_progress

		r, led, _ := newRunner(t, fake, 2, 2)
		r.cfg.JobTimeout = 20 * time.Millisecond
		job := led.Jobs[0]

		if err := r.RunJob(context.Background(), job); err != nil {
			t.Fatalf("RunJob: %v", err)
		}
		if job.Status != ledger.StatusTimedOut {
			t.Fatalf("status = %s, want timeout", job.Status)
		}
		if job.ErrorClass != ClassTimeout {
			t.Errorf("class = %s, want timeout", job.ErrorClass)
		}
	})

	t.Run("non-retryable job refuses to run", func(t *testing.T) {
		fake := gateway.NewFake()
		r, led, _ := newRunner(t, fake, 2, 2)
		job := led.Jobs[0]
		job.Status = ledger.StatusCompleted

		if err := r.RunJob(context.Background(), job); err == nil {
			t.Fatal("expected error running a completed job")
		}
	})
}

func TestRetryBound(t *testing.T) {
	t.Run("attempts never exceed the cap", func(t *testing.T) {
		fake := gateway.NewFake()
		fake.SubmitErr = &gateway.Error{Kind: gateway.KindRateLimit, StatusCode: 429, Message: "too many requests"}

		r, led, _ := newRunner(t, fake, 2, 2)
		ctx := context.Background()
		job := led.Jobs[0]

		if err := r.RunAll(ctx); err != nil {
			t.Fatalf("RunAll: %v", err)
		}
		if job.Attempts != 1 || job.Status != ledger.StatusFailed {
			t.Fatalf("after first pass: attempts=%d status=%s", job.Attempts, job.Status)
		}
		if job.ErrorClass != ClassRateLimit {
			t.Errorf("class = %s, want rate_limit", job.ErrorClass)
		}

		for pass := 0; pass < 4; pass++ {
			if err := r.RetryFailed(ctx, nil); err != nil {
				t.Fatalf("RetryFailed pass %d: %v", pass, err)
			}
		}
		if job.Attempts != 3 {
			t.Errorf("attempts = %d, want exactly 3", job.Attempts)
		}
		if !job.Exhausted() {
			t.Error("job should be exhausted")
		}
	})

	t.Run("three timeouts exhaust a job and later passes skip it", func(t *testing.T) {
		fake := gateway.NewFake() // forever in_progress

		r, led, _ := newRunner(t, fake, 2, 2)
		r.cfg.JobTimeout = 15 * time.Millisecond
		ctx := context.Background()
		job := led.Jobs[0]

		if err := r.RunAll(ctx); err != nil {
			t.Fatal(err)
		}
		if err := r.RetryFailed(ctx, nil); err != nil {
			t.Fatal(err)
		}
		if err := r.RetryFailed(ctx, nil); err != nil {
			t.Fatal(err)
		}

		if job.Status != ledger.StatusTimedOut || job.Attempts != 3 {
			t.Fatalf("status=%s attempts=%d, want timeout/3", job.Status, job.Attempts)
		}

		// Exhausted: neither pass style touches it again.
		if err := r.RetryFailed(ctx, nil); err != nil {
			t.Fatal(err)
		}
		if err := r.RunAll(ctx); err != nil {
			t.Fatal(err)
		}
		if job.Attempts != 3 {
			t.Errorf("attempts grew to %d after exhaustion", job.Attempts)
		}
	})

	t.Run("naming a job resets its attempts", func(t *testing.T) {
		fake := gateway.NewFake()
		fake.SubmitErr = &gateway.Error{Kind: gateway.KindTransport, Message: "connection refused"}

		r, led, _ := newRunner(t, fake, 2, 2)
		ctx := context.Background()
		job := led.Jobs[0]

		if err := r.RunAll(ctx); err != nil {
			t.Fatal(err)
		}
		r.RetryFailed(ctx, nil)
		r.RetryFailed(ctx, nil)
		if !job.Exhausted() {
			t.Fatalf("setup: job not exhausted (attempts=%d)", job.Attempts)
		}

		// Manual override: heal the gateway, name the job.
		fake.SubmitErr = nil
		fake.PollStates = []gateway.BatchStatus{
			{State: gateway.StateCompleted, OutputFileID: "file-out"},
		}
		fake.Files["file-out"] = resultData(0, 2)

		if err := r.RetryFailed(ctx, []string{job.Name}); err != nil {
			t.Fatalf("RetryFailed: %v", err)
		}
		if job.Status != ledger.StatusCompleted {
			t.Errorf("status = %s, want completed (error: %s)", job.Status, job.ErrorMsg)
		}
		if job.Attempts != 1 {
			t.Errorf("attempts = %d, want 1 after reset", job.Attempts)
		}
	})

	t.Run("naming an unknown job is an error", func(t *testing.T) {
		r, _, _ := newRunner(t, gateway.NewFake(), 2, 2)
		if err := r.RetryFailed(context.Background(), []string{"batch_999"}); err == nil {
			t.Fatal("expected error for unknown job name")
		}
	})
}

func TestRunAll(t *testing.T) {
	t.Run("skips completed jobs and runs the rest", func(t *testing.T) {
		fake := gateway.NewFake()
		fake.PollStates = []gateway.BatchStatus{
			{State: gateway.StateCompleted, OutputFileID: "file-out"},
		}
		fake.Files["file-out"] = resultData(0, 4)

		r, led, _ := newRunner(t, fake, 4, 2)
		led.Jobs[0].Status = ledger.StatusCompleted
		led.Jobs[0].Attempts = 1

		if err := r.RunAll(context.Background()); err != nil {
			t.Fatalf("RunAll: %v", err)
		}
		if led.Jobs[0].Attempts != 1 {
			t.Error("completed job was re-run")
		}
		if led.Jobs[1].Status != ledger.StatusCompleted {
			t.Errorf("second job = %s (error: %s)", led.Jobs[1].Status, led.Jobs[1].ErrorMsg)
		}
	})

	t.Run("cancellation stops the pass", func(t *testing.T) {
		fake := gateway.NewFake() // forever in_progress

		r, led, _ := newRunner(t, fake, 4, 2)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		if err := r.RunAll(ctx); err == nil {
			t.Fatal("expected cancellation error")
		}
		// The interrupted job still left a truthful record.
		if led.Jobs[0].Status == ledger.StatusRunning {
			t.Error("cancelled job left dangling running status")
		}
	})
}

func TestSummarize(t *testing.T) {
	fake := gateway.NewFake()
	r, led, _ := newRunner(t, fake, 4, 2)
	led.Jobs[0].Status = ledger.StatusCompleted
	led.Jobs[1].Status = ledger.StatusFailed
	led.Jobs[1].Attempts = 3
	led.Jobs[1].ErrorMsg = "submit failed"
	led.Jobs[1].ErrorClass = ClassQuota

	s := r.Summarize()
	if s.Counts.Total != 2 || s.Counts.Completed != 1 || s.Counts.Failed != 1 {
		t.Errorf("counts = %+v", s.Counts)
	}
	if len(s.Unfinished) != 1 {
		t.Fatalf("unfinished = %d, want 1", len(s.Unfinished))
	}
	u := s.Unfinished[0]
	if u.Name != led.Jobs[1].Name || u.Class != ClassQuota || u.Attempts != "3/3" {
		t.Errorf("unfinished = %+v", u)
	}
}
