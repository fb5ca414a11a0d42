// Package costs estimates and records spend per batch job. Estimates use
// assumed token counts per multi-modal request; the batch API does not
// report usage per job, so the ledger is explicit about being an estimate.
package costs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Pricing is USD per 1M tokens.
type Pricing struct {
	Input  float64
	Output float64
}

// pricing covers the models this tool is pointed at. Unknown models fall
// back to gpt-4o-mini.
var pricing = map[string]Pricing{
	"gpt-4o":       {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":  {Input: 0.15, Output: 0.60},
	"gpt-4.1":      {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini": {Input: 0.40, Output: 1.60},
	"gpt-4.1-nano": {Input: 0.10, Output: 0.40},
}

const (
	// BatchDiscount is the provider's batch API discount.
	BatchDiscount = 0.5

	// Assumed tokens per request: image (~1000) + prompt (~200) in,
	// average response length out.
	avgInputTokens  = 1200
	avgOutputTokens = 200
)

// Estimate is the projected cost of one batch job.
type Estimate struct {
	NumRequests  int     `json:"num_requests"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"estimated_input_tokens"`
	OutputTokens int64   `json:"estimated_output_tokens"`
	RegularCost  float64 `json:"regular_cost"`
	BatchCost    float64 `json:"batch_cost"`
	Savings      float64 `json:"savings"`
}

// EstimateBatch projects the cost of numRequests requests against a model.
func EstimateBatch(model string, numRequests int) Estimate {
	p, ok := pricing[model]
	if !ok {
		p = pricing["gpt-4o-mini"]
	}

	in := int64(numRequests) * avgInputTokens
	out := int64(numRequests) * avgOutputTokens
	regular := float64(in)/1_000_000*p.Input + float64(out)/1_000_000*p.Output
	batch := regular * BatchDiscount

	return Estimate{
		NumRequests:  numRequests,
		Model:        model,
		InputTokens:  in,
		OutputTokens: out,
		RegularCost:  regular,
		BatchCost:    batch,
		Savings:      regular - batch,
	}
}

// FileName is the cost ledger file within a run directory.
const FileName = "batch_costs.json"

// Entry is one recorded batch cost.
type Entry struct {
	RunID     string    `json:"run_id"`
	BatchName string    `json:"batch_name"`
	BatchID   string    `json:"batch_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Estimate
}

// Book is the persisted cost ledger for a run directory.
type Book struct {
	TotalCost         float64   `json:"total_cost"`
	TotalInputTokens  int64     `json:"total_input_tokens"`
	TotalOutputTokens int64     `json:"total_output_tokens"`
	Batches           []Entry   `json:"batches"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Tracker accumulates batch costs and persists them after each record.
type Tracker struct {
	path  string
	runID string
	book  Book
}

// NewTracker loads (or initializes) the cost ledger in dir. Each tracker
// instance stamps its entries with a fresh run id.
func NewTracker(dir string) (*Tracker, error) {
	t := &Tracker{
		path:  filepath.Join(dir, FileName),
		runID: uuid.New().String(),
	}

	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cost ledger: %w", err)
	}
	if err := json.Unmarshal(data, &t.book); err != nil {
		return nil, fmt.Errorf("failed to parse cost ledger %s: %w", t.path, err)
	}
	return t, nil
}

// Record appends a batch cost entry and persists the ledger.
func (t *Tracker) Record(batchName, batchID string, est Estimate) error {
	t.book.Batches = append(t.book.Batches, Entry{
		RunID:     t.runID,
		BatchName: batchName,
		BatchID:   batchID,
		Timestamp: time.Now().UTC(),
		Estimate:  est,
	})
	t.book.TotalCost += est.BatchCost
	t.book.TotalInputTokens += est.InputTokens
	t.book.TotalOutputTokens += est.OutputTokens
	return t.save()
}

func (t *Tracker) save() error {
	t.book.LastUpdated = time.Now().UTC()
	data, err := json.MarshalIndent(t.book, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cost ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.path), FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create cost ledger temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cost ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cost ledger: %w", err)
	}
	return nil
}

// Summary reports accumulated spend.
type Summary struct {
	TotalBatches      int     `json:"total_batches" yaml:"total_batches"`
	TotalRequests     int     `json:"total_requests" yaml:"total_requests"`
	TotalCost         float64 `json:"total_cost" yaml:"total_cost"`
	TotalInputTokens  int64   `json:"total_input_tokens" yaml:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens" yaml:"total_output_tokens"`
	AvgCostPerRequest float64 `json:"avg_cost_per_request" yaml:"avg_cost_per_request"`
	LastUpdated       string  `json:"last_updated" yaml:"last_updated"`
}

// Summary computes totals over all recorded batches.
func (t *Tracker) Summary() Summary {
	s := Summary{
		TotalBatches:      len(t.book.Batches),
		TotalCost:         t.book.TotalCost,
		TotalInputTokens:  t.book.TotalInputTokens,
		TotalOutputTokens: t.book.TotalOutputTokens,
	}
	for _, b := range t.book.Batches {
		s.TotalRequests += b.NumRequests
	}
	if s.TotalRequests > 0 {
		s.AvgCostPerRequest = s.TotalCost / float64(s.TotalRequests)
	}
	if !t.book.LastUpdated.IsZero() {
		s.LastUpdated = t.book.LastUpdated.Format(time.RFC3339)
	}
	return s
}
