package costs

import (
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEstimateBatch(t *testing.T) {
	t.Run("known model", func(t *testing.T) {
		est := EstimateBatch("gpt-4o-mini", 100)

		if est.InputTokens != 120_000 || est.OutputTokens != 20_000 {
			t.Errorf("tokens = %d in / %d out", est.InputTokens, est.OutputTokens)
		}
		// 120k in @ $0.15/1M + 20k out @ $0.60/1M = 0.018 + 0.012 = 0.030
		if !approx(est.RegularCost, 0.030) {
			t.Errorf("regular = %f", est.RegularCost)
		}
		if !approx(est.BatchCost, 0.015) {
			t.Errorf("batch = %f", est.BatchCost)
		}
		if !approx(est.Savings, 0.015) {
			t.Errorf("savings = %f", est.Savings)
		}
	})

	t.Run("unknown model falls back to mini pricing", func(t *testing.T) {
		known := EstimateBatch("gpt-4o-mini", 10)
		unknown := EstimateBatch("gpt-9-experimental", 10)
		if !approx(known.BatchCost, unknown.BatchCost) {
			t.Errorf("fallback pricing mismatch: %f vs %f", known.BatchCost, unknown.BatchCost)
		}
	})

	t.Run("zero requests cost nothing", func(t *testing.T) {
		est := EstimateBatch("gpt-4o", 0)
		if est.BatchCost != 0 || est.InputTokens != 0 {
			t.Errorf("estimate = %+v", est)
		}
	})
}

func TestTracker(t *testing.T) {
	t.Run("records accumulate and persist", func(t *testing.T) {
		dir := t.TempDir()
		tr, err := NewTracker(dir)
		if err != nil {
			t.Fatal(err)
		}

		if err := tr.Record("batch_001", "batch-1", EstimateBatch("gpt-4o-mini", 20)); err != nil {
			t.Fatal(err)
		}
		if err := tr.Record("batch_002", "batch-2", EstimateBatch("gpt-4o-mini", 10)); err != nil {
			t.Fatal(err)
		}

		s := tr.Summary()
		if s.TotalBatches != 2 || s.TotalRequests != 30 {
			t.Errorf("summary = %+v", s)
		}
		if !approx(s.AvgCostPerRequest, s.TotalCost/30) {
			t.Errorf("avg = %f", s.AvgCostPerRequest)
		}

		// A fresh tracker over the same directory sees the history.
		tr2, err := NewTracker(dir)
		if err != nil {
			t.Fatal(err)
		}
		s2 := tr2.Summary()
		if s2.TotalBatches != 2 || !approx(s2.TotalCost, s.TotalCost) {
			t.Errorf("reloaded summary = %+v", s2)
		}
	})

	t.Run("empty directory starts empty", func(t *testing.T) {
		tr, err := NewTracker(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if s := tr.Summary(); s.TotalBatches != 0 || s.TotalCost != 0 {
			t.Errorf("summary = %+v", s)
		}
	})
}
