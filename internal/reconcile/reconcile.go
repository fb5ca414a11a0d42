// Package reconcile merges provider result files back onto the record
// table. It is a stateless, deterministic transform: the same table and the
// same file list in the same order always produce the same output.
package reconcile

import (
	"log/slog"

	"github.com/jackzampolin/roundup/internal/records"
)

// RefusalPrefix marks provider refusals in the output table so downstream
// analysis can separate them from genuine content.
const RefusalPrefix = "[refusal] "

// File is one result file in merge order. Order is the duplicate tie-break:
// a later file's outcome for the same index wins.
type File struct {
	Name string
	Data []byte
}

// Stats summarizes a merge.
type Stats struct {
	Completed      int `json:"completed" yaml:"completed"`
	Missing        int `json:"missing" yaml:"missing"`
	Duplicates     int `json:"duplicates" yaml:"duplicates"`
	Outcomes       int `json:"outcomes" yaml:"outcomes"`
	DecodeFailures int `json:"decode_failures" yaml:"decode_failures"`
	Unmatched      int `json:"unmatched_ids" yaml:"unmatched_ids"`
}

// Result is the full merge output: one reconciled row per table record plus
// the 1-based missing row numbers for the next retry round.
type Result struct {
	Rows        []records.ReconciledRow
	MissingRows []int
	Stats       Stats
}

// Merge parses every file in order, resolves duplicates last-write-wins,
// and populates an outcome for every index in [0, N). Rows with no outcome
// are Missing; completed + missing always equals N.
func Merge(table *records.Table, files []File, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}

	var res Result
	byIndex := make(map[int]Outcome)

	for _, f := range files {
		outcomes, ps := ParseFile(f.Data, f.Name)
		res.Stats.Outcomes += ps.Outcomes
		res.Stats.DecodeFailures += ps.DecodeFailures
		res.Stats.Unmatched += ps.Unmatched
		if ps.DecodeFailures > 0 {
			logger.Warn("skipped unparseable result lines", "file", f.Name, "lines", ps.DecodeFailures)
		}

		for _, o := range outcomes {
			if o.Index < 0 || o.Index >= table.Len() {
				logger.Warn("outcome index outside table", "file", f.Name, "index", o.Index)
				res.Stats.Unmatched++
				continue
			}
			if _, dup := byIndex[o.Index]; dup {
				res.Stats.Duplicates++
			}
			byIndex[o.Index] = o
		}
	}

	res.Rows = make([]records.ReconciledRow, table.Len())
	for i := 0; i < table.Len(); i++ {
		o, ok := byIndex[i]
		if !ok {
			res.Rows[i] = records.ReconciledRow{Status: records.StatusMissing}
			res.Stats.Missing++
			res.MissingRows = append(res.MissingRows, i+1)
			continue
		}

		text := o.Text
		if o.Kind == KindRefusal {
			text = RefusalPrefix + text
		}
		res.Rows[i] = records.ReconciledRow{
			Status:     records.StatusCompleted,
			Response:   text,
			SourceFile: o.Source,
		}
		res.Stats.Completed++
	}

	return res
}
