// Package records reads the source record table and writes reconciled
// output. The table is a flat CSV with one record per row; row identity is
// the stable 0-based index within the file.
package records

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Record is one row of the source table.
type Record struct {
	Index     int      // 0-based position in the table
	ImagePath string   // payload reference
	Prompt    string   // instruction text
	Raw       []string // full original row, preserved for output
}

// Table is the ordered record set plus its header.
type Table struct {
	Header  []string
	Records []Record

	imageCol  int
	promptCol int
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.Records) }

// Slice returns records with index in [start, end). Out-of-range bounds are
// clamped.
func (t *Table) Slice(start, end int) []Record {
	if start < 0 {
		start = 0
	}
	if end > len(t.Records) || end < 0 {
		end = len(t.Records)
	}
	if start >= end {
		return nil
	}
	return t.Records[start:end]
}

// Select returns the records at the given indices, skipping any that fall
// outside the table.
func (t *Table) Select(indices []int) []Record {
	out := make([]Record, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(t.Records) {
			out = append(out, t.Records[i])
		}
	}
	return out
}

// Load reads the record table from a CSV file. imageColumn and promptColumn
// name the required columns. Malformed rows are logged and skipped; record
// indices number the rows that loaded.
func Load(path, imageColumn, promptColumn string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows; columns are looked up by header

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}

	t := &Table{Header: header, imageCol: -1, promptCol: -1}
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case imageColumn:
			t.imageCol = i
		case promptColumn:
			t.promptCol = i
		}
	}
	if t.imageCol < 0 || t.promptCol < 0 {
		return nil, fmt.Errorf("record table %s missing required columns %q, %q", path, imageColumn, promptColumn)
	}

	idx := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed row loses that row only. Aborting here would
			// silently drop every record after it.
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				slog.Warn("skipping malformed record row", "path", path, "line", pe.Line, "error", err)
				continue
			}
			return nil, fmt.Errorf("failed to read record table %s: %w", path, err)
		}
		rec := Record{Index: idx, Raw: row}
		if t.imageCol < len(row) {
			rec.ImagePath = row[t.imageCol]
		}
		if t.promptCol < len(row) {
			rec.Prompt = row[t.promptCol]
		}
		t.Records = append(t.Records, rec)
		idx++
	}

	return t, nil
}

// Reconciled output column names.
const (
	ColResponse = "AI_Response"
	ColStatus   = "Processing_Status"
	ColSource   = "Source_File"
)

// Row outcome statuses in the reconciled table.
const (
	StatusCompleted = "Completed"
	StatusMissing   = "Missing"
)

// ReconciledRow is one output row: the original record augmented with its
// merge outcome.
type ReconciledRow struct {
	Status     string
	Response   string
	SourceFile string
}

// WriteReconciled writes the original table with the three reconciliation
// columns appended. rows must have exactly one entry per record, in table
// order.
func WriteReconciled(path string, t *Table, rows []ReconciledRow) error {
	if len(rows) != len(t.Records) {
		return fmt.Errorf("reconciled rows (%d) do not cover table (%d)", len(rows), len(t.Records))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output table: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append(append([]string{}, t.Header...), ColResponse, ColStatus, ColSource)
	if err := w.Write(header); err != nil {
		return err
	}

	for i, rec := range t.Records {
		row := make([]string, len(t.Header))
		copy(row, rec.Raw)
		row = append(row, rows[i].Response, rows[i].Status, rows[i].SourceFile)
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write output table: %w", err)
	}
	return nil
}

// WriteMissing writes 1-based row numbers, one per line. This file is the
// handoff contract for the next retry round.
func WriteMissing(path string, rows []int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create missing-rows file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, n := range rows {
		fmt.Fprintf(w, "%d\n", n)
	}
	return w.Flush()
}

// ReadMissing reads a missing-rows file and returns 0-based record indices.
// Blank and non-numeric lines are skipped.
func ReadMissing(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open missing-rows file: %w", err)
	}
	defer f.Close()

	var indices []int
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil || n < 1 {
			continue
		}
		indices = append(indices, n-1)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return indices, nil
}
