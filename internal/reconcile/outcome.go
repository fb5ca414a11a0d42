package reconcile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
)

// Kind distinguishes what a result line said about its record.
type Kind string

const (
	// KindContent is a genuine model response.
	KindContent Kind = "content"
	// KindRefusal means the provider responded but declined.
	KindRefusal Kind = "refusal"
	// KindError marks a structurally incomplete response. The record still
	// gets an outcome with a placeholder so it never silently vanishes.
	KindError Kind = "error"
)

// Outcome is the parsed result for one record index.
type Outcome struct {
	Index  int
	Kind   Kind
	Text   string
	Source string // result file the outcome came from
}

// Placeholder texts for structurally incomplete responses.
const (
	errNoResponse   = "no response"
	errNoBody       = "no response body"
	errNoChoices    = "no choices"
	errNoMessage    = "no message"
	errEmptyContent = "empty content"
)

// resultLine mirrors one line of the provider result file. Pointer fields
// distinguish absent objects from empty ones.
type resultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		Body *struct {
			Choices []struct {
				Message *struct {
					Content *string `json:"content"`
					Refusal string  `json:"refusal"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
}

var customIDPattern = regexp.MustCompile(`^row_(\d+)$`)

// ParseIndex extracts the record index from a custom_id. Returns false for
// identifiers that do not match the row_<index> convention.
func ParseIndex(customID string) (int, bool) {
	m := customIDPattern.FindStringSubmatch(customID)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseStats counts what happened to the lines of one file.
type ParseStats struct {
	Lines          int
	Outcomes       int
	DecodeFailures int // syntactically invalid JSON lines
	Unmatched      int // custom_id outside the row_<index> convention
}

// ParseFile parses a newline-delimited result file. Every parseable line
// yields exactly one Outcome or is counted (decode failure / unmatched id);
// nothing is silently dropped.
func ParseFile(data []byte, source string) ([]Outcome, ParseStats) {
	var (
		outcomes []Outcome
		stats    ParseStats
	)

	s := bufio.NewScanner(bytes.NewReader(data))
	s.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for s.Scan() {
		line := bytes.TrimSpace(s.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		var rl resultLine
		if err := json.Unmarshal(line, &rl); err != nil {
			stats.DecodeFailures++
			continue
		}

		idx, ok := ParseIndex(rl.CustomID)
		if !ok {
			stats.Unmatched++
			continue
		}

		outcomes = append(outcomes, outcomeFor(idx, &rl, source))
		stats.Outcomes++
	}

	return outcomes, stats
}

// outcomeFor classifies one decoded line. Missing layers of the response
// structure become Error outcomes with a descriptive placeholder.
func outcomeFor(idx int, rl *resultLine, source string) Outcome {
	o := Outcome{Index: idx, Source: source}

	switch {
	case rl.Response == nil:
		o.Kind, o.Text = KindError, errNoResponse
	case rl.Response.Body == nil:
		o.Kind, o.Text = KindError, errNoBody
	case len(rl.Response.Body.Choices) == 0:
		o.Kind, o.Text = KindError, errNoChoices
	case rl.Response.Body.Choices[0].Message == nil:
		o.Kind, o.Text = KindError, errNoMessage
	default:
		msg := rl.Response.Body.Choices[0].Message
		if msg.Refusal != "" {
			o.Kind, o.Text = KindRefusal, msg.Refusal
		} else if msg.Content == nil || *msg.Content == "" {
			o.Kind, o.Text = KindError, errEmptyContent
		} else {
			o.Kind, o.Text = KindContent, *msg.Content
		}
	}
	return o
}
