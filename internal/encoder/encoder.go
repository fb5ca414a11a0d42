// Package encoder turns records into provider batch requests. Each record
// binds to the deterministic identifier "row_<index>" so results can be
// reconciled back onto the table regardless of which attempt produced them.
package encoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/jackzampolin/roundup/internal/payload"
	"github.com/jackzampolin/roundup/internal/records"
)

const chatCompletionsURL = "/v1/chat/completions"

// Request is one line of the batch input file.
type Request struct {
	CustomID string `json:"custom_id"`
	Method   string `json:"method"`
	URL      string `json:"url"`
	Body     Body   `json:"body"`
}

// Body is the chat-completions request body.
type Body struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// Message is one chat message with multi-modal content parts.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is either a text part or an image part.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries the payload as a base64 data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// CustomID returns the request identifier for a record index.
func CustomID(index int) string {
	return fmt.Sprintf("row_%d", index)
}

// Options configures request encoding.
type Options struct {
	Model          string
	MaxTokens      int
	Temperature    *float64 // nil means the default; zero is a valid setting
	MaxBytes       int64    // payload size cap
	MaxPromptChars int      // prompt truncation threshold, in runes
	Logger         *slog.Logger
}

// Encode builds one request per record, skipping records whose payloads
// fail validation or encoding. Skips are logged and counted, never fatal:
// a bad payload is a data problem with that record, not with the batch.
func Encode(recs []records.Record, opts Options) (reqs []Request, skipped int) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	temperature := 0.7
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = 4000
	}

	for _, rec := range recs {
		ok, reason := payload.Validate(rec.ImagePath, opts.MaxBytes)
		if !ok {
			logger.Warn("skipping record with invalid payload",
				"custom_id", CustomID(rec.Index), "path", rec.ImagePath, "reason", reason)
			skipped++
			continue
		}

		dataURL, err := payload.EncodeDataURL(rec.ImagePath)
		if err != nil {
			logger.Warn("skipping record that failed payload encoding",
				"custom_id", CustomID(rec.Index), "error", err)
			skipped++
			continue
		}

		prompt := rec.Prompt
		if utf8.RuneCountInString(prompt) > opts.MaxPromptChars {
			logger.Warn("truncating oversized prompt",
				"custom_id", CustomID(rec.Index), "chars", utf8.RuneCountInString(prompt))
			runes := []rune(prompt)
			prompt = string(runes[:opts.MaxPromptChars]) + "..."
		}

		reqs = append(reqs, Request{
			CustomID: CustomID(rec.Index),
			Method:   "POST",
			URL:      chatCompletionsURL,
			Body: Body{
				Model: opts.Model,
				Messages: []Message{{
					Role: "user",
					Content: []ContentPart{
						{Type: "text", Text: prompt},
						{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}},
					},
				}},
				MaxTokens:   opts.MaxTokens,
				Temperature: temperature,
			},
		})
	}

	return reqs, skipped
}

// MarshalJSONL renders requests as newline-delimited JSON for upload.
func MarshalJSONL(reqs []Request) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, req := range reqs {
		if err := enc.Encode(req); err != nil {
			return nil, fmt.Errorf("failed to encode request %s: %w", req.CustomID, err)
		}
	}
	return buf.Bytes(), nil
}
