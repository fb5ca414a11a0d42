package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIConfig configures the OpenAI batch gateway client.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string        // Optional (tests)
	RequestTimeout time.Duration // Per-call HTTP timeout
	UploadRetries  uint          // Transport-level retry attempts
	HTTPClient     *http.Client  // Optional (tests)
}

// OpenAI implements Gateway against the OpenAI Files and Batches APIs.
type OpenAI struct {
	client  openai.Client
	retries uint
}

// NewOpenAI creates a gateway client using the official SDK.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.UploadRetries == 0 {
		cfg.UploadRetries = 3
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// retry-go owns retries here; the SDK's built-in retry would stack.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		retries: cfg.UploadRetries,
	}
}

// Upload stores the batch input file with purpose=batch.
func (g *OpenAI) Upload(ctx context.Context, name string, data []byte) (string, error) {
	var fileID string
	err := g.withRetry(ctx, func() error {
		file, err := g.client.Files.New(ctx, openai.FileNewParams{
			File:    openai.File(bytes.NewReader(data), name, "application/jsonl"),
			Purpose: openai.FilePurposeBatch,
		})
		if err != nil {
			return mapOpenAIError(err)
		}
		fileID = file.ID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upload of %s failed: %w", name, err)
	}
	return fileID, nil
}

// SubmitBatch creates a chat-completions batch over the uploaded file.
func (g *OpenAI) SubmitBatch(ctx context.Context, fileID, completionWindow string) (string, error) {
	var batchID string
	err := g.withRetry(ctx, func() error {
		batch, err := g.client.Batches.New(ctx, openai.BatchNewParams{
			InputFileID:      fileID,
			Endpoint:         openai.BatchNewParamsEndpointV1ChatCompletions,
			CompletionWindow: completionWindowParam(completionWindow),
		})
		if err != nil {
			return mapOpenAIError(err)
		}
		batchID = batch.ID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("batch submit failed: %w", err)
	}
	return batchID, nil
}

// PollBatch retrieves the current batch state and counts.
func (g *OpenAI) PollBatch(ctx context.Context, batchID string) (BatchStatus, error) {
	batch, err := g.client.Batches.Get(ctx, batchID)
	if err != nil {
		return BatchStatus{}, fmt.Errorf("batch poll failed: %w", mapOpenAIError(err))
	}
	return BatchStatus{
		ID:    batch.ID,
		State: State(batch.Status),
		Counts: RequestCounts{
			Total:     batch.RequestCounts.Total,
			Completed: batch.RequestCounts.Completed,
			Failed:    batch.RequestCounts.Failed,
		},
		OutputFileID: batch.OutputFileID,
		ErrorFileID:  batch.ErrorFileID,
	}, nil
}

// Fetch downloads a provider file's raw content.
func (g *OpenAI) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	var data []byte
	err := g.withRetry(ctx, func() error {
		resp, err := g.client.Files.Content(ctx, fileID)
		if err != nil {
			return mapOpenAIError(err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return &Error{Kind: KindTransport, Message: fmt.Sprintf("reading file content: %v", err)}
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch of %s failed: %w", fileID, err)
	}
	return data, nil
}

// withRetry retries transient failures with a short fixed delay. Permanent
// failures (quota, credential, bad input) surface immediately.
func (g *OpenAI) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(g.retries),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
	)
}

func completionWindowParam(window string) openai.BatchNewParamsCompletionWindow {
	// The API currently accepts only 24h; keep the mapping explicit so a
	// future window value fails loudly at the provider, not silently here.
	switch window {
	case "", "24h":
		return openai.BatchNewParamsCompletionWindow24h
	default:
		return openai.BatchNewParamsCompletionWindow(window)
	}
}

// mapOpenAIError converts SDK errors into typed gateway errors.
func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := KindUnknown
		msg := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			kind = KindRateLimit
			if strings.Contains(msg, "quota") || strings.Contains(msg, "billing") {
				kind = KindQuota
			}
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			kind = KindCredential
		case apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusRequestEntityTooLarge:
			kind = KindInput
		case apiErr.StatusCode >= 500:
			kind = KindTransport
		}
		return &Error{Kind: kind, StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return err
	}
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	return nil
}
