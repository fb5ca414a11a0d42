package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a scripted Gateway for tests. Poll observations are consumed in
// order, with the last one repeating; file content is looked up by handle.
type Fake struct {
	mu sync.Mutex

	UploadErr error
	SubmitErr error
	PollErr   error
	FetchErr  error

	// PollStates are returned in sequence by PollBatch; the final entry
	// repeats once the script is exhausted.
	PollStates []BatchStatus

	// Files maps a file handle to the content Fetch returns for it.
	Files map[string][]byte

	uploads   map[string][]byte
	uploadSeq int
	batchSeq  int
	pollCalls int
}

// NewFake creates an empty fake gateway.
func NewFake() *Fake {
	return &Fake{
		Files:   make(map[string][]byte),
		uploads: make(map[string][]byte),
	}
}

// Upload records the data and hands back a synthetic file handle.
func (f *Fake) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UploadErr != nil {
		return "", f.UploadErr
	}
	f.uploadSeq++
	id := fmt.Sprintf("file-upload-%d", f.uploadSeq)
	f.uploads[id] = append([]byte{}, data...)
	return id, nil
}

// SubmitBatch hands back a synthetic batch handle.
func (f *Fake) SubmitBatch(ctx context.Context, fileID, completionWindow string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.batchSeq++
	return fmt.Sprintf("batch-%d", f.batchSeq), nil
}

// PollBatch plays back the scripted observations.
func (f *Fake) PollBatch(ctx context.Context, batchID string) (BatchStatus, error) {
	if err := ctx.Err(); err != nil {
		return BatchStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PollErr != nil {
		return BatchStatus{}, f.PollErr
	}
	if len(f.PollStates) == 0 {
		return BatchStatus{ID: batchID, State: StateInProgress}, nil
	}
	i := f.pollCalls
	if i >= len(f.PollStates) {
		i = len(f.PollStates) - 1
	}
	f.pollCalls++
	st := f.PollStates[i]
	if st.ID == "" {
		st.ID = batchID
	}
	return st, nil
}

// Fetch returns the scripted content for a file handle.
func (f *Fake) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	if data, ok := f.Files[fileID]; ok {
		return data, nil
	}
	if data, ok := f.uploads[fileID]; ok {
		return data, nil
	}
	return nil, &Error{Kind: KindInput, Message: fmt.Sprintf("unknown file %s", fileID)}
}

// Uploaded returns the bytes recorded for an upload handle.
func (f *Fake) Uploaded(fileID string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.uploads[fileID]
	return data, ok
}

var _ Gateway = (*Fake)(nil)
