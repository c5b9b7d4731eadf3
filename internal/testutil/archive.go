package testutil

import (
	"context"
	"sync"

	"feedwatcher/internal/archive"
	"feedwatcher/internal/watcher"
)

// FakeArchive records PutFile calls and stores documents in a MemoryArchive.
type FakeArchive struct {
	*archive.MemoryArchive

	// Required is reported by CredentialRequired.
	Required bool

	// Fail, when set, is consulted first; a non-nil result fails the call.
	Fail func(req watcher.PutFileRequest) error

	mu          sync.Mutex
	requests    []watcher.PutFileRequest
	credentials []string
}

// NewFakeArchive creates a FakeArchive that requires a credential.
func NewFakeArchive() *FakeArchive {
	return &FakeArchive{MemoryArchive: archive.NewMemoryArchive(), Required: true}
}

func (a *FakeArchive) PutFile(ctx context.Context, credential string, req watcher.PutFileRequest) (*watcher.PutFileResult, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.credentials = append(a.credentials, credential)
	fail := a.Fail
	a.mu.Unlock()

	if fail != nil {
		if err := fail(req); err != nil {
			return nil, err
		}
	}
	return a.MemoryArchive.PutFile(ctx, credential, req)
}

func (a *FakeArchive) CredentialRequired() bool { return a.Required }

// Requests returns the recorded requests.
func (a *FakeArchive) Requests() []watcher.PutFileRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]watcher.PutFileRequest(nil), a.requests...)
}

// Credentials returns the credential passed to each call.
func (a *FakeArchive) Credentials() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.credentials...)
}

var _ watcher.Archive = (*FakeArchive)(nil)
