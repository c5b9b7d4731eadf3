package archive

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"feedwatcher/internal/watcher"
)

// MemoryArchive keeps archived documents in memory.
// It is safe for concurrent use and is mostly useful for testing.
type MemoryArchive struct {
	mu    sync.RWMutex
	files map[string][]byte // "owner/repo/path" -> content
}

// NewMemoryArchive creates an empty MemoryArchive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{files: make(map[string][]byte)}
}

func fileKey(owner, repo, p string) string {
	return owner + "/" + repo + "/" + p
}

// PutFile stores the document. The credential is ignored.
func (m *MemoryArchive) PutFile(_ context.Context, _ string, req watcher.PutFileRequest) (*watcher.PutFileResult, error) {
	p, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := fileKey(req.Owner, req.Repo, p)
	if _, ok := m.files[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrFileExists, p)
	}
	m.files[key] = append([]byte(nil), req.Content...)
	return &watcher.PutFileResult{Path: p, CommitSHA: contentID(req.Content)}, nil
}

// CredentialRequired is false: the memory archive needs no credential.
func (m *MemoryArchive) CredentialRequired() bool { return false }

// Get returns the stored document.
func (m *MemoryArchive) Get(owner, repo, p string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[fileKey(owner, repo, p)]
	return data, ok
}

// Paths returns the keys of all stored documents, sorted.
func (m *MemoryArchive) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.files))
	for k := range m.files {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

var _ watcher.Archive = (*MemoryArchive)(nil)
