package testutil

import (
	"testing"

	"feedwatcher/internal/encryption"
	"feedwatcher/internal/store"
	"feedwatcher/internal/watcher"
)

// NewTestSQLiteStore creates an in-memory SQLite store with the schema applied.
// The store is automatically closed when the test completes.
func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// NewTestRepository creates a Repository over a fresh MemoryStore with an unsealed
// credential. The store is returned so tests can inspect raw values and count writes.
func NewTestRepository(clock watcher.Clock) (*watcher.Repository, *store.MemoryStore) {
	s := store.NewMemoryStore()
	return watcher.NewRepository(s, encryption.PlainSealer{}, clock, NewStubIDGenerator()), s
}
