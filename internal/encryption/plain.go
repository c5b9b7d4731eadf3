package encryption

import "feedwatcher/internal/watcher"

// PlainSealer stores values unchanged. Use it in tests or where the store
// is already protected.
type PlainSealer struct{}

var _ watcher.Sealer = PlainSealer{}

func (PlainSealer) Seal(plaintext []byte) ([]byte, error) { return append([]byte(nil), plaintext...), nil }

func (PlainSealer) Open(sealed []byte) ([]byte, error) { return append([]byte(nil), sealed...), nil }
