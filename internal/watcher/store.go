package watcher

import "context"

// Keys of the string blobs kept in the Store. All values are JSON.
const (
	KeyFeeds             = "watcher_feeds"
	KeyPosts             = "feed_posts"
	KeyWorkerStatus      = "worker_status"
	KeyArchiveCredential = "github_token"
)

// Store is the durable key-value store, the only persistence primitive.
// Values are opaque strings; collections are written whole.
type Store interface {
	// Get returns the value stored under key.
	// ok is false if the key is absent; that is not an error.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the underlying resources.
	Close() error
}

// Sealer protects the archive credential at rest.
type Sealer interface {
	// Seal encrypts plaintext into a form safe to keep in the Store.
	Seal(plaintext []byte) ([]byte, error)

	// Open reverses Seal.
	Open(sealed []byte) ([]byte, error)
}
