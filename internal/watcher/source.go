package watcher

import (
	"context"
	"time"

	"feedwatcher/internal/model"
)

// CredentialProvider represents the signed-in browser session used to call the feed source.
type CredentialProvider interface {
	// IsSignedIn reports whether the session cookies indicate an active sign-in.
	IsSignedIn(ctx context.Context) (bool, error)

	// HasSession reports whether valid session artifacts are cached.
	HasSession() bool

	// Authenticate obtains fresh session artifacts and caches them.
	Authenticate(ctx context.Context) error
}

// FeedSource fetches items of a feed unit.
type FeedSource interface {
	// ListItems returns at most max items of the unit created within [since, until].
	// Items are returned in source order.
	ListItems(ctx context.Context, unitID string, kind model.FeedKind, since, until time.Time, max int) ([]model.SourcePost, error)
}
