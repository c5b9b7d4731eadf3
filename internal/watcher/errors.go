package watcher

import "errors"

var (
	// ErrFeedNotFound is returned when a feed id does not exist.
	ErrFeedNotFound = errors.New("feed not found")

	// ErrNoArchiveCredential is returned when a backup needs a credential and none is stored.
	ErrNoArchiveCredential = errors.New("no archive credential available")

	// ErrInvalidDestination is returned for a backup destination that is not owner/repo.
	ErrInvalidDestination = errors.New("invalid repository format, expected owner/repo")

	// ErrInvalidFeed is returned when a feed fails validation on create or update.
	ErrInvalidFeed = errors.New("invalid feed")
)
