package watcher

import (
	"context"
	"fmt"
	"strings"

	"feedwatcher/internal/model"
)

// FeedInput holds the user-owned fields of a new feed.
type FeedInput struct {
	Name          string         `json:"name" yaml:"name"`
	Kind          model.FeedKind `json:"type" yaml:"type"`
	URL           string         `json:"url,omitempty" yaml:"url"`
	UnitID        string         `json:"unitId" yaml:"unit_id"`
	IsActive      bool           `json:"isActive" yaml:"active"`
	BackupEnabled bool           `json:"backupEnabled" yaml:"backup_enabled"`
	BackupRepo    string         `json:"backupRepo,omitempty" yaml:"backup_repo"`
	ScanInterval  int            `json:"backupInterval,omitempty" yaml:"interval"`
}

// FeedUpdate holds a partial edit of a feed's user-owned fields.
// Nil fields are left unchanged.
type FeedUpdate struct {
	Name          *string         `json:"name,omitempty"`
	Kind          *model.FeedKind `json:"type,omitempty"`
	URL           *string         `json:"url,omitempty"`
	UnitID        *string         `json:"unitId,omitempty"`
	IsActive      *bool           `json:"isActive,omitempty"`
	BackupEnabled *bool           `json:"backupEnabled,omitempty"`
	BackupRepo    *string         `json:"backupRepo,omitempty"`
	ScanInterval  *int            `json:"backupInterval,omitempty"`
}

func validateFeed(f model.Feed) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFeed)
	}
	if strings.TrimSpace(f.UnitID) == "" {
		return fmt.Errorf("%w: unit id is required", ErrInvalidFeed)
	}
	if !f.Kind.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidFeed, f.Kind)
	}
	return nil
}

// CreateFeed adds a new feed and returns it.
func (r *Repository) CreateFeed(ctx context.Context, in FeedInput) (model.Feed, error) {
	now := r.clock.Now()
	feed := model.Feed{
		ID:            r.idgen.New(),
		Name:          strings.TrimSpace(in.Name),
		Kind:          in.Kind,
		URL:           in.URL,
		UnitID:        strings.TrimSpace(in.UnitID),
		IsActive:      in.IsActive,
		BackupEnabled: in.BackupEnabled,
		BackupRepo:    strings.TrimSpace(in.BackupRepo),
		ScanInterval:  model.NormalizeInterval(in.ScanInterval),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := validateFeed(feed); err != nil {
		return model.Feed{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	feeds, err := r.Feeds(ctx)
	if err != nil {
		return model.Feed{}, err
	}
	feeds = append(feeds, feed)
	if err := r.writeJSON(ctx, KeyFeeds, feeds); err != nil {
		return model.Feed{}, err
	}
	return feed, nil
}

// UpdateFeed merges upd into the feed and stamps updatedAt.
func (r *Repository) UpdateFeed(ctx context.Context, id string, upd FeedUpdate) (model.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.updateFeedLocked(ctx, id, func(f *model.Feed) error {
		next := *f
		if upd.Name != nil {
			next.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Kind != nil {
			next.Kind = *upd.Kind
		}
		if upd.URL != nil {
			next.URL = *upd.URL
		}
		if upd.UnitID != nil {
			next.UnitID = strings.TrimSpace(*upd.UnitID)
		}
		if upd.IsActive != nil {
			next.IsActive = *upd.IsActive
		}
		if upd.BackupEnabled != nil {
			next.BackupEnabled = *upd.BackupEnabled
		}
		if upd.BackupRepo != nil {
			next.BackupRepo = strings.TrimSpace(*upd.BackupRepo)
		}
		if upd.ScanInterval != nil {
			next.ScanInterval = *upd.ScanInterval
		}
		next.ScanInterval = model.NormalizeInterval(next.ScanInterval)
		if err := validateFeed(next); err != nil {
			return err
		}
		next.UpdatedAt = r.clock.Now()
		*f = next
		return nil
	})
}

// ToggleActive flips the feed's active flag.
func (r *Repository) ToggleActive(ctx context.Context, id string) (model.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.updateFeedLocked(ctx, id, func(f *model.Feed) error {
		f.IsActive = !f.IsActive
		f.UpdatedAt = r.clock.Now()
		return nil
	})
}

// ToggleBackup flips the feed's backup-enabled flag.
func (r *Repository) ToggleBackup(ctx context.Context, id string) (model.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.updateFeedLocked(ctx, id, func(f *model.Feed) error {
		f.BackupEnabled = !f.BackupEnabled
		f.UpdatedAt = r.clock.Now()
		return nil
	})
}

// DeleteFeed removes the feed and every post it owns.
func (r *Repository) DeleteFeed(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	feeds, err := r.Feeds(ctx)
	if err != nil {
		return err
	}
	kept := make([]model.Feed, 0, len(feeds))
	for _, f := range feeds {
		if f.ID != id {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(feeds) {
		return fmt.Errorf("%w: %s", ErrFeedNotFound, id)
	}

	// Posts go first so a failure leaves the feed in place to retry the delete.
	if _, err := r.deletePostsLocked(ctx, id); err != nil {
		return fmt.Errorf("deleting posts of feed %s: %w", id, err)
	}
	return r.writeJSON(ctx, KeyFeeds, kept)
}
