package watcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"feedwatcher/internal/model"
)

// DateLayout is the layout of the calendar day accepted by LoadPostsForDate.
const DateLayout = "2006-01-02"

// sortNewestFirst orders posts by source creation time, newest first.
func sortNewestFirst(posts []model.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].PublishedAt().After(posts[j].PublishedAt())
	})
}

// GetPosts returns stored posts newest first. An empty feedID selects all feeds;
// a positive limit caps the number returned.
func (e *Engine) GetPosts(ctx context.Context, feedID string, limit int) ([]model.Post, error) {
	posts, err := e.repo.Posts(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading posts: %w", err)
	}
	if feedID != "" {
		posts = filterPosts(posts, feedID)
	}
	sortNewestFirst(posts)
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// FindPost returns the stored post with the given composite id, or nil.
func (e *Engine) FindPost(ctx context.Context, id string) (*model.Post, error) {
	posts, err := e.repo.Posts(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading posts: %w", err)
	}
	for i := range posts {
		if posts[i].ID == id {
			return &posts[i], nil
		}
	}
	return nil, nil
}

// LoadPostsForDate fetches the feed's items of one UTC calendar day, stores the
// new ones without archiving them, and returns the feed's stored posts of that
// day newest first. It leaves lastScan untouched.
func (e *Engine) LoadPostsForDate(ctx context.Context, feedID, date string) ([]model.Post, error) {
	day, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}

	feed, err := e.repo.FindFeed(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("looking up feed: %w", err)
	}
	if feed == nil {
		return nil, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}

	if err := e.ensureSession(ctx); err != nil {
		return nil, err
	}

	since := day
	until := day.Add(24*time.Hour - time.Millisecond)
	items, err := e.listItems(ctx, *feed, since, until, e.opts.DatePageSize)
	if err != nil {
		return nil, err
	}

	fresh, err := e.newItems(ctx, feed.ID, items)
	if err != nil {
		return nil, err
	}
	for _, item := range fresh {
		post := e.newPost(*feed, item)
		if err := e.repo.StorePost(ctx, post); err != nil {
			return nil, fmt.Errorf("storing post %s: %w", post.ID, err)
		}
	}
	if err := e.repo.RefreshPostsCount(ctx, feed.ID); err != nil {
		e.logger.Warn("refreshing posts count", "feed_id", feed.ID, "error", err)
	}
	e.logger.Info("posts loaded for date", "feed_id", feed.ID, "date", date, "fetched", len(items), "new", len(fresh))

	stored, err := e.repo.PostsForFeed(ctx, feed.ID)
	if err != nil {
		return nil, fmt.Errorf("loading stored posts: %w", err)
	}
	var matched []model.Post
	for _, p := range stored {
		created, err := p.Content.CreatedAt()
		if err != nil {
			continue
		}
		if created.Format(DateLayout) == date {
			matched = append(matched, p)
		}
	}
	sortNewestFirst(matched)
	return matched, nil
}

// UpdatePostsCounts recomputes the cached posts count of every feed.
// It returns the number of feeds whose count changed.
func (e *Engine) UpdatePostsCounts(ctx context.Context) (int, error) {
	changed, err := e.repo.RefreshAllPostsCounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("refreshing posts counts: %w", err)
	}
	return changed, nil
}
