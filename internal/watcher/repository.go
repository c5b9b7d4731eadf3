package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"feedwatcher/internal/model"
)

// Repository keeps feeds, posts, worker status and the archive credential
// as whole JSON collections in a Store.
//
// Every collection read-modify-write happens under a single mutex, so a manual
// trigger racing a loop tick cannot lose post writes.
type Repository struct {
	store  Store
	sealer Sealer
	clock  Clock
	idgen  IDGenerator
	mu     sync.Mutex
}

// NewRepository creates a Repository over store.
func NewRepository(store Store, sealer Sealer, clock Clock, idgen IDGenerator) *Repository {
	return &Repository{
		store:  store,
		sealer: sealer,
		clock:  clock,
		idgen:  idgen,
	}
}

func (r *Repository) readJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func (r *Repository) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := r.store.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Feeds returns all feeds in insertion order.
func (r *Repository) Feeds(ctx context.Context) ([]model.Feed, error) {
	var feeds []model.Feed
	if _, err := r.readJSON(ctx, KeyFeeds, &feeds); err != nil {
		return nil, err
	}
	return feeds, nil
}

// FindFeed returns the feed with the given id, or nil if there is none.
func (r *Repository) FindFeed(ctx context.Context, id string) (*model.Feed, error) {
	feeds, err := r.Feeds(ctx)
	if err != nil {
		return nil, err
	}
	for i := range feeds {
		if feeds[i].ID == id {
			return &feeds[i], nil
		}
	}
	return nil, nil
}

// Posts returns every stored post across all feeds.
func (r *Repository) Posts(ctx context.Context) ([]model.Post, error) {
	var posts []model.Post
	if _, err := r.readJSON(ctx, KeyPosts, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// PostsForFeed returns the stored posts owned by feedID.
func (r *Repository) PostsForFeed(ctx context.Context, feedID string) ([]model.Post, error) {
	posts, err := r.Posts(ctx)
	if err != nil {
		return nil, err
	}
	return filterPosts(posts, feedID), nil
}

func filterPosts(posts []model.Post, feedID string) []model.Post {
	var out []model.Post
	for _, p := range posts {
		if p.FeedID == feedID {
			out = append(out, p)
		}
	}
	return out
}

// StorePost upserts post by its composite id: any record with the same id
// is removed and post is appended.
func (r *Repository) StorePost(ctx context.Context, post model.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	posts, err := r.Posts(ctx)
	if err != nil {
		return err
	}
	kept := posts[:0]
	for _, p := range posts {
		if p.ID != post.ID {
			kept = append(kept, p)
		}
	}
	kept = append(kept, post)
	return r.writeJSON(ctx, KeyPosts, kept)
}

// DeletePostsForFeed removes every post owned by feedID and returns how many were removed.
func (r *Repository) DeletePostsForFeed(ctx context.Context, feedID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deletePostsLocked(ctx, feedID)
}

func (r *Repository) deletePostsLocked(ctx context.Context, feedID string) (int, error) {
	posts, err := r.Posts(ctx)
	if err != nil {
		return 0, err
	}
	kept := posts[:0]
	for _, p := range posts {
		if p.FeedID != feedID {
			kept = append(kept, p)
		}
	}
	removed := len(posts) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := r.writeJSON(ctx, KeyPosts, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// updateFeedLocked applies fn to the feed with the given id and writes the collection back.
// The caller must hold r.mu.
func (r *Repository) updateFeedLocked(ctx context.Context, id string, fn func(*model.Feed) error) (model.Feed, error) {
	feeds, err := r.Feeds(ctx)
	if err != nil {
		return model.Feed{}, err
	}
	for i := range feeds {
		if feeds[i].ID != id {
			continue
		}
		if err := fn(&feeds[i]); err != nil {
			return model.Feed{}, err
		}
		if err := r.writeJSON(ctx, KeyFeeds, feeds); err != nil {
			return model.Feed{}, err
		}
		return feeds[i], nil
	}
	return model.Feed{}, fmt.Errorf("%w: %s", ErrFeedNotFound, id)
}

// RecordScan sets the feed's lastScan and recomputes its cached posts count.
func (r *Repository) RecordScan(ctx context.Context, feedID string, scannedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	count, err := r.countPosts(ctx, feedID)
	if err != nil {
		return err
	}
	_, err = r.updateFeedLocked(ctx, feedID, func(f *model.Feed) error {
		t := scannedAt
		f.LastScan = &t
		f.PostsCount = count
		return nil
	})
	return err
}

// RecordCapture stamps the feed's lastBackup with the time new content was captured.
func (r *Repository) RecordCapture(ctx context.Context, feedID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.updateFeedLocked(ctx, feedID, func(f *model.Feed) error {
		t := at
		f.LastBackup = &t
		return nil
	})
	return err
}

func (r *Repository) countPosts(ctx context.Context, feedID string) (int, error) {
	posts, err := r.Posts(ctx)
	if err != nil {
		return 0, err
	}
	return len(filterPosts(posts, feedID)), nil
}

// RefreshPostsCount recomputes the cached posts count of one feed.
func (r *Repository) RefreshPostsCount(ctx context.Context, feedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	count, err := r.countPosts(ctx, feedID)
	if err != nil {
		return err
	}
	_, err = r.updateFeedLocked(ctx, feedID, func(f *model.Feed) error {
		f.PostsCount = count
		return nil
	})
	return err
}

// RefreshAllPostsCounts recomputes every feed's cached posts count.
// The feed list is only written if a count changed. It returns the number of feeds updated.
func (r *Repository) RefreshAllPostsCounts(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	feeds, err := r.Feeds(ctx)
	if err != nil {
		return 0, err
	}
	posts, err := r.Posts(ctx)
	if err != nil {
		return 0, err
	}

	counts := make(map[string]int)
	for _, p := range posts {
		counts[p.FeedID]++
	}

	changed := 0
	for i := range feeds {
		if feeds[i].PostsCount != counts[feeds[i].ID] {
			feeds[i].PostsCount = counts[feeds[i].ID]
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := r.writeJSON(ctx, KeyFeeds, feeds); err != nil {
		return 0, err
	}
	return changed, nil
}

// LoadStatus returns the persisted worker status merged over the defaults.
func (r *Repository) LoadStatus(ctx context.Context) (model.WorkerStatus, error) {
	status := model.NewWorkerStatus()
	if _, err := r.readJSON(ctx, KeyWorkerStatus, &status); err != nil {
		return model.NewWorkerStatus(), err
	}
	if status.NextScanTimes == nil {
		status.NextScanTimes = make(map[string]time.Time)
	}
	if status.ScanResults == nil {
		status.ScanResults = make(map[string]model.ScanResult)
	}
	return status, nil
}

// SaveStatus persists the worker status.
func (r *Repository) SaveStatus(ctx context.Context, status model.WorkerStatus) error {
	return r.writeJSON(ctx, KeyWorkerStatus, status)
}

// ArchiveCredential returns the stored archive credential, or "" if none is stored.
func (r *Repository) ArchiveCredential(ctx context.Context) (string, error) {
	var sealed string
	ok, err := r.readJSON(ctx, KeyArchiveCredential, &sealed)
	if err != nil {
		return "", err
	}
	if !ok || sealed == "" {
		return "", nil
	}
	plain, err := r.sealer.Open([]byte(sealed))
	if err != nil {
		return "", fmt.Errorf("opening archive credential: %w", err)
	}
	return string(plain), nil
}

// SetArchiveCredential seals and stores the archive credential.
func (r *Repository) SetArchiveCredential(ctx context.Context, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return fmt.Errorf("archive credential is empty")
	}
	sealed, err := r.sealer.Seal([]byte(credential))
	if err != nil {
		return fmt.Errorf("sealing archive credential: %w", err)
	}
	return r.writeJSON(ctx, KeyArchiveCredential, string(sealed))
}

// ClearArchiveCredential removes the stored archive credential.
func (r *Repository) ClearArchiveCredential(ctx context.Context) error {
	if err := r.store.Remove(ctx, KeyArchiveCredential); err != nil {
		return fmt.Errorf("removing archive credential: %w", err)
	}
	return nil
}
