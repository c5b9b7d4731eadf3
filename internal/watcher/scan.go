package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"feedwatcher/internal/document"
	"feedwatcher/internal/model"
)

// NotSignedInError is the result error of a scan attempted without a signed-in session.
const NotSignedInError = "Not signed in to feed source"

// ScanFeed runs one scan of feed and returns its result.
//
// Strategy:
//  1. Without a signed-in session, return at once with a single error and no writes.
//  2. Fetch items created since the last scan (or the last 24 hours) up to the scan time.
//  3. Store every item not yet stored for this feed and archive it if the feed has backups enabled.
//     A failed backup is recorded in the result and the remaining items continue.
//  4. Whether or not the fetch failed, advance lastScan to the scan start time and
//     refresh the posts count, so a broken feed waits a full interval before retrying.
//
// A fetch or store error is recorded as the result's only error and also returned.
func (e *Engine) ScanFeed(ctx context.Context, feed model.Feed) (*model.ScanResult, error) {
	result := model.NewScanResult(feed)

	signedIn, err := e.creds.IsSignedIn(ctx)
	if err != nil {
		e.logger.Warn("checking sign-in", "feed_id", feed.ID, "error", err)
	}
	if err != nil || !signedIn {
		result.Errors = []string{NotSignedInError}
		return result, nil
	}

	e.notifier.Notify(scanEvent(feed.ID, true, ""))

	start := e.clock.Now()
	scanErr := e.scan(ctx, feed, start, result)

	if err := e.repo.RecordScan(ctx, feed.ID, start); err != nil {
		e.logger.Error("recording scan", "feed_id", feed.ID, "error", err)
	}

	if scanErr != nil {
		result.Errors = []string{scanErr.Error()}
		e.recordResult(result, nil)
		e.notifier.Notify(scanEvent(feed.ID, false, scanErr.Error()))
		return result, scanErr
	}

	finished := e.clock.Now()
	e.recordResult(result, &finished)
	e.notifier.Notify(scanEvent(feed.ID, false, ""))
	e.logger.Info("feed scanned",
		"feed_id", feed.ID,
		"scanned", result.TotalScanned,
		"new", len(result.NewPosts),
		"errors", len(result.Errors),
	)
	return result, nil
}

func (e *Engine) scan(ctx context.Context, feed model.Feed, start time.Time, result *model.ScanResult) error {
	if err := e.ensureSession(ctx); err != nil {
		return err
	}

	until := start
	since := until.Add(-24 * time.Hour)
	if feed.LastScan != nil {
		since = *feed.LastScan
	}

	items, err := e.listItems(ctx, feed, since, until, e.opts.ScanPageSize)
	if err != nil {
		return err
	}
	result.TotalScanned = len(items)

	fresh, err := e.newItems(ctx, feed.ID, items)
	if err != nil {
		return err
	}

	backups := feed.BackupEnabled && feed.BackupRepo != ""
	for _, item := range fresh {
		post := e.newPost(feed, item)
		if err := e.repo.StorePost(ctx, post); err != nil {
			return fmt.Errorf("storing post %s: %w", post.ID, err)
		}
		result.NewPosts = append(result.NewPosts, item)

		if !backups {
			continue
		}
		e.notifier.Notify(backupEvent(feed.ID, true, ""))
		if err := e.backupPost(ctx, &post, feed); err != nil {
			msg := err.Error()
			result.Errors = append(result.Errors, "Backup failed: "+msg)
			e.notifier.Notify(backupEvent(feed.ID, false, msg))
			e.logger.Warn("backup failed", "post_id", post.ID, "error", err)
			continue
		}
		e.notifier.Notify(backupEvent(feed.ID, false, ""))
	}

	if len(fresh) > 0 {
		if err := e.repo.RecordCapture(ctx, feed.ID, e.clock.Now()); err != nil {
			e.logger.Warn("recording capture time", "feed_id", feed.ID, "error", err)
		}
	}
	return nil
}

// ParseDestination splits an owner/repo backup destination.
func ParseDestination(dest string) (owner, repo string, err error) {
	parts := strings.Split(strings.TrimSpace(dest), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDestination, dest)
	}
	return parts[0], parts[1], nil
}

// backupPost archives post as a document and records the backup on the stored post.
// Errors are returned unmodified to the caller.
func (e *Engine) backupPost(ctx context.Context, post *model.Post, feed model.Feed) error {
	credential, err := e.repo.ArchiveCredential(ctx)
	if err != nil {
		return err
	}
	if credential == "" && e.archive.CredentialRequired() {
		return ErrNoArchiveCredential
	}

	owner, repo, err := ParseDestination(feed.BackupRepo)
	if err != nil {
		return err
	}

	if post.Content.NormalizeAuthor() {
		if err := e.repo.StorePost(ctx, *post); err != nil {
			return fmt.Errorf("storing normalized post: %w", err)
		}
	}

	doc, err := document.Render(*post, e.clock.Now())
	if err != nil {
		return err
	}
	path, err := document.Path(feed.Name, *post)
	if err != nil {
		return err
	}

	putCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	res, err := e.archive.PutFile(putCtx, credential, PutFileRequest{
		Owner:   owner,
		Repo:    repo,
		Path:    path,
		Content: []byte(doc),
		Message: fmt.Sprintf("Add post from %s by %s: %s", feed.Name, post.Content.AuthorName(), post.SourceID()),
		Author:  e.opts.CommitAuthor,
	})
	if err != nil {
		return err
	}

	post.BackedUp = true
	post.BackupPath = res.Path
	if post.BackupPath == "" {
		post.BackupPath = path
	}
	post.BackupCommitSHA = res.CommitSHA
	post.UpdatedAt = e.clock.Now()
	if err := e.repo.StorePost(ctx, *post); err != nil {
		return fmt.Errorf("storing backed up post: %w", err)
	}

	e.logger.Info("post archived", "post_id", post.ID, "path", post.BackupPath, "commit", post.BackupCommitSHA)
	return nil
}
