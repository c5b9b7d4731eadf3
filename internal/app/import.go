package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"feedwatcher/internal/model"
	"feedwatcher/internal/watcher"
)

// FeedFile is the YAML document read by feed import:
//
//	feeds:
//	  - name: Book Club
//	    type: group
//	    unit_id: "1234567890"
//	    active: true
//	    backup_enabled: true
//	    backup_repo: octo/archive
//	    interval: 30
type FeedFile struct {
	Feeds []watcher.FeedInput `yaml:"feeds"`
}

// ReadFeedFile decodes a FeedFile. Unknown fields are an error.
func ReadFeedFile(r io.Reader) ([]watcher.FeedInput, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file FeedFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("feed file is empty")
		}
		return nil, fmt.Errorf("decoding feed file: %w", err)
	}
	if len(file.Feeds) == 0 {
		return nil, fmt.Errorf("feed file lists no feeds")
	}
	return file.Feeds, nil
}

// ImportResult reports what ImportFeeds did.
type ImportResult struct {
	Created []model.Feed
	Skipped []watcher.FeedInput // already present with the same type and unit id
}

// ImportFeeds creates every input whose type and unit id are not yet watched.
// It stops at the first invalid input; feeds created before it are kept.
func (a *App) ImportFeeds(ctx context.Context, inputs []watcher.FeedInput) (*ImportResult, error) {
	existing, err := a.repo.Feeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading feeds: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[string(f.Kind)+"/"+f.UnitID] = true
	}

	result := &ImportResult{}
	for i, in := range inputs {
		key := string(in.Kind) + "/" + in.UnitID
		if seen[key] {
			result.Skipped = append(result.Skipped, in)
			continue
		}
		feed, err := a.repo.CreateFeed(ctx, in)
		if err != nil {
			return result, fmt.Errorf("feed %d (%s): %w", i+1, in.Name, err)
		}
		seen[key] = true
		result.Created = append(result.Created, feed)
		a.logger.Info("feed imported", "feed_id", feed.ID, "name", feed.Name)
	}
	return result, nil
}
