package archive

import (
	"context"
	"fmt"
	"time"

	"feedwatcher/internal/config"
	"feedwatcher/internal/watcher"
)

// NewArchiveFromConfig creates an Archive implementation based on the archive config type.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig, timeout time.Duration) (watcher.Archive, error) {
	switch cfg.Type {
	case "github", "":
		return NewGitHubArchive(cfg.GitHubAPIURL, timeout)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_root to be set")
		}
		return NewFileSystemArchive(cfg.FSRoot)
	case "s3":
		return NewS3Archive(ctx, cfg)
	case "memory":
		return NewMemoryArchive(), nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
