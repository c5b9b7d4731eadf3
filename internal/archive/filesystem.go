package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"feedwatcher/internal/watcher"
)

// FileSystemArchive writes documents below a local directory:
//
//	<root>/
//	  <owner>/<repo>/
//	    posts/<feed-slug>/<file>.mdx
type FileSystemArchive struct {
	root string
}

// NewFileSystemArchive creates a filesystem archive rooted at the given path.
func NewFileSystemArchive(root string) (*FileSystemArchive, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	return &FileSystemArchive{root: root}, nil
}

// PutFile writes the document. An existing file is never overwritten.
// The credential is ignored.
func (a *FileSystemArchive) PutFile(_ context.Context, _ string, req watcher.PutFileRequest) (*watcher.PutFileResult, error) {
	p, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	destPath := filepath.Join(a.root, req.Owner, req.Repo, filepath.FromSlash(p))
	if _, err := os.Stat(destPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileExists, p)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := writeFile(destPath, req.Content); err != nil {
		return nil, err
	}
	return &watcher.PutFileResult{Path: p, CommitSHA: contentID(req.Content)}, nil
}

// CredentialRequired is false: local writes need no credential.
func (a *FileSystemArchive) CredentialRequired() bool { return false }

// writeFile writes data to destPath using atomic write (temp file + rename).
func writeFile(destPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ watcher.Archive = (*FileSystemArchive)(nil)
