// Package archive implements the destinations captured posts are archived to.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"feedwatcher/internal/document"
	"feedwatcher/internal/watcher"
)

var (
	// ErrFileExists is returned when a document already exists at the path.
	ErrFileExists = errors.New("file already exists at path")

	// ErrRepositoryNotFound is returned when the repository is missing or not writable.
	ErrRepositoryNotFound = errors.New("repository not found or no write access")

	// ErrPermissionDenied is returned when the credential may not create files.
	ErrPermissionDenied = errors.New("insufficient permissions to create files in this repository")
)

// ensureExtension appends the document extension to p unless it already ends with it.
func ensureExtension(p string) string {
	if strings.HasSuffix(p, document.Extension) {
		return p
	}
	return p + document.Extension
}

// cleanPath validates a repository-relative path.
func cleanPath(p string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(p, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid archive path %q", p)
	}
	return cleaned, nil
}

func validateRequest(req watcher.PutFileRequest) (string, error) {
	if req.Owner == "" || req.Repo == "" {
		return "", fmt.Errorf("owner and repo are required")
	}
	if strings.Contains(req.Owner, "/") || strings.Contains(req.Repo, "/") || req.Owner == ".." || req.Repo == ".." {
		return "", fmt.Errorf("invalid repository %s/%s", req.Owner, req.Repo)
	}
	p, err := cleanPath(req.Path)
	if err != nil {
		return "", err
	}
	return ensureExtension(p), nil
}

// contentID identifies content by its SHA-256 checksum, used as the commit
// identifier by backends without commits.
func contentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
