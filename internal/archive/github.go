package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"feedwatcher/internal/watcher"
)

// GitHubArchive creates documents through the GitHub contents API.
// Each document is one commit on the repository's default branch.
type GitHubArchive struct {
	baseURL *url.URL // nil for api.github.com
	timeout time.Duration
}

// NewGitHubArchive creates a GitHubArchive. An empty apiURL selects api.github.com;
// set it for GitHub Enterprise or tests.
func NewGitHubArchive(apiURL string, timeout time.Duration) (*GitHubArchive, error) {
	a := &GitHubArchive{timeout: timeout}
	if apiURL != "" {
		u, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing github api url: %w", err)
		}
		a.baseURL = u
	}
	return a, nil
}

func (a *GitHubArchive) client(ctx context.Context, credential string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential})
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = a.timeout

	c := github.NewClient(httpClient)
	if a.baseURL != nil {
		c.BaseURL = a.baseURL
	}
	return c
}

// PutFile creates the document with a single commit authored by req.Author.
func (a *GitHubArchive) PutFile(ctx context.Context, credential string, req watcher.PutFileRequest) (*watcher.PutFileResult, error) {
	if credential == "" {
		return nil, watcher.ErrNoArchiveCredential
	}
	p, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	author := &github.CommitAuthor{Name: ptr(req.Author.Name), Email: ptr(req.Author.Email)}
	opts := &github.RepositoryContentFileOptions{
		Message:   ptr(req.Message),
		Content:   req.Content,
		Author:    author,
		Committer: author,
	}

	resp, _, err := a.client(ctx, credential).Repositories.CreateFile(ctx, req.Owner, req.Repo, p, opts)
	if err != nil {
		return nil, classify(err, p)
	}

	result := &watcher.PutFileResult{Path: p, CommitSHA: resp.Commit.GetSHA()}
	if resp.Content != nil && resp.Content.GetPath() != "" {
		result.Path = resp.Content.GetPath()
	}
	return result, nil
}

// CredentialRequired is true: the contents API needs a token.
func (a *GitHubArchive) CredentialRequired() bool { return true }

// classify maps contents API status codes to the archive errors.
func classify(err error, p string) error {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil {
		return fmt.Errorf("creating %s: %w", p, err)
	}
	switch ghErr.Response.StatusCode {
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrFileExists, p)
	case http.StatusNotFound:
		return ErrRepositoryNotFound
	case http.StatusForbidden:
		return ErrPermissionDenied
	default:
		return fmt.Errorf("creating %s: %w", p, err)
	}
}

func ptr[T any](v T) *T { return &v }

var _ watcher.Archive = (*GitHubArchive)(nil)
