package watcher

import "context"

// CommitIdentity is the author recorded on archive commits.
type CommitIdentity struct {
	Name  string
	Email string
}

// DefaultCommitIdentity is the bot identity archive commits are attributed to.
var DefaultCommitIdentity = CommitIdentity{
	Name:  "FeedWatcher Bot",
	Email: "feedwatcher@bot.local",
}

// PutFileRequest describes one document to create in an archive repository.
type PutFileRequest struct {
	Owner   string
	Repo    string
	Path    string
	Content []byte
	Message string
	Author  CommitIdentity
}

// PutFileResult identifies the created document.
type PutFileResult struct {
	Path      string
	CommitSHA string
}

// Archive creates documents in a remote repository.
type Archive interface {
	// PutFile creates a new file. It fails if a file already exists at the path.
	// credential is the stored archive credential; backends that do not
	// need one ignore it.
	PutFile(ctx context.Context, credential string, req PutFileRequest) (*PutFileResult, error)

	// CredentialRequired reports whether PutFile needs a non-empty credential.
	CredentialRequired() bool
}
