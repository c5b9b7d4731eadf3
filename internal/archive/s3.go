package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"feedwatcher/internal/config"
	"feedwatcher/internal/watcher"
)

// S3Archive stores documents as objects:
//
//	<prefix>/<owner>/<repo>/posts/<feed-slug>/<file>.mdx
//
// The stored archive credential, when set, is an "accessKeyID:secretAccessKey"
// pair that overrides the default AWS credential chain.
type S3Archive struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Archive creates an S3Archive from configuration using the default AWS credential chain.
func NewS3Archive(ctx context.Context, cfg config.ArchiveConfig) (*S3Archive, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 archive requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archive{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   strings.Trim(cfg.S3Prefix, "/"),
	}, nil
}

// objectKey returns the object key of a document.
func (a *S3Archive) objectKey(owner, repo, p string) string {
	return path.Join(a.prefix, owner, repo, p)
}

// staticCredentials turns an "id:secret" credential into a client option.
func staticCredentials(credential string) (func(*s3.Options), error) {
	if credential == "" {
		return func(*s3.Options) {}, nil
	}
	id, secret, ok := strings.Cut(credential, ":")
	if !ok || id == "" || secret == "" {
		return nil, fmt.Errorf("s3 credential must be accessKeyID:secretAccessKey")
	}
	provider := credentials.NewStaticCredentialsProvider(id, secret, "")
	return func(o *s3.Options) { o.Credentials = provider }, nil
}

// PutFile uploads the document unless an object already exists at its key.
func (a *S3Archive) PutFile(ctx context.Context, credential string, req watcher.PutFileRequest) (*watcher.PutFileResult, error) {
	p, err := validateRequest(req)
	if err != nil {
		return nil, err
	}
	withCreds, err := staticCredentials(credential)
	if err != nil {
		return nil, err
	}
	key := a.objectKey(req.Owner, req.Repo, p)

	_, err = a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, withCreds)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileExists, p)
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("checking %s: %w", key, err)
	}

	out, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(req.Content),
		ContentType: aws.String("text/markdown; charset=utf-8"),
		Metadata: map[string]string{
			"message": req.Message,
			"author":  req.Author.Name + " <" + req.Author.Email + ">",
		},
	}, func(u *manager.Uploader) {
		u.ClientOptions = append(u.ClientOptions, withCreds)
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", key, err)
	}

	commit := contentID(req.Content)
	if out.VersionID != nil && *out.VersionID != "" {
		commit = *out.VersionID
	}
	return &watcher.PutFileResult{Path: p, CommitSHA: commit}, nil
}

// CredentialRequired is false: without a stored credential the default AWS chain is used.
func (a *S3Archive) CredentialRequired() bool { return false }

var _ watcher.Archive = (*S3Archive)(nil)
