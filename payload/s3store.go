package payload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/dshills/corepipe/canon"
)

// S3Store is a content-addressed blob store backed by an S3-compatible
// object store, for deployments where the audit trail must survive
// independently of any single host.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store wraps an already-configured *s3.Client. Callers build the
// client (region, credentials, endpoint override for S3-compatible
// stores) the same way the rest of an AWS SDK v2 application would.
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(digest string) string {
	if s.prefix == "" {
		return digest
	}
	return s.prefix + "/" + digest
}

// Put uploads b keyed by its digest. A pre-existing object is left
// untouched (content-addressed writes are idempotent no-ops).
func (s *S3Store) Put(ctx context.Context, b []byte) (string, error) {
	digest := canon.HashBytes(b)
	if ok, err := s.Has(ctx, digest); err != nil {
		return "", err
	} else if ok {
		return digest, nil
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(digest)),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return "", fmt.Errorf("payload: s3 put: %w", err)
	}
	return digest, nil
}

// Get downloads the blob stored under digest.
func (s *S3Store) Get(ctx context.Context, digest string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(digest)),
	})
	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payload: s3 get: %w", err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("payload: s3 read body: %w", err)
	}
	return b, nil
}

// Has reports whether digest is present via a HEAD request.
func (s *S3Store) Has(ctx context.Context, digest string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(digest)),
	})
	if err == nil {
		return true, nil
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return false, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("payload: s3 head: %w", err)
}
