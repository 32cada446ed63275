// Package s3store implements the object store boundary on an S3 bucket.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	store2 "github.com/unbasical/webship/pkg/store"
)

// digestMetadataKey is the object metadata key holding the digest of the
// raw (uncompressed) content. Without it the ETag would be the only
// fingerprint, and the ETag covers the on-the-wire bytes, not the content.
const digestMetadataKey = "webship-digest"

// Config describes the bucket a Store publishes to.
type Config struct {
	Bucket string
	// Prefix is prepended to every published path.
	Prefix string
	// Endpoint overrides the S3 endpoint, e.g. for S3-compatible stores.
	Endpoint string
	// PathStyle forces path-style addressing, required by most
	// S3-compatible stores.
	PathStyle bool
	// ListConcurrency bounds the parallel HeadObject calls during List.
	ListConcurrency int
}

// Store publishes objects to an S3 bucket. Credentials are scoped to the
// injected aws.Config; the store never reads ambient environment state.
type Store struct {
	client          *s3.Client
	bucket          string
	prefix          string
	listConcurrency int
}

// New returns a store over the given AWS config and bucket.
func New(awsCfg aws.Config, cfg Config) *Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	concurrency := cfg.ListConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Store{
		client:          client,
		bucket:          cfg.Bucket,
		prefix:          strings.Trim(cfg.Prefix, "/"),
		listConcurrency: concurrency,
	}
}

func (s *Store) Name() string {
	if s.prefix == "" {
		return fmt.Sprintf("s3://%s", s.bucket)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}

func (s *Store) key(p string) string {
	return path.Join(s.prefix, p)
}

// List pages through the bucket and reads the content digest from each
// object's metadata. Objects without the metadata key get an empty digest,
// which forces a re-upload on the next deploy.
func (s *Store) List(ctx context.Context) (store2.RemoteState, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in %q: %w", s.Name(), err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	state := store2.RemoteState{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.listConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			head, err := s.client.HeadObject(gctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return fmt.Errorf("failed to head %q: %w", key, err)
			}
			p := strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
			dgst := digest.Digest(head.Metadata[digestMetadataKey])
			mu.Lock()
			state[p] = dgst
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}

// Put uploads one object. When the request asks for gzip content encoding
// the body is compressed on the fly; the digest metadata always refers to
// the raw content so List stays comparable to artifact digests.
func (s *Store) Put(ctx context.Context, req store2.PutRequest) error {
	body, encoding, err := encodeBody(req)
	if err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(req.Path)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			digestMetadataKey: req.Digest.String(),
		},
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}
	if req.CacheControl != "" {
		input.CacheControl = aws.String(req.CacheControl)
	}
	if encoding != "" {
		input.ContentEncoding = aws.String(encoding)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put %q: %w", req.Path, err)
	}
	return nil
}

// Delete removes one object. S3 deletes are idempotent, so an absent key is
// not an error.
func (s *Store) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", p, err)
	}
	return nil
}

// encodeBody reads the request content, compressing it when gzip encoding
// was requested. Compression is skipped when it does not shrink the body.
func encodeBody(req store2.PutRequest) ([]byte, string, error) {
	raw, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read content of %q: %w", req.Path, err)
	}
	if req.ContentEncoding != "gzip" {
		return raw, "", nil
	}
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	if _, err := gzw.Write(raw); err != nil {
		return nil, "", err
	}
	if err := gzw.Close(); err != nil {
		return nil, "", err
	}
	if buf.Len() >= len(raw) {
		return raw, "", nil
	}
	return buf.Bytes(), "gzip", nil
}
