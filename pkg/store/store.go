// Package store defines the object store boundary the deployer publishes to.
package store

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"
)

// RemoteState is the last-known mapping from published path to raw-content digest.
// It is owned by the remote store and only advanced by successful deploys.
type RemoteState map[string]digest.Digest

// PutRequest describes one object write.
type PutRequest struct {
	// Path is the slash-separated published path.
	Path string
	// Content yields the raw (uncompressed) object content.
	Content io.Reader
	// Size of the raw content in bytes.
	Size int64
	// Digest of the raw content.
	Digest digest.Digest
	// ContentType served for the object.
	ContentType string
	// CacheControl header value for the object.
	CacheControl string
	// ContentEncoding requests an on-the-wire encoding (currently only "gzip").
	// Stores that cannot serve encoded content may ignore it.
	ContentEncoding string
}

// ObjectStore is a path-addressed remote store.
// Each operation reports success or failure independently; no multi-object
// atomicity is assumed.
type ObjectStore interface {
	// Name identifies the store in logs and reports.
	Name() string
	// List returns the published state of the store.
	List(ctx context.Context) (RemoteState, error)
	// Put writes one object.
	Put(ctx context.Context, req PutRequest) error
	// Delete removes one object. Deleting an absent object is not an error.
	Delete(ctx context.Context, path string) error
}
