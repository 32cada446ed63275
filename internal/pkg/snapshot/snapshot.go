// Package snapshot publishes deployed site trees as OCI artifacts.
// Each snapshot is one gzip-compressed tar layer tagged in a registry;
// rollbacks fetch a previous tag and redeploy it.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	log "github.com/sirupsen/logrus"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/unbasical/webship/internal/pkg/utils/funcutils"
	"github.com/unbasical/webship/internal/pkg/utils/tarutils"
)

const (
	layerMediaType = "application/vnd.oci.image.layer.v1.tar+gzip"
	artifactType   = "application/vnd.unbasical.webship.snapshot"
	// annotationSource records the directory prefix inside the layer.
	annotationSource = "com.unbasical.webship.snapshot.source"
	layerPrefix      = "site"
)

// Publisher pushes and fetches site snapshots in one registry repository.
type Publisher struct {
	repo *remote.Repository
}

// NewPublisher returns a publisher over the given repository reference.
// Credentials are injected as an explicit credential function instead of
// being read from ambient state.
func NewPublisher(repoName string, credentials auth.CredentialFunc, plainHTTP bool) (*Publisher, error) {
	repo, err := remote.NewRepository(repoName)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot repository %q: %w", repoName, err)
	}
	repo.PlainHTTP = plainHTTP
	repo.Client = &auth.Client{
		Client:     retry.DefaultClient,
		Cache:      auth.NewCache(),
		Credential: credentials,
	}
	return &Publisher{repo: repo}, nil
}

// Push archives the directory, uploads it as a single layer and tags the
// packed manifest.
func (p *Publisher) Push(ctx context.Context, dir, tag string) (v1.Descriptor, error) {
	tempFile, err := os.CreateTemp("", "webship_snapshot_*.tar.gz")
	if err != nil {
		return v1.Descriptor{}, err
	}
	defer func() {
		log.Debug("cleaning up snapshot temp file")
		_ = os.Remove(tempFile.Name())
	}()

	// Compress and hash the archive while writing it to the disk.
	hasher := sha256.New()
	gzw := gzip.NewWriter(io.MultiWriter(tempFile, hasher))
	if err := tarutils.TarDirectory(ctx, dir, layerPrefix, gzw); err != nil {
		return v1.Descriptor{}, fmt.Errorf("failed to archive %q: %w", dir, err)
	}
	if err := gzw.Close(); err != nil {
		return v1.Descriptor{}, err
	}
	stat, err := tempFile.Stat()
	if err != nil {
		return v1.Descriptor{}, err
	}
	dgst := digest.NewDigest(digest.SHA256, hasher)

	d := v1.Descriptor{
		MediaType: layerMediaType,
		Digest:    dgst,
		Size:      stat.Size(),
		Annotations: map[string]string{
			annotationSource: layerPrefix,
		},
	}
	log.Debugf("snapshot layer descriptor: %v", d)
	if _, err := tempFile.Seek(0, io.SeekStart); err != nil {
		return v1.Descriptor{}, err
	}

	mfDesc, err := p.pushAndTag(ctx, d, tempFile, tag)
	if err != nil {
		return v1.Descriptor{}, err
	}
	log.Infof("published snapshot %q (%d bytes, digest %s)", tag, stat.Size(), mfDesc.Digest)
	return mfDesc, nil
}

// pushAndTag pushes the layer and its manifest to the registry and tags it.
func (p *Publisher) pushAndTag(ctx context.Context, d v1.Descriptor, content io.Reader, tag string) (v1.Descriptor, error) {
	if err := p.repo.Push(ctx, d, content); err != nil {
		return v1.Descriptor{}, err
	}
	opts := oras.PackManifestOptions{
		Layers: []v1.Descriptor{d},
	}
	mfDesc, err := oras.PackManifest(ctx, p.repo, oras.PackManifestVersion1_1, artifactType, opts)
	if err != nil {
		return v1.Descriptor{}, err
	}
	if err := p.repo.Tag(ctx, mfDesc, tag); err != nil {
		return v1.Descriptor{}, fmt.Errorf("failed to tag manifest: %w", err)
	}
	return mfDesc, nil
}

// Fetch resolves the tagged snapshot and extracts its tree into dir.
func (p *Publisher) Fetch(ctx context.Context, tag, dir string) error {
	_, rc, err := p.repo.FetchReference(ctx, tag)
	if err != nil {
		return fmt.Errorf("failed to resolve snapshot %q: %w", tag, err)
	}
	var mf v1.Manifest
	err = json.NewDecoder(rc).Decode(&mf)
	funcutils.PanicOrLogOnErr(rc.Close, false, "failed to close manifest reader")
	if err != nil {
		return err
	}
	if len(mf.Layers) != 1 {
		return fmt.Errorf("unsupported number of snapshot layers %d", len(mf.Layers))
	}
	layer := mf.Layers[0]
	if layer.MediaType != layerMediaType {
		return fmt.Errorf("unsupported snapshot layer media type %q", layer.MediaType)
	}

	blob, err := p.repo.Blobs().Fetch(ctx, layer)
	if err != nil {
		return err
	}
	tempFile, err := os.CreateTemp("", "webship_fetch_*.tar.gz")
	if err != nil {
		funcutils.PanicOrLogOnErr(blob.Close, false, "failed to close blob reader")
		return err
	}
	defer func() {
		_ = os.Remove(tempFile.Name())
	}()
	_, err = io.Copy(tempFile, blob)
	funcutils.PanicOrLogOnErr(blob.Close, false, "failed to close blob reader")
	closeErr := tempFile.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	prefix := layer.Annotations[annotationSource]
	if prefix == "" {
		prefix = layerPrefix
	}
	checksum := layer.Digest
	if err := tarutils.ExtractCompressedTar(dir, prefix, tempFile.Name(), &checksum); err != nil {
		return fmt.Errorf("failed to extract snapshot %q: %w", tag, err)
	}
	return nil
}

// Tags lists the snapshot tags in the repository, oldest first.
func (p *Publisher) Tags(ctx context.Context) ([]string, error) {
	var tags []string
	err := p.repo.Tags(ctx, "", func(page []string) error {
		tags = append(tags, page...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot tags: %w", err)
	}
	return tags, nil
}
