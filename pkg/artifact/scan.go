package artifact

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// ScanDir walks the build output directory at root and returns the artifact set it contains.
// Every regular file is digested; directories only contribute their children.
// Symbolic links are rejected because the published tree must not reference
// content outside the build output.
func ScanDir(root string) (*Set, error) {
	s := NewSet()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return fmt.Errorf("unsupported file type at %q", path)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		a, err := fromFile(path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		return s.Add(a)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan artifact directory %q: %w", root, err)
	}
	return s, nil
}

// fromFile digests the file at fsPath and returns an artifact under relPath.
func fromFile(fsPath, relPath string) (*Artifact, error) {
	fp, err := os.Open(fsPath)
	if err != nil {
		return nil, err
	}
	stat, err := fp.Stat()
	if err != nil {
		_ = fp.Close()
		return nil, err
	}
	dgst, err := digest.FromReader(fp)
	if err != nil {
		_ = fp.Close()
		return nil, err
	}
	if err := fp.Close(); err != nil {
		return nil, err
	}
	return &Artifact{
		Path:        relPath,
		Digest:      dgst,
		Size:        stat.Size(),
		ContentType: contentType(relPath),
		open: func() (io.ReadCloser, error) {
			return os.Open(fsPath)
		},
	}, nil
}
