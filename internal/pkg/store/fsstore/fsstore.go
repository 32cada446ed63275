// Package fsstore implements the object store boundary on a local directory.
// It backs local preview targets and tests; cache directives are accepted
// but not persisted because nothing serves them locally.
package fsstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/unbasical/webship/internal/pkg/utils/funcutils"
	"github.com/unbasical/webship/internal/pkg/utils/writerutils"
	"github.com/unbasical/webship/pkg/store"
)

// Store publishes objects into a directory tree.
type Store struct {
	root string
}

// New returns a store rooted at the given directory, creating it if needed.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root %q: %w", abs, err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Name() string {
	return fmt.Sprintf("filesystem:%s", s.root)
}

// List walks the tree and digests every file.
func (s *Store) List(ctx context.Context) (store.RemoteState, error) {
	state := store.RemoteState{}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		fp, err := os.Open(path)
		if err != nil {
			return err
		}
		dgst, err := digest.FromReader(fp)
		closeErr := fp.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
		state[filepath.ToSlash(rel)] = dgst
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", s.Name(), err)
	}
	return state, nil
}

// Put writes the object to a temporary file, syncs it and renames it into
// place so readers never observe a partially written object.
func (s *Store) Put(ctx context.Context, req store.PutRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(req.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".webship-put-*")
	if err != nil {
		return err
	}
	w := writerutils.NewSafeFileWriter(tmp)
	_, copyErr := io.Copy(w, req.Content)
	closeErr := w.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Delete removes the object. Absent objects are not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	// Prune directories the delete emptied, ignoring shared ones.
	dir := filepath.Dir(target)
	for dir != s.root {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// resolve maps a published path to a filesystem path and makes sure it
// stays inside the store root.
func (s *Store) resolve(p string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(p))
	if strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return "", fmt.Errorf("path %q escapes the store root", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Reset removes all published objects. Only used by tests.
func (s *Store) Reset() {
	funcutils.PanicOrLogOnErr(func() error {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}, false, "failed to reset filesystem store")
}
