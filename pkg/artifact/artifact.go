package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

// ErrConflictingPath is returned when a set would contain a duplicate or unsafe path.
// It indicates a corrupt build output and aborts a deployment before any side effect.
var ErrConflictingPath = errors.New("conflicting or invalid artifact path")

// Artifact is one built file to be published.
// It is immutable after creation; content is opened lazily so large trees
// do not have to be held in memory.
type Artifact struct {
	// Path is the slash-separated path relative to the site root.
	Path string
	// Digest of the raw file content.
	Digest digest.Digest
	// Size of the raw file content in bytes.
	Size int64
	// ContentType is the MIME type served for this file.
	ContentType string

	open func() (io.ReadCloser, error)
}

// Open returns a reader over the artifact's raw content.
func (a *Artifact) Open() (io.ReadCloser, error) {
	if a.open == nil {
		return nil, fmt.Errorf("artifact %q has no content source", a.Path)
	}
	return a.open()
}

// Set is the collection of artifacts produced by one build.
// Paths are unique within a set.
type Set struct {
	artifacts map[string]*Artifact
}

// NewSet returns an empty artifact set.
func NewSet() *Set {
	return &Set{artifacts: make(map[string]*Artifact)}
}

// Add inserts an artifact into the set.
// Returns ErrConflictingPath if the path is absolute, escapes the root or already exists.
func (s *Set) Add(a *Artifact) error {
	p, err := normalizePath(a.Path)
	if err != nil {
		return err
	}
	if _, ok := s.artifacts[p]; ok {
		return fmt.Errorf("%w: duplicate path %q", ErrConflictingPath, p)
	}
	a.Path = p
	s.artifacts[p] = a
	return nil
}

// Get returns the artifact stored under the given path.
func (s *Set) Get(path string) (*Artifact, bool) {
	a, ok := s.artifacts[path]
	return a, ok
}

// Len returns the number of artifacts in the set.
func (s *Set) Len() int {
	return len(s.artifacts)
}

// Paths returns the paths in the set in sorted order.
// The slice is a copy, iterating over it is deterministic.
func (s *Set) Paths() []string {
	paths := make([]string, 0, len(s.artifacts))
	for p := range s.artifacts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FromMemory builds a set from in-memory file contents.
// Intended for tests and programmatic callers.
func FromMemory(files map[string][]byte) (*Set, error) {
	s := NewSet()
	for p, content := range files {
		content := content
		a := &Artifact{
			Path:        p,
			Digest:      digest.FromBytes(content),
			Size:        int64(len(content)),
			ContentType: contentType(p),
			open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(content)), nil
			},
		}
		if err := s.Add(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// normalizePath cleans a path and rejects anything that is absolute,
// empty or escapes the root.
func normalizePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrConflictingPath)
	}
	p = filepath.ToSlash(p)
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrConflictingPath, p)
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	if clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return "", fmt.Errorf("%w: path %q escapes the artifact root", ErrConflictingPath, p)
	}
	return clean, nil
}

// contentType resolves the MIME type for a path from its extension.
func contentType(p string) string {
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}
