package fsstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/unbasical/webship/pkg/store"
)

func put(t *testing.T, s *Store, path string, content []byte) {
	t.Helper()
	err := s.Put(context.Background(), store.PutRequest{
		Path:    path,
		Content: bytes.NewReader(content),
		Size:    int64(len(content)),
		Digest:  digest.FromBytes(content),
	})
	if err != nil {
		t.Fatal(err)
	}
}

// TestPutListDeleteRoundTrip covers the full object lifecycle.
func TestPutListDeleteRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	content := []byte("<html></html>")
	put(t, s, "nested/dir/index.html", content)

	state, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(state) != 1 {
		t.Fatalf("expected 1 object, got %d", len(state))
	}
	if state["nested/dir/index.html"] != digest.FromBytes(content) {
		t.Fatalf("digest mismatch: %v", state)
	}

	if err := s.Delete(context.Background(), "nested/dir/index.html"); err != nil {
		t.Fatal(err)
	}
	state, err = s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(state) != 0 {
		t.Fatalf("expected empty state, got %v", state)
	}
}

// TestDeleteAbsentObject verifies deletes are idempotent.
func TestDeleteAbsentObject(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(context.Background(), "never/was.html"); err != nil {
		t.Fatal(err)
	}
}

// TestPutRejectsTraversal makes sure objects cannot escape the store root.
func TestPutRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"../escape.html", "/abs.html", "a/../../b"} {
		err := s.Put(context.Background(), store.PutRequest{
			Path:    p,
			Content: strings.NewReader("x"),
		})
		if err == nil {
			t.Errorf("expected error for path %q", p)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.html")); !os.IsNotExist(err) {
		t.Error("traversal escaped the store root")
	}
}

// TestPutOverwrite verifies an object can be replaced in place.
func TestPutOverwrite(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	put(t, s, "index.html", []byte("v1"))
	put(t, s, "index.html", []byte("v2"))
	state, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state["index.html"] != digest.FromString("v2") {
		t.Fatalf("expected v2 digest, got %s", state["index.html"])
	}
}
