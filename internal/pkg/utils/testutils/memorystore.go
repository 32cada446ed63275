package testutils

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/unbasical/webship/pkg/store"
)

// StoredObject is one object held by a MemoryStore.
type StoredObject struct {
	Content         []byte
	Digest          digest.Digest
	ContentType     string
	CacheControl    string
	ContentEncoding string
}

// MemoryStore is an in-memory store.ObjectStore with failure injection and
// an operation log, used to test the deployer without a real backend.
type MemoryStore struct {
	mu          sync.Mutex
	objects     map[string]StoredObject
	ops         []string
	failPuts    map[string]int
	failDeletes map[string]int
	listErr     error
}

// NewMemoryStore returns an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:     make(map[string]StoredObject),
		failPuts:    make(map[string]int),
		failDeletes: make(map[string]int),
	}
}

func (m *MemoryStore) Name() string {
	return "memory"
}

// FailPuts makes the next n Put calls for the given path fail.
func (m *MemoryStore) FailPuts(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPuts[path] = n
}

// FailDeletes makes the next n Delete calls for the given path fail.
func (m *MemoryStore) FailDeletes(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDeletes[path] = n
}

// FailList makes List return the given error.
func (m *MemoryStore) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

func (m *MemoryStore) List(_ context.Context) (store.RemoteState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	state := make(store.RemoteState, len(m.objects))
	for p, obj := range m.objects {
		state[p] = obj.Digest
	}
	return state, nil
}

func (m *MemoryStore) Put(_ context.Context, req store.PutRequest) error {
	content, err := io.ReadAll(req.Content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "put:"+req.Path)
	if n := m.failPuts[req.Path]; n > 0 {
		m.failPuts[req.Path] = n - 1
		return fmt.Errorf("injected put failure for %q", req.Path)
	}
	m.objects[req.Path] = StoredObject{
		Content:         content,
		Digest:          req.Digest,
		ContentType:     req.ContentType,
		CacheControl:    req.CacheControl,
		ContentEncoding: req.ContentEncoding,
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "delete:"+path)
	if n := m.failDeletes[path]; n > 0 {
		m.failDeletes[path] = n - 1
		return fmt.Errorf("injected delete failure for %q", path)
	}
	delete(m.objects, path)
	return nil
}

// Ops returns a copy of the operation log in call order.
func (m *MemoryStore) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, len(m.ops))
	copy(ops, m.ops)
	return ops
}

// Object returns the stored object under the given path.
func (m *MemoryStore) Object(path string) (StoredObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	return obj, ok
}
