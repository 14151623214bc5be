package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/migadu/mailfeed/consts"
)

// Op names recorded by MemoryBlobStore.
const (
	OpGet    = "GET"
	OpPut    = "PUT"
	OpDelete = "DELETE"
)

// Call is one recorded store operation.
type Call struct {
	Op   string
	Keys []string
}

type object struct {
	data        []byte
	contentType string
}

// MemoryBlobStore is an in-memory object store.
type MemoryBlobStore struct {
	mu        sync.Mutex
	objects   map[string]object
	errors    map[string]error // key -> error returned by any operation on it
	deleteErr error
	calls     []Call
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		objects: make(map[string]object),
		errors:  make(map[string]error),
	}
}

func (m *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpGet, Keys: []string{key}})

	if err, ok := m.errors[key]; ok {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", consts.ErrObjectNotFound, key)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpPut, Keys: []string{key}})

	if err, ok := m.errors[key]; ok {
		return err
	}
	m.objects[key] = object{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (m *MemoryBlobStore) DeleteMany(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: OpDelete, Keys: append([]string(nil), keys...)})

	if m.deleteErr != nil {
		return m.deleteErr
	}
	for _, key := range keys {
		if err, ok := m.errors[key]; ok {
			return err
		}
	}
	for _, key := range keys {
		delete(m.objects, key)
	}
	return nil
}

// SetError makes every operation on key fail with err.
func (m *MemoryBlobStore) SetError(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[key] = err
}

func (m *MemoryBlobStore) ClearError(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, key)
}

// SetDeleteError makes every DeleteMany call fail with err.
func (m *MemoryBlobStore) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Seed stores an object without recording a call.
func (m *MemoryBlobStore) Seed(key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{data: append([]byte(nil), data...), contentType: contentType}
}

func (m *MemoryBlobStore) GetStoredData(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj.data, ok
}

func (m *MemoryBlobStore) ContentType(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key].contentType
}

func (m *MemoryBlobStore) Has(key string) bool {
	_, ok := m.GetStoredData(key)
	return ok
}

// GetStoredKeys returns all keys in sorted order.
func (m *MemoryBlobStore) GetStoredKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Calls returns the recorded operations in order.
func (m *MemoryBlobStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsFor returns the recorded operations of one kind.
func (m *MemoryBlobStore) CallsFor(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *MemoryBlobStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
