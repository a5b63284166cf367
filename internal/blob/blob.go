package blob

import (
	"context"
	"fmt"
	"sync"
)

// Store is an opaque key/value blob store. Get reports ok=false when the
// key has never been written.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open constructs the Store for backend. path is a directory for the file
// backend and a database file for sqlite; it is ignored for memory.
func Open(ctx context.Context, backend, path string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(path)
	case BackendSQLite:
		return OpenSQLite(ctx, path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("blob: unknown backend %q", backend)
	}
}

// MemoryStore keeps blobs in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
