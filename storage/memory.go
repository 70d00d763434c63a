package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/merova/confidential-batch-backend/interfaces"
)

type memoryKey struct {
	ns  interfaces.Namespace
	key string
}

// MemoryStore is an in-memory record store. State does not survive restarts;
// intended for tests and ephemeral development runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[memoryKey][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[memoryKey][]byte)}
}

// Put stores a copy of data under (ns, key).
func (s *MemoryStore) Put(_ context.Context, ns interfaces.Namespace, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[memoryKey{ns: ns, key: key}] = append([]byte{}, data...)
	return nil
}

// Get retrieves a record copy.
func (s *MemoryStore) Get(_ context.Context, ns interfaces.Namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[memoryKey{ns: ns, key: key}]
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}
	return append([]byte{}, data...), nil
}

// List returns the sorted keys in a namespace.
func (s *MemoryStore) List(_ context.Context, ns interfaces.Namespace) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.records {
		if k.ns == ns {
			keys = append(keys, k.key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes a record. Absent keys are not an error.
func (s *MemoryStore) Delete(_ context.Context, ns interfaces.Namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, memoryKey{ns: ns, key: key})
	return nil
}

// Available always reports true.
func (s *MemoryStore) Available(context.Context) bool { return true }

// Name returns a unique identifier for this store.
func (s *MemoryStore) Name() string { return "memory" }

// LocationURI returns the URI that identifies this store.
func (s *MemoryStore) LocationURI() string { return "mem://" }
