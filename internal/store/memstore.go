package store

import (
	"context"
	"slices"
	"sync"
)

type docKey struct {
	poemID int
	kind   string
}

// MemDocuments is an in-process [Documents] backend. It is the default when
// no storage driver is configured and the backend used by tests.
type MemDocuments struct {
	mu   sync.RWMutex
	docs map[docKey][]byte
}

// NewMemDocuments returns an empty in-memory backend.
func NewMemDocuments() *MemDocuments {
	return &MemDocuments{docs: map[docKey][]byte{}}
}

// NewMemStore returns a typed Store over a fresh in-memory backend.
func NewMemStore() Store {
	return New(NewMemDocuments())
}

// Get implements Documents.
func (m *MemDocuments) Get(_ context.Context, poemID int, kind string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.docs[docKey{poemID, kind}]
	return slices.Clone(b), ok, nil
}

// Put implements Documents.
func (m *MemDocuments) Put(_ context.Context, poemID int, kind string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[docKey{poemID, kind}] = slices.Clone(payload)
	return nil
}

// Ping implements Documents.
func (m *MemDocuments) Ping(context.Context) error { return nil }

// Close implements Documents.
func (m *MemDocuments) Close() error { return nil }
