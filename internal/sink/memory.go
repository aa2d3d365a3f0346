package sink

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

// MemoryStore is an in-process DocumentStore for tests.
type MemoryStore struct {
	mu          sync.Mutex
	databases   map[string]bool
	collections map[model.SinkTarget]bool
	documents   map[model.SinkTarget][]json.RawMessage
	creates     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		databases:   make(map[string]bool),
		collections: make(map[model.SinkTarget]bool),
		documents:   make(map[model.SinkTarget][]json.RawMessage),
	}
}

func (m *MemoryStore) DatabaseExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.databases[id], nil
}

func (m *MemoryStore) CreateDatabase(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.databases[id] {
		return ErrAlreadyExists
	}
	m.databases[id] = true
	m.creates++
	return nil
}

func (m *MemoryStore) CollectionExists(_ context.Context, target model.SinkTarget) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collections[target], nil
}

func (m *MemoryStore) CreateCollection(_ context.Context, target model.SinkTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections[target] {
		return ErrAlreadyExists
	}
	m.collections[target] = true
	m.creates++
	return nil
}

func (m *MemoryStore) Insert(_ context.Context, target model.SinkTarget, doc json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[target] = append(m.documents[target], append(json.RawMessage(nil), doc...))
	return uuid.NewString(), nil
}

// Documents returns the documents stored under target.
func (m *MemoryStore) Documents(target model.SinkTarget) []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.documents[target]...)
}

// Count returns the number of stored documents across all collections.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, docs := range m.documents {
		n += len(docs)
	}
	return n
}

// Creates returns how many databases and collections were created.
func (m *MemoryStore) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}
