package storage

import (
	"context"
	"sync"

	"echo-civic-assistant/backend/internal/models"
)

// Memory keeps encoded payloads in process memory. It is the default
// backend and the one used by tests.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory creates an empty in-memory backend
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

// Load implements HistoryStore
func (m *Memory) Load(_ context.Context, key string) ([]models.Message, error) {
	m.mu.RLock()
	data, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(data)
}

// Save implements HistoryStore
func (m *Memory) Save(_ context.Context, key string, messages []models.Message) error {
	data, err := Encode(messages)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[key] = data
	m.mu.Unlock()
	return nil
}

// Clear implements HistoryStore
func (m *Memory) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Put stores a raw payload, bypassing encoding
func (m *Memory) Put(key string, payload []byte) {
	m.mu.Lock()
	m.items[key] = payload
	m.mu.Unlock()
}

// Has reports whether anything is stored under key
func (m *Memory) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[key]
	return ok
}
