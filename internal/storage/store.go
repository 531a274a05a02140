package storage

import (
	"errors"
	"sync"
)

// ErrKeyNotFound is returned when a key doesn't exist in the store
var ErrKeyNotFound = errors.New("key not found")

// Store defines the key/value surface a backend serves over the wire
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Get retrieves a value by key
	// Returns ErrKeyNotFound if the key doesn't exist
	Get(key string) ([]byte, error)

	// Set stores a value with the given key
	// Overwrites any existing value for the key
	Set(key string, value []byte) error

	// Del removes a key and reports whether it existed
	// The report feeds the integer reply of the wire-level DEL
	Del(key string) (bool, error)

	// Len returns the number of stored keys
	Len() int
}

// MemoryStore implements Store with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu   sync.RWMutex      // Protects concurrent access
	data map[string][]byte // Key-value storage
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key
// Returns a copy of the value to prevent external modification
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set stores a value with the given key
// Makes a copy of the value to prevent external modification
func (m *MemoryStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored

	return nil
}

// Del removes a key and reports whether it existed
func (m *MemoryStore) Del(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.data[key]
	delete(m.data, key)
	return existed, nil
}

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}
