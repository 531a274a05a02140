package storage

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
)

// TestMemoryStore tests the in-memory store implementation
func TestMemoryStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore()

		if n := store.Len(); n != 0 {
			t.Errorf("Expected empty store, got %d keys", n)
		}

		_, err := store.Get("nonexistent")
		if err != ErrKeyNotFound {
			t.Errorf("Expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("set and get values", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Set("key1", []byte("value1")); err != nil {
			t.Fatalf("Failed to set value: %v", err)
		}

		value, err := store.Get("key1")
		if err != nil {
			t.Fatalf("Failed to get value: %v", err)
		}

		if !bytes.Equal(value, []byte("value1")) {
			t.Errorf("Expected 'value1', got %s", string(value))
		}
	})

	t.Run("overwrite existing key", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Set("key1", []byte("value1")); err != nil {
			t.Fatalf("Failed to set initial value: %v", err)
		}
		if err := store.Set("key1", []byte("value2")); err != nil {
			t.Fatalf("Failed to overwrite value: %v", err)
		}

		value, err := store.Get("key1")
		if err != nil {
			t.Fatalf("Failed to get value: %v", err)
		}

		if !bytes.Equal(value, []byte("value2")) {
			t.Errorf("Expected 'value2', got %s", string(value))
		}

		if n := store.Len(); n != 1 {
			t.Errorf("Expected 1 key after overwrite, got %d", n)
		}
	})

	t.Run("delete reports existence", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Set("key1", []byte("value1")); err != nil {
			t.Fatalf("Failed to set value: %v", err)
		}

		existed, err := store.Del("key1")
		if err != nil {
			t.Fatalf("Failed to delete value: %v", err)
		}
		if !existed {
			t.Error("Del of present key should report true")
		}

		if _, err := store.Get("key1"); err != ErrKeyNotFound {
			t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
		}
		if n := store.Len(); n != 0 {
			t.Errorf("Expected empty store after delete, got %d keys", n)
		}

		// Deleting again is allowed but reports false.
		existed, err = store.Del("key1")
		if err != nil {
			t.Errorf("Del of absent key should not error, got %v", err)
		}
		if existed {
			t.Error("Del of absent key should report false")
		}
	})

	t.Run("empty and nil values", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Set("empty", []byte{}); err != nil {
			t.Fatalf("Failed to set empty value: %v", err)
		}

		value, err := store.Get("empty")
		if err != nil {
			t.Fatalf("Failed to get empty value: %v", err)
		}
		if len(value) != 0 {
			t.Errorf("Expected empty value, got %d bytes", len(value))
		}

		// Nil stores as an empty byte slice, not as absence.
		if err := store.Set("nil", nil); err != nil {
			t.Fatalf("Failed to set nil value: %v", err)
		}

		value, err = store.Get("nil")
		if err != nil {
			t.Fatalf("Failed to get nil value: %v", err)
		}
		if value == nil || len(value) != 0 {
			t.Errorf("Expected empty byte slice for nil value, got %v", value)
		}
	})

	t.Run("empty key handling", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Set("", []byte("empty-key-value")); err != nil {
			t.Fatalf("Failed to set with empty key: %v", err)
		}

		value, err := store.Get("")
		if err != nil {
			t.Fatalf("Failed to get empty key: %v", err)
		}
		if !bytes.Equal(value, []byte("empty-key-value")) {
			t.Errorf("Expected 'empty-key-value', got %s", string(value))
		}

		existed, err := store.Del("")
		if err != nil {
			t.Fatalf("Failed to delete empty key: %v", err)
		}
		if !existed {
			t.Error("Empty key should have existed")
		}
	})

	t.Run("stored bytes are isolated from callers", func(t *testing.T) {
		store := NewMemoryStore()

		input := []byte("value1")
		store.Set("key1", input)
		input[0] = 'X'

		value, err := store.Get("key1")
		if err != nil {
			t.Fatalf("Failed to get value: %v", err)
		}
		if !bytes.Equal(value, []byte("value1")) {
			t.Errorf("Caller mutation reached stored bytes: got %s", string(value))
		}

		value[0] = 'Y'
		again, _ := store.Get("key1")
		if !bytes.Equal(again, []byte("value1")) {
			t.Errorf("Returned slice aliases stored bytes: got %s", string(again))
		}
	})
}

// TestMemoryStoreConcurrency tests thread-safe concurrent access
func TestMemoryStoreConcurrency(t *testing.T) {
	t.Run("concurrent writes", func(t *testing.T) {
		store := NewMemoryStore()

		numGoroutines := 100
		numOps := 100

		var wg sync.WaitGroup
		wg.Add(numGoroutines)

		// Each goroutine writes its own keys
		for i := 0; i < numGoroutines; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < numOps; j++ {
					key := fmt.Sprintf("goroutine-%d-key-%d", id, j)
					value := []byte(fmt.Sprintf("value-%d-%d", id, j))
					if err := store.Set(key, value); err != nil {
						t.Errorf("Failed to set: %v", err)
					}
				}
			}(i)
		}

		wg.Wait()

		expectedKeys := numGoroutines * numOps
		if n := store.Len(); n != expectedKeys {
			t.Errorf("Expected %d keys, got %d", expectedKeys, n)
		}
	})

	t.Run("concurrent reads", func(t *testing.T) {
		store := NewMemoryStore()

		numKeys := 100
		for i := 0; i < numKeys; i++ {
			store.Set(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)))
		}

		numReaders := 100
		numReads := 1000

		var wg sync.WaitGroup
		wg.Add(numReaders)

		for i := 0; i < numReaders; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < numReads; j++ {
					key := fmt.Sprintf("key-%d", j%numKeys)
					expectedValue := []byte(fmt.Sprintf("value-%d", j%numKeys))

					value, err := store.Get(key)
					if err != nil {
						t.Errorf("Reader %d failed to get %s: %v", id, key, err)
						continue
					}

					if !bytes.Equal(value, expectedValue) {
						t.Errorf("Reader %d got wrong value for %s", id, key)
					}
				}
			}(i)
		}

		wg.Wait()
	})

	t.Run("concurrent mixed operations", func(t *testing.T) {
		store := NewMemoryStore()

		var wg sync.WaitGroup
		numGoroutines := 50
		wg.Add(numGoroutines * 3) // 3 types of operations

		// Writers
		for i := 0; i < numGoroutines; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					key := fmt.Sprintf("key-%d", j)
					value := []byte(fmt.Sprintf("writer-%d-value-%d", id, j))
					store.Set(key, value)
				}
			}(i)
		}

		// Readers
		for i := 0; i < numGoroutines; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					key := fmt.Sprintf("key-%d", j)
					store.Get(key) // May or may not exist
				}
			}(i)
		}

		// Deleters
		for i := 0; i < numGoroutines; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					if j%10 == 0 { // Delete every 10th key
						store.Del(fmt.Sprintf("key-%d", j))
					}
				}
			}(i)
		}

		wg.Wait()

		// Store should still be functional
		if err := store.Set("final-key", []byte("final-value")); err != nil {
			t.Errorf("Store not functional after concurrent ops: %v", err)
		}

		value, err := store.Get("final-key")
		if err != nil {
			t.Errorf("Failed to get final key: %v", err)
		}
		if !bytes.Equal(value, []byte("final-value")) {
			t.Error("Final value incorrect after concurrent ops")
		}
	})
}

// TestStoreInterface verifies the Store interface contract
func TestStoreInterface(t *testing.T) {
	// This test ensures MemoryStore implements Store interface
	var _ Store = (*MemoryStore)(nil)

	var store Store = NewMemoryStore()

	if err := store.Set("interface-key", []byte("interface-value")); err != nil {
		t.Fatalf("Interface Set failed: %v", err)
	}

	value, err := store.Get("interface-key")
	if err != nil {
		t.Fatalf("Interface Get failed: %v", err)
	}
	if !bytes.Equal(value, []byte("interface-value")) {
		t.Error("Interface Get returned wrong value")
	}

	if n := store.Len(); n != 1 {
		t.Errorf("Interface Len returned wrong count: %d", n)
	}

	existed, err := store.Del("interface-key")
	if err != nil {
		t.Fatalf("Interface Del failed: %v", err)
	}
	if !existed {
		t.Error("Interface Del should report existence")
	}
}
