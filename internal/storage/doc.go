// Package storage provides the thread-safe in-memory key/value store that
// backs the in-process backend servers used by the test suites.
//
// # Overview
//
// The proxy itself holds no data: every routed command is forwarded to a
// backend store engine over the wire. What the tests need is a stand-in for
// those engines, something that behaves like a small key/value database and
// can be inspected directly between protocol exchanges. Store is that
// surface and MemoryStore its only implementation.
//
// # Core Interface
//
// Store: key/value operations as a backend serves them
//   - Get(key) - Retrieve a value, ErrKeyNotFound when absent
//   - Set(key, value) - Store or overwrite a value
//   - Del(key) - Remove a key, reporting whether it existed
//   - Len() - Count stored keys (the DBSIZE answer)
//
// Del reports existence because the wire-level DEL reply is the number of
// keys actually removed; a backend cannot produce that count from an
// idempotent delete alone.
//
// # Concurrency and Thread Safety
//
// MemoryStore guards its map with a sync.RWMutex: reads share the lock,
// writes take it exclusively. Values are copied on the way in and on the way
// out, so a caller mutating a slice it passed to Set, or one it received
// from Get, never reaches the stored bytes. Sequential consistency holds per
// key; nothing is guaranteed across keys.
//
// # Usage
//
//	store := storage.NewMemoryStore()
//
//	store.Set("user:123", []byte(`{"name":"Alice"}`))
//
//	value, err := store.Get("user:123")
//	if err == storage.ErrKeyNotFound {
//	    // absent
//	}
//
//	existed, _ := store.Del("user:123")
//
// # See Also
//
// Related packages:
//   - internal/backendtest: serves a Store over the wire protocol
//   - internal/proxy: forwards routed commands to such backends
package storage
