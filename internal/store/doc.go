// Package store implements the namespaced, TTL-aware key-value store in which
// authorizers persist in-flight authorization requests and obtained
// credentials.
//
// The Store interface is the only shared mutable resource of an authorizer.
// Implementations must tolerate concurrent access from several goroutines or
// processes working on disjoint namespaces; the authorizers never take locks
// around it.
//
// Backends:
//
//   - MemoryStore: bounded in-process cache, suitable for tests and single process hosts
//   - FileStore: JSON files in a directory, lets a CLI resume across processes
//   - RedisStore: shared store for multi-instance hosts
//   - KeyringStore: the operating system keychain
//
// SubStore layers a fixed namespace prefix, JSON encoding and a per-value TTL
// on top of any backend.
//
// TTLs are advisory. A backend may keep an entry longer (lazy expiry) or drop
// it earlier (capacity eviction); callers validate expiry themselves.
package store
