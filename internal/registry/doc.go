// Package registry implements persistent per-user port registries.
//
// A Registry maps an opaque user identifier to a stable TCP port. The first
// time a user is seen they receive basePort + k, where k is their 1-based
// assignment rank; every later call returns the same port, across process
// restarts, because the mapping lives in a small JSON record on disk:
//
//	{"alice": 22223, "bob": 22224}
//
// Concurrency contract:
//
//   - Lookups take a shared flock(2) lock on "<record>.lock", read the whole
//     record and release it. Nothing is written.
//   - A first-time allocation takes the exclusive lock, re-reads the record,
//     computes the candidate port and persists the new mapping before the
//     lock is released, so two writers can never compute the same rank.
//   - Within a single process a per-path RWMutex serializes goroutines in
//     addition to the file lock.
//   - Lock acquisition is bounded by Options.LockTimeout; expiry surfaces
//     as ErrLockTimeout.
//
// The record is replaced atomically (temp file, fsync, rename), so readers
// never observe a partially written mapping. An absent or unparsable record
// reads as an empty registry. The registry only grows: ports are never
// released or reused.
package registry
