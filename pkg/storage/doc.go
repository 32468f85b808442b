// Package storage provides the durable key-value stores that hold the
// encrypted session blob and its IV.
//
// The session core only needs three calls (Get, Set, Remove) on opaque
// string values. This package defines that contract and ships backends:
//
//   - Memory: sharded in-process map, for tests and short-lived processes
//   - Badger: embedded LSM store with background value-log GC
//   - Redis: shared store for several processes using one credential
//   - SQLite: single-file store
//
// None of the backends is transactional across keys. The session layer
// writes the ciphertext and IV as two independent keys and treats a
// half-written pair as "no session" on the next load.
package storage
