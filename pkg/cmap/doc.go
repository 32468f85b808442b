// Package cmap provides a sharded, string-keyed concurrent map.
//
// It backs the in-memory session store, where every key is a storage
// location string. Each shard carries its own RWMutex, so reads of
// different locations never contend.
//
// Usage:
//
//	m := cmap.New[string]()
//	m.Set("BUNQJSCLIENT_SANDBOX_IV_abc", iv)
//	v, ok := m.Get("BUNQJSCLIENT_SANDBOX_IV_abc")
package cmap
