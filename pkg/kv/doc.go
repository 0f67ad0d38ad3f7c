// Package kv provides the durable key-value persistence used by the portal
// to keep realm session slots across page reloads and process restarts.
//
// Every backend implements Store. Get returns (nil, nil) for a missing key so
// callers can tell "absent" apart from a backend failure.
//
// # Backends
//
//   - MemoryStore: in-process map, for tests and single-process development
//   - FileStore: one file per key under a directory, written atomically
//   - SQLStore: any database/sql driver (SQLite, PostgreSQL, MySQL)
//   - RedisStore: go-redis client, shared across portal instances
//   - S3Store: one object per key in a bucket
//
// Prefixed scopes a store to a key namespace, which is how each browser tab
// gets its own pair of realm slots:
//
//	tabStore := kv.Prefixed(store, "tab/"+tabID+"/")
//	tabStore.Set(ctx, "user-session", data) // writes tab/<id>/user-session
//
// Open builds the backend described by a Config.
package kv
