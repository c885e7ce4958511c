// Package memory implements the storage interfaces with in-process maps.
//
// A single Store satisfies ClientStore, CodeStore, and TokenStore. All
// access goes through a sync.RWMutex, and the single-use guarantees for
// authorization codes and refresh tokens hold under the write lock. A
// background goroutine removes expired codes and tokens on a
// configurable interval; call Stop to shut it down.
//
// The package is intended for development, tests, and single-instance
// deployments. State is lost on restart, so anything that needs
// persistence or runs more than one server should use storage/valkey or
// storage/postgres.
//
//	store := memory.New()
//	defer store.Stop()
//
//	server, _ := mcpauth.NewServer(authenticator, store, store, store, config, logger)
package memory
