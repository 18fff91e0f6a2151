// Package homegraph provides the offline-first sync core for a personal
// home knowledge graph.
//
// Homegraph keeps a versioned entity/relationship graph in a local pending
// ledger (SQLite or in-memory), tracks causality with vector clocks, and
// reconciles concurrent edits from multiple devices through pluggable
// conflict strategies.
//
// # Basic Usage
//
// Open a local ledger and create an engine:
//
//	store, err := homegraph.NewSQLiteStore(homegraph.DefaultSQLiteStoreConfig("graph.db"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	transport, err := homegraph.NewHTTPTransport(homegraph.HTTPTransportConfig{
//	    Endpoint: "https://sync.example.com",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := homegraph.NewSyncEngine(homegraph.SyncEngineConfig{
//	    Store:     store,
//	    Transport: transport,
//	})
//
// Record local edits through the store, then sync:
//
//	result, err := engine.Sync(ctx, "user-1")
//
// # Features
//
// Core Sync:
//   - Vector clock causality tracking with commutative, idempotent merge
//   - Versioned entities with parent lineage for conflict detection
//   - Delta sync with cursor resumption and full resync recovery
//   - Conflict resolution: last-write-wins, first-write-wins, field merge,
//     and manual surfacing
//
// Storage:
//   - Durable pending-change ledger on SQLite (pure Go driver)
//   - In-memory ledger for tests and ephemeral use
//   - Retry-safe delete semantics: rows survive until transmission confirms
//
// Transport & Operations:
//   - Authenticated HTTPS exchange with optional snappy compression
//   - Classified errors with retryability, backoff retry support
//   - Prometheus counters and an engine event channel
package homegraph
