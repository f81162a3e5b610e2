// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Run: One submission passing through the tutoring pipeline, with its
//     final state stored as JSON once the run finishes
//   - RunEvent: One finished pipeline node, numbered in execution order
//   - MemoryEntry: A solution a student confirmed as accurate
//   - Feedback: A student's verdict on a run, with an optional comment
//   - TokenUsage: Model token consumption per node call
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (no cgo) with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The knowledge base shares the same database file through DB().
//
// # Legacy Memory Format
//
// WriteLegacyJSON and ReadLegacyJSON convert memory to and from a flat JSON
// list of {problem, solution, verified} objects so existing memory files can
// be imported and exported.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(path) with a
// t.TempDir() path for integration tests with real SQLite.
package store
