// Package store persists live documents.
//
// DataService is the contract the engine writes every commit through.
// Two implementations ship:
//   - Store: SQLite, durable, for the CLI and long-running services
//   - Memory: in process, for tests and the scenario harness
//
// Both keep a document's head snapshot next to its full change log. A
// change carries forward and reverse merge patches, so any past snapshot
// can be derived by folding reverse patches back from the head (Compute,
// SnapshotAt), and the head can be checked by folding forward patches from
// nothing (Verify).
//
// # Ordering
//
// Changes are addressed by seq, the document's logical clock, never by
// wall time. Patch refuses a change whose seq does not follow the head.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Deleting a document removes its changes
//
// Snapshots and patches are stored as RFC 8785 canonical JSON (see
// ir.MarshalCanonical).
package store
