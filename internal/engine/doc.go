// Package engine runs living documents.
//
// A Document is a persisted JSON tree plus the program that owns it. Every
// external request arrives as a command envelope (construct, connect,
// disconnect, send, attach, apply, expire, invalidate, deploy) and runs as
// one transaction:
//
//  1. The reactive graph opens an undo journal and the goodwill budget is
//     checkpointed.
//  2. The command body runs, then the state machine drives every due label.
//  3. Formulas are recomputed and every private view plans its delta.
//  4. The seq advances, and the change (forward and reverse merge patches)
//     is persisted through the DataService.
//  5. On success the planned deltas are delivered. On any failure the
//     journal is replayed backwards and nothing is delivered.
//
// Document logic never reads the wall clock or a random source of its own:
// time is the envelope timestamp and randomness is seeded from the
// document's entropy, so a change log replays identically.
//
// ERROR HANDLING:
//
// Every failure is a *DocumentError with a stable numeric code. Kinds group
// codes by how the caller should react; see errors.go.
//
// CONCURRENCY:
//
// A Document is single-threaded. Service shards documents across executors,
// each a single-writer loop over a FIFO queue, so commands for one key run
// strictly in submission order.
package engine
