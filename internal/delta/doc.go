// Package delta projects a document's fields into per-viewer incremental
// updates.
//
// Each PrivateView remembers, per field, the generation it last saw and
// whether the field was visible. Planning an update walks the document's
// fields, re-evaluates privacy, and produces a canonical JSON payload holding
// only what changed for that viewer:
//
//	{"data":{"x":142,"secret":null},"seq":7}
//
// Planning and delivery are separate steps so the owning engine can plan
// inside a transaction and deliver only once it commits.
package delta
