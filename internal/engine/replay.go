package engine

import (
	"fmt"

	"github.com/roach88/livedoc/internal/ir"
)

// Replay and mirroring
//
// A committed change carries the forward merge patch of every slot the
// transaction touched, system slots included. Folding the forward patches
// of a change log onto a blank document therefore reproduces the primary's
// snapshot byte for byte: no document logic runs, so replay cannot diverge
// from what was committed.
//
//	blank --F1--> s1 --F2--> s2 ... --Fn--> head
//
// Folding reverse patches newest first walks back the other way, which is
// how Rewind and DataService.Compute derive past snapshots.

// Mirror follows another document's commits.
type Mirror struct {
	doc *Document
}

// NewMirror creates a mirror over a blank document.
func NewMirror(factory *Factory, key ir.Key, opts ...Option) *Mirror {
	return &Mirror{doc: New(factory, key, opts...)}
}

// Apply inserts one change. Changes must arrive in seq order without gaps.
func (m *Mirror) Apply(change ir.Change) error {
	if want := m.doc.Seq() + 1; change.Seq != want {
		return fmt.Errorf("mirror %s: expected seq %d, got %d", m.doc.key, want, change.Seq)
	}
	if unknown := m.doc.Insert(change.Forward); len(unknown) > 0 {
		return fmt.Errorf("mirror %s: change %d writes unknown fields %v", m.doc.key, change.Seq, unknown)
	}
	return nil
}

// Document returns the mirrored document.
func (m *Mirror) Document() *Document {
	return m.doc
}

// Replay rebuilds a document from a full change log.
func Replay(factory *Factory, key ir.Key, changes []ir.Change, opts ...Option) (*Document, error) {
	m := NewMirror(factory, key, opts...)
	for _, c := range changes {
		if err := m.Apply(c); err != nil {
			return nil, err
		}
	}
	return m.doc, nil
}
