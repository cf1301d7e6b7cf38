package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/livedoc/internal/ir"
)

// Memory is an in-process DataService.
//
// Besides backing tests and the scenario harness, it exposes hooks that the
// engine's tests lean on: OnChange observes every committed change (feeding a
// mirror document), and the Fail* setters inject errors into one operation.
type Memory struct {
	mu   sync.Mutex
	docs map[ir.Key]*memoryDocument

	onChange    func(key ir.Key, change ir.Change)
	failPatch   error
	failDelete  error
	failCompute error
}

type memoryDocument struct {
	snapshot ir.IRObject
	seq      int64
	changes  []ir.Change
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[ir.Key]*memoryDocument)}
}

// OnChange registers a hook invoked, outside the lock, for every change
// accepted by Initialize or Patch.
func (m *Memory) OnChange(fn func(key ir.Key, change ir.Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// FailPatches makes every subsequent Patch return err. nil clears it.
func (m *Memory) FailPatches(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPatch = err
}

// FailDeletes makes every subsequent Delete return err. nil clears it.
func (m *Memory) FailDeletes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDelete = err
}

// FailComputes makes every subsequent Compute return err. nil clears it.
func (m *Memory) FailComputes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCompute = err
}

// Get implements DataService.
func (m *Memory) Get(ctx context.Context, key ir.Key) (*LocalDocumentChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &LocalDocumentChange{Patch: doc.snapshot.Clone(), Seq: doc.seq}, nil
}

// Initialize implements DataService.
func (m *Memory) Initialize(ctx context.Context, key ir.Key, change ir.Change) error {
	m.mu.Lock()
	if _, ok := m.docs[key]; ok {
		m.mu.Unlock()
		return ErrExists
	}
	doc := &memoryDocument{snapshot: ir.IRObject{}}
	doc.apply(change)
	m.docs[key] = doc
	hook := m.onChange
	m.mu.Unlock()

	if hook != nil {
		hook(key, change)
	}
	return nil
}

// Patch implements DataService.
func (m *Memory) Patch(ctx context.Context, key ir.Key, changes ...ir.Change) error {
	m.mu.Lock()
	if m.failPatch != nil {
		err := m.failPatch
		m.mu.Unlock()
		return err
	}
	doc, ok := m.docs[key]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	for _, c := range changes {
		doc.apply(c)
	}
	hook := m.onChange
	m.mu.Unlock()

	if hook != nil {
		for _, c := range changes {
			hook(key, c)
		}
	}
	return nil
}

// Compute implements DataService.
func (m *Memory) Compute(ctx context.Context, key ir.Key, method ComputeMethod, seq int64) (*LocalDocumentChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCompute != nil {
		return nil, m.failCompute
	}
	doc, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return compute(doc.snapshot, doc.seq, doc.changes, method, seq)
}

// Delete implements DataService.
func (m *Memory) Delete(ctx context.Context, key ir.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failDelete != nil {
		return m.failDelete
	}
	if _, ok := m.docs[key]; !ok {
		return ErrNotFound
	}
	delete(m.docs, key)
	return nil
}

// Changes implements ChangeLog.
func (m *Memory) Changes(ctx context.Context, key ir.Key) ([]ir.Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]ir.Change(nil), doc.changes...), nil
}

// Keys lists stored documents.
func (m *Memory) Keys() []ir.Key {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]ir.Key, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b ir.Key) int { return strings.Compare(a.String(), b.String()) })
	return keys
}

func (d *memoryDocument) apply(c ir.Change) {
	merged, _ := ir.MergePatch(d.snapshot, c.Forward).(ir.IRObject)
	d.snapshot = merged
	d.seq = c.Seq
	d.changes = append(d.changes, c)
}
