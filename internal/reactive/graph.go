package reactive

import (
	"fmt"

	"github.com/roach88/livedoc/internal/ir"
)

// Kind separates slots that are persisted from those derived at runtime.
type Kind int

const (
	// Stored slots appear in snapshots and patches.
	Stored Kind = iota
	// Derived slots hold formula results. They are tracked for generations
	// and reverted with everything else, but never persisted.
	Derived
)

type slot struct {
	name  string
	kind  Kind
	value ir.IRValue
	gen   int64
}

type undo struct {
	index int
	value ir.IRValue
	gen   int64
}

// Graph is an arena of named slots, each holding a value and the generation
// at which it last changed.
//
// Generations come from one counter shared by every slot, so a slot's
// generation is unique across the document and strictly larger after each
// change. Between Begin and Commit or Revert, every mutation is journaled;
// Revert replays the journal backwards, restoring values and generations.
//
// Graph is not safe for concurrent use. The owning document serializes
// access.
type Graph struct {
	slots   []slot
	index   map[string]int
	counter int64
	journal []undo
	// touched records the first journal entry per slot in this transaction.
	touched map[int]int
	open    bool
}

// New creates an empty graph.
func New() *Graph {
	return NewAt(0)
}

// NewAt creates an empty graph whose generation counter starts at counter.
// A document that swaps its graph (on deploy) continues from the old
// counter so generations never repeat.
func NewAt(counter int64) *Graph {
	return &Graph{
		index:   make(map[string]int),
		touched: make(map[int]int),
		counter: counter,
	}
}

// Define adds a slot. Defining an existing name is an error.
func (g *Graph) Define(name string, kind Kind, initial ir.IRValue) error {
	if _, ok := g.index[name]; ok {
		return fmt.Errorf("slot %q already defined", name)
	}
	g.counter++
	g.index[name] = len(g.slots)
	g.slots = append(g.slots, slot{name: name, kind: kind, value: ir.Clone(initial), gen: g.counter})
	return nil
}

// Has reports whether name is a slot.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Get returns the slot's current value. Callers must not mutate the result;
// use Set with a modified copy instead.
func (g *Graph) Get(name string) (ir.IRValue, bool) {
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.slots[i].value, true
}

// Generation returns the generation at which the slot last changed.
func (g *Graph) Generation(name string) int64 {
	i, ok := g.index[name]
	if !ok {
		return 0
	}
	return g.slots[i].gen
}

// Set replaces the slot's value. Setting an equal value is a no-op and does
// not bump the generation.
func (g *Graph) Set(name string, v ir.IRValue) error {
	i, ok := g.index[name]
	if !ok {
		return fmt.Errorf("unknown slot %q", name)
	}
	s := &g.slots[i]
	if ir.Equal(s.value, v) {
		return nil
	}
	if g.open {
		if _, seen := g.touched[i]; !seen {
			g.touched[i] = len(g.journal)
		}
		g.journal = append(g.journal, undo{index: i, value: s.value, gen: s.gen})
	}
	g.counter++
	s.value = ir.Clone(v)
	s.gen = g.counter
	return nil
}

// Begin opens a transaction. Nested transactions are not supported.
func (g *Graph) Begin() error {
	if g.open {
		return fmt.Errorf("transaction already open")
	}
	g.open = true
	g.journal = g.journal[:0]
	clear(g.touched)
	return nil
}

// InTransaction reports whether Begin has been called without a matching
// Commit or Revert.
func (g *Graph) InTransaction() bool {
	return g.open
}

// Patches returns the forward and reverse merge patches for the open
// transaction, over stored slots only. Slots that changed and changed back
// appear in neither.
func (g *Graph) Patches() (forward, reverse ir.IRObject) {
	forward, reverse = ir.IRObject{}, ir.IRObject{}
	for i, first := range g.touched {
		s := g.slots[i]
		if s.kind != Stored {
			continue
		}
		before := g.journal[first].value
		if fwd, changed := ir.DiffValue(before, s.value); changed {
			forward[s.name] = fwd
			rev, _ := ir.DiffValue(s.value, before)
			reverse[s.name] = rev
		}
	}
	return forward, reverse
}

// Dirty reports whether the open transaction changed any slot.
func (g *Graph) Dirty() bool {
	return len(g.journal) > 0
}

// Commit closes the transaction and keeps every change.
func (g *Graph) Commit() {
	g.open = false
	g.journal = g.journal[:0]
	clear(g.touched)
}

// Revert closes the transaction, undoing every change in reverse order.
// Afterwards each slot holds exactly the value and generation it had at
// Begin.
func (g *Graph) Revert() {
	for i := len(g.journal) - 1; i >= 0; i-- {
		u := g.journal[i]
		g.slots[u.index].value = u.value
		g.slots[u.index].gen = u.gen
	}
	g.Commit()
}

// Snapshot returns a deep copy of every stored slot.
func (g *Graph) Snapshot() ir.IRObject {
	out := make(ir.IRObject, len(g.slots))
	for _, s := range g.slots {
		if s.kind == Stored {
			out[s.name] = ir.Clone(s.value)
		}
	}
	return out
}

// Insert merges a patch into stored slots, as when hydrating a snapshot.
// Unknown keys are returned rather than applied. Insert participates in an
// open transaction like any other Set.
func (g *Graph) Insert(patch ir.IRObject) (unknown []string) {
	for _, name := range patch.SortedKeys() {
		i, ok := g.index[name]
		if !ok || g.slots[i].kind != Stored {
			unknown = append(unknown, name)
			continue
		}
		merged := ir.MergePatch(g.slots[i].value, patch[name])
		_ = g.Set(name, merged)
	}
	return unknown
}

// Each visits every slot in definition order.
func (g *Graph) Each(fn func(name string, kind Kind, value ir.IRValue, gen int64)) {
	for _, s := range g.slots {
		fn(s.name, s.kind, s.value, s.gen)
	}
}

// Counter returns the current generation counter.
func (g *Graph) Counter() int64 {
	return g.counter
}
