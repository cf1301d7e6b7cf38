package engine

import (
	"context"

	"github.com/roach88/livedoc/internal/ir"
	"github.com/roach88/livedoc/internal/store"
)

// Rewind rolls the document back to how it looked at seq, as one new
// transaction. Counters, markers and the connected set are kept as they
// are now.
//
// The rollback patch comes from the in-memory history when it reaches back
// to seq, and from the data service otherwise.
func (d *Document) Rewind(ctx context.Context, seq int64) (*Result, error) {
	res, err := d.rewind(ctx, seq)
	if err != nil {
		return nil, d.reject("rewind", err)
	}
	return res, nil
}

func (d *Document) rewind(ctx context.Context, seq int64) (*Result, error) {
	if err := d.ready("rewind"); err != nil {
		return nil, err
	}
	head := d.Seq()
	if seq < 1 || seq >= head {
		return nil, validationError(CodeRewindUnavailable, "cannot rewind to seq %d from %d", seq, head)
	}
	patch, err := d.rewindPatch(ctx, seq)
	if err != nil {
		return nil, err
	}
	for _, name := range rewindPreserved {
		delete(patch, name)
	}

	env := d.forge("rewind", nil, ir.O("seq", ir.IRInt(seq)))
	return d.execute(ctx, env.txn(), func(rt *Runtime) error {
		d.graph.Insert(patch)
		return nil
	})
}

func (d *Document) rewindPatch(ctx context.Context, seq int64) (ir.IRObject, error) {
	if n := len(d.history); n > 0 && d.history[0].Seq <= seq+1 && d.history[n-1].Seq == d.Seq() {
		head := d.graph.Snapshot()
		current := ir.IRValue(head)
		for i := n - 1; i >= 0 && d.history[i].Seq > seq; i-- {
			current = ir.MergePatch(current, d.history[i].Reverse)
		}
		past, _ := current.(ir.IRObject)
		return ir.MergeDiff(head, past), nil
	}
	if d.data == nil {
		return nil, validationError(CodeRewindUnavailable, "no history reaches seq %d", seq)
	}
	got, err := d.data.Compute(ctx, d.key, store.ComputeRewind, seq)
	if err != nil {
		return nil, storageError("compute rewind", err)
	}
	return got.Patch, nil
}
