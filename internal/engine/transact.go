package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/livedoc/internal/delta"
	"github.com/roach88/livedoc/internal/ir"
	"github.com/roach88/livedoc/internal/store"
)

// Result describes a committed transaction.
type Result struct {
	Seq    int64
	Change ir.Change
	// Destroyed is set when the transaction deleted the document.
	Destroyed bool
	// InvalidateInMillis is RequiresInvalidateMilliseconds after the commit.
	InvalidateInMillis int64
}

// txn carries what one transaction knows about itself.
type txn struct {
	command   string
	who       ir.Client
	hasWho    bool
	request   string
	timestamp int64

	initialize bool
	destroy    bool
	rewindTo   *int64

	// baseline, when set, replaces the graph journal as the source of the
	// change's patches. Deploy swaps graphs, so there is no single journal.
	baseline ir.IRObject

	pendingView *delta.PrivateView
	afterCommit []func()
	onRevert    []func()
}

// run executes a transaction and then any rewind it scheduled.
func (d *Document) run(ctx context.Context, tx *txn, body func(rt *Runtime) error) (*Result, error) {
	res, err := d.execute(ctx, tx, body)
	if err != nil || tx.rewindTo == nil || res.Destroyed {
		return res, err
	}
	return d.rewind(ctx, *tx.rewindTo)
}

// execute runs body as one transaction: everything it and the state machine
// do is either committed, persisted and projected, or reverted.
func (d *Document) execute(ctx context.Context, tx *txn, body func(rt *Runtime) error) (*Result, error) {
	if d.busy {
		return nil, d.concurrent()
	}
	d.busy = true
	defer func() { d.busy = false }()

	started := time.Now()
	if err := d.graph.Begin(); err != nil {
		return nil, faultError(CodeConcurrentTxn, "%v", err)
	}
	budget := d.goodwill.checkpoint()
	spent := d.goodwill.Spent()
	rt := newRuntime(d, tx)

	var updates []*delta.Update
	var change ir.Change
	err := guard(func() error {
		d.setSys(fieldTime, ir.IRInt(tx.timestamp))
		if err := body(rt); err != nil {
			return err
		}
		d.drive(rt)
		d.computeFormulas(tx)
		rt.saveEntropy()

		seq := d.sysInt(fieldSeq) + 1
		d.setSys(fieldSeq, ir.IRInt(seq))
		if !tx.destroy {
			updates = d.planViews(tx, seq)
		}
		return nil
	})
	if err == nil {
		change = d.change(tx)
		err = d.persist(ctx, tx, change)
	}
	if err != nil {
		d.graph.Revert()
		d.goodwill.restore(budget)
		for i := len(tx.onRevert) - 1; i >= 0; i-- {
			tx.onRevert[i]()
		}
		return nil, err
	}
	d.graph.Commit()

	d.remember(change)
	if tx.pendingView != nil {
		d.views.Add(tx.pendingView)
	}
	for _, u := range updates {
		u.Deliver()
	}
	for _, fn := range tx.afterCommit {
		fn()
	}
	if tx.destroy {
		d.destroyed = true
		d.views.DisconnectAll()
	}
	d.monitor.Transaction(d.key, tx.command, change.Seq, d.goodwill.Spent()-spent, time.Since(started))

	return &Result{
		Seq:                change.Seq,
		Change:             change,
		Destroyed:          tx.destroy,
		InvalidateInMillis: d.RequiresInvalidateMilliseconds(),
	}, nil
}

func (d *Document) concurrent() error {
	return &DocumentError{
		Code:    CodeConcurrentTxn,
		Kind:    KindExecution,
		Message: "transaction already running on " + d.key.String(),
		Err:     ErrConcurrentTransaction,
	}
}

func (d *Document) change(tx *txn) ir.Change {
	var forward, reverse ir.IRObject
	if tx.baseline != nil {
		head := d.graph.Snapshot()
		forward, reverse = ir.MergeDiff(tx.baseline, head), ir.MergeDiff(head, tx.baseline)
	} else {
		forward, reverse = d.graph.Patches()
	}
	c := ir.Change{
		Seq:     d.sysInt(fieldSeq),
		Request: tx.request,
		Forward: forward,
		Reverse: reverse,
	}
	if tx.hasWho {
		who := tx.who
		c.Who = &who
	}
	return c
}

func (d *Document) persist(ctx context.Context, tx *txn, change ir.Change) error {
	if d.data == nil {
		return nil
	}
	switch {
	case tx.destroy:
		if err := d.data.Delete(ctx, d.key); err != nil {
			return storageError("delete", err)
		}
	case tx.initialize:
		err := d.data.Initialize(ctx, d.key, change)
		if errors.Is(err, store.ErrExists) {
			return policyError(CodeAlreadyConstructed, "document %s already exists", d.key)
		}
		if err != nil {
			return storageError("initialize", err)
		}
	default:
		if err := d.data.Patch(ctx, d.key, change); err != nil {
			return storageError("patch", err)
		}
	}
	return nil
}

func (d *Document) remember(change ir.Change) {
	if d.historyLimit == 0 {
		return
	}
	d.history = append(d.history, change)
	if over := len(d.history) - d.historyLimit; over > 0 {
		clear(d.history[:over])
		d.history = d.history[over:]
	}
}

// guard runs fn, converting panics raised by document logic into errors.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return fn()
}

func recovered(r any) error {
	switch v := r.(type) {
	case *DocumentError:
		return v
	case blockSignal:
		return faultError(CodeExecutionFault, "block outside a state machine step")
	case error:
		return &DocumentError{Code: CodeExecutionFault, Kind: KindExecution, Message: "document logic panicked", Err: v}
	default:
		return faultError(CodeExecutionFault, "document logic panicked: %v", v)
	}
}

// readOnly returns a runtime for formulas, policies and bubbles.
func (d *Document) readOnly(tx *txn) *Runtime {
	rt := newRuntime(d, tx)
	rt.readOnly = true
	return rt
}

func (d *Document) computeFormulas(tx *txn) {
	rt := d.readOnly(tx)
	for _, f := range d.factory.schema.Fields {
		if !f.Formula {
			continue
		}
		rt.Tick(1)
		v := d.factory.program.Formula(rt, f.Name)
		if v == nil {
			v = ir.IRNull{}
		}
		_ = d.graph.Set(f.Name, v)
	}
}

// docSource exposes the document to the projection engine.
type docSource struct {
	d  *Document
	rt *Runtime
}

func (s docSource) Fields() []delta.FieldInfo {
	fields := s.d.factory.schema.Fields
	out := make([]delta.FieldInfo, 0, len(fields))
	for _, f := range fields {
		info := delta.FieldInfo{Name: f.Name, Type: f.Type, Privacy: f.Privacy}
		if f.Privacy != ir.PrivacyBubble {
			info.Value, _ = s.d.graph.Get(f.Name)
			info.Generation = s.d.graph.Generation(f.Name)
		}
		out = append(out, info)
	}
	return out
}

func (s docSource) Visible(field delta.FieldInfo, who ir.Client) bool {
	spec, _ := s.d.factory.schema.Field(field.Name)
	s.rt.Tick(1)
	return s.d.factory.program.Policy(s.rt, spec.Policy, who)
}

func (s docSource) Bubble(field delta.FieldInfo, who ir.Client, viewerState ir.IRObject) ir.IRValue {
	s.rt.Tick(1)
	v := s.d.factory.program.Bubble(s.rt, field.Name, who, viewerState)
	if v == nil {
		return ir.IRNull{}
	}
	return v
}

// planViews computes every live view's update at seq, plus the initial
// update of a view being created.
func (d *Document) planViews(tx *txn, seq int64) []*delta.Update {
	src := docSource{d: d, rt: d.readOnly(tx)}
	live := d.views.Live()
	updates := make([]*delta.Update, 0, len(live)+1)
	for _, v := range live {
		updates = append(updates, v.Plan(src, seq))
	}
	if tx.pendingView != nil {
		updates = append(updates, tx.pendingView.Plan(src, seq))
	}
	return updates
}
