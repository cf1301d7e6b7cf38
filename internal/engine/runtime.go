package engine

import (
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/roach88/livedoc/internal/ir"
)

// Runtime is the handle document logic uses to read and mutate its
// document. A Runtime is only valid during the call it was passed to.
//
// Mutators that fail raise a *DocumentError by panicking; the transaction
// boundary recovers it and reverts. Program code should not recover.
type Runtime struct {
	doc      *Document
	tx       *txn
	readOnly bool

	label     string
	preempted bool
	taken     map[int64]bool
	consumed  []int64

	rng *rand.Rand
}

// blockSignal unwinds a label that cannot make progress.
type blockSignal struct {
	channel string
}

func newRuntime(d *Document, tx *txn) *Runtime {
	return &Runtime{doc: d, tx: tx}
}

func (rt *Runtime) fail(err *DocumentError) {
	panic(err)
}

func (rt *Runtime) writable(op string) {
	if rt.readOnly {
		rt.fail(faultError(CodeExecutionFault, "%s is not allowed while projecting views", op))
	}
}

// Tick spends n units of goodwill.
func (rt *Runtime) Tick(n int64) {
	if err := rt.doc.goodwill.Debit(n); err != nil {
		panic(err)
	}
}

// Get returns a field's current value, or null for unknown fields.
func (rt *Runtime) Get(field string) ir.IRValue {
	v, ok := rt.doc.graph.Get(field)
	if !ok {
		return ir.IRNull{}
	}
	return ir.Clone(v)
}

// Int reads an int field.
func (rt *Runtime) Int(field string) int64 {
	v, _ := rt.Get(field).(ir.IRInt)
	return int64(v)
}

// Str reads a string field.
func (rt *Runtime) Str(field string) string {
	v, _ := rt.Get(field).(ir.IRString)
	return string(v)
}

// Bool reads a bool field.
func (rt *Runtime) Bool(field string) bool {
	v, _ := rt.Get(field).(ir.IRBool)
	return bool(v)
}

// Object reads an object field. The result is a copy.
func (rt *Runtime) Object(field string) ir.IRObject {
	v, _ := rt.Get(field).(ir.IRObject)
	if v == nil {
		return ir.IRObject{}
	}
	return v
}

// Set writes a stored user field. Values must conform to the declared type.
// Null object members are dropped.
func (rt *Runtime) Set(field string, v ir.IRValue) {
	rt.writable("set")
	v = ir.DropNulls(v)
	spec, ok := rt.doc.factory.schema.Field(field)
	if !ok || !spec.Stored() || strings.HasPrefix(field, "__") {
		rt.fail(faultError(CodeInvalidField, "field %q is not writable", field))
	}
	if !ir.Conforms(spec.Type, v) {
		rt.fail(faultError(CodeTypeMismatch, "field %q expects %s, got %s", field, spec.Type, ir.KindOf(v)))
	}
	rt.Tick(1)
	_ = rt.doc.graph.Set(field, v)
}

// SetInt writes an int field.
func (rt *Runtime) SetInt(field string, n int64) {
	rt.Set(field, ir.IRInt(n))
}

// SetStr writes a string field.
func (rt *Runtime) SetStr(field, s string) {
	rt.Set(field, ir.IRString(s))
}

// SetBool writes a bool field.
func (rt *Runtime) SetBool(field string, b bool) {
	rt.Set(field, ir.IRBool(b))
}

// Add increments an int field and returns the new value.
func (rt *Runtime) Add(field string, delta int64) int64 {
	n := rt.Int(field) + delta
	rt.SetInt(field, n)
	return n
}

// Abort fails the transaction. Everything it did is reverted.
func (rt *Runtime) Abort(format string, args ...any) {
	rt.fail(faultError(CodeAbort, format, args...))
}

// Transition schedules label to run as soon as the current step ends.
func (rt *Runtime) Transition(label string) {
	rt.TransitionIn(label, 0)
}

// TransitionIn schedules label to run delay milliseconds from now. It is
// ignored once the current step has preempted.
func (rt *Runtime) TransitionIn(label string, delay int64) {
	rt.writable("transition")
	if rt.preempted {
		return
	}
	rt.checkLabel(label)
	if delay < 0 {
		delay = 0
	}
	rt.doc.setSys(fieldState, ir.IRString(label))
	rt.doc.setSys(fieldNextTime, ir.IRInt(rt.Now()+delay))
}

// Preempt forces label to be the next state, overriding any transition
// made before or after it in the same step.
func (rt *Runtime) Preempt(label string) {
	rt.writable("preempt")
	rt.checkLabel(label)
	rt.preempted = true
	rt.doc.setSys(fieldState, ir.IRString(label))
	rt.doc.setSys(fieldNextTime, ir.IRInt(rt.Now()))
}

func (rt *Runtime) checkLabel(label string) {
	if !rt.doc.factory.labels[label] {
		rt.fail(faultError(CodeUnknownLabel, "unknown state label %q", label))
	}
}

// Block suspends the current step until any message arrives. Effects made
// before the block are kept; the step re-runs from the top when woken.
func (rt *Runtime) Block() {
	rt.requireStep("block")
	panic(blockSignal{})
}

// Await returns the oldest unconsumed message on channel, or blocks the
// current step until one arrives.
func (rt *Runtime) Await(channel string) ir.IRValue {
	return rt.await(channel, nil)
}

// AwaitFrom is Await restricted to messages sent by who.
func (rt *Runtime) AwaitFrom(channel string, who ir.Client) ir.IRValue {
	return rt.await(channel, &who)
}

func (rt *Runtime) await(channel string, from *ir.Client) ir.IRValue {
	rt.requireStep("await")
	ch, ok := rt.doc.factory.schema.Channel(channel)
	if !ok || ch.Direct {
		rt.fail(faultError(CodeUnknownChannel, "channel %q cannot be awaited", channel))
	}
	rt.Tick(1)
	rt.doc.incSys(fieldAutoFutureID)
	for _, m := range rt.doc.Messages() {
		if !m.Active || m.Channel != channel || rt.taken[m.ID] {
			continue
		}
		if from != nil && m.Who != *from {
			continue
		}
		if rt.taken == nil {
			rt.taken = make(map[int64]bool)
		}
		rt.taken[m.ID] = true
		rt.consumed = append(rt.consumed, m.ID)
		return ir.Clone(m.Value)
	}
	panic(blockSignal{channel: channel})
}

func (rt *Runtime) requireStep(op string) {
	if rt.label == "" {
		rt.fail(faultError(CodeExecutionFault, "%s outside a state machine step", op))
	}
}

// Who returns the client that issued the current command.
func (rt *Runtime) Who() ir.Client {
	return rt.tx.who
}

// Key returns the document key.
func (rt *Runtime) Key() ir.Key {
	return rt.doc.key
}

// Seq returns the seq of the last committed transaction.
func (rt *Runtime) Seq() int64 {
	return rt.doc.sysInt(fieldSeq)
}

// Now returns the command's timestamp in milliseconds. Document logic never
// reads the wall clock.
func (rt *Runtime) Now() int64 {
	return rt.tx.timestamp
}

// Label returns the running state label, or "" outside a step.
func (rt *Runtime) Label() string {
	return rt.label
}

// Connected lists connected clients in connection order.
func (rt *Runtime) Connected() []ir.Client {
	return rt.doc.clients()
}

// IsConnected reports whether who is connected.
func (rt *Runtime) IsConnected(who ir.Client) bool {
	_, ok := rt.doc.connectionOf(who)
	return ok
}

// NextRowID hands out a document-unique row id.
func (rt *Runtime) NextRowID() int64 {
	rt.writable("next row id")
	return rt.doc.incSys(fieldAutoTableRowID)
}

// Random returns a deterministic pseudo-random int in [0, n). The generator
// is seeded from the document's entropy, and the entropy advances when the
// transaction commits, so replays draw the same values.
func (rt *Runtime) Random(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if rt.rng == nil {
		seed := entropySeed(rt.doc.sysStr(fieldEntropy))
		rt.rng = rand.New(rand.NewPCG(seed, uint64(rt.doc.sysInt(fieldSeq)+1)))
	}
	rt.Tick(1)
	return rt.rng.Int64N(n)
}

func entropySeed(s string) uint64 {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// saveEntropy stores the next seed if the generator was used.
func (rt *Runtime) saveEntropy() {
	if rt.rng == nil || rt.readOnly {
		return
	}
	rt.doc.setSys(fieldEntropy, ir.IRString(strconv.FormatUint(rt.rng.Uint64(), 10)))
	rt.rng = nil
}

// Destroy deletes the document once the transaction commits.
func (rt *Runtime) Destroy() {
	rt.writable("destroy")
	rt.tx.destroy = true
}

// Rewind schedules the document to be rolled back to seq after the current
// transaction commits.
func (rt *Runtime) Rewind(seq int64) {
	rt.writable("rewind")
	rt.tx.rewindTo = &seq
}
