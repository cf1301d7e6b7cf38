package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/livedoc/internal/delta"
	"github.com/roach88/livedoc/internal/ir"
	"github.com/roach88/livedoc/internal/reactive"
	"github.com/roach88/livedoc/internal/store"
)

// DefaultHistoryLimit is how many committed changes a document keeps in
// memory for rewind.
const DefaultHistoryLimit = 1024

// Document is one live document instance.
//
// A Document is not safe for concurrent use. Exactly one goroutine (the
// document's executor, see Service) may call its methods. A second call
// arriving while a transaction is running is refused with
// CodeConcurrentTxn rather than interleaved.
type Document struct {
	key     ir.Key
	factory *Factory
	graph   *reactive.Graph
	views   delta.Registry

	data     store.DataService
	clock    TimeSource
	ids      IDGenerator
	monitor  DocumentMonitor
	resolver FactoryResolver
	encoder  delta.AssetIDEncoder
	goodwill *GoodwillGuard

	messageCeiling int
	historyLimit   int
	history        []ir.Change

	busy      bool
	destroyed bool
}

// Option configures a Document.
type Option func(*Document)

// WithDataService persists commits through ds. Without one the document is
// purely in memory.
func WithDataService(ds store.DataService) Option {
	return func(d *Document) {
		d.data = ds
	}
}

// WithTimeSource sets the clock used when the engine forges envelopes.
func WithTimeSource(ts TimeSource) Option {
	return func(d *Document) {
		d.clock = ts
	}
}

// WithIDGenerator sets the generator for private view ids.
func WithIDGenerator(gen IDGenerator) Option {
	return func(d *Document) {
		d.ids = gen
	}
}

// WithMonitor installs a transaction monitor.
func WithMonitor(m DocumentMonitor) Option {
	return func(d *Document) {
		d.monitor = m
	}
}

// WithGoodwill overrides the goodwill ceiling and invalidate allowance.
func WithGoodwill(ceiling, allowance int64) Option {
	return func(d *Document) {
		d.goodwill = NewGoodwillGuard(ceiling, allowance)
	}
}

// WithMessageCeiling caps how many active messages may be queued.
func WithMessageCeiling(n int) Option {
	return func(d *Document) {
		if n > 0 {
			d.messageCeiling = n
		}
	}
}

// WithHistoryLimit bounds the in-memory change history. Zero disables it,
// leaving rewind to the data service.
func WithHistoryLimit(n int) Option {
	return func(d *Document) {
		if n >= 0 {
			d.historyLimit = n
		}
	}
}

// WithFactoryResolver resolves schema names in deploy envelopes.
func WithFactoryResolver(r FactoryResolver) Option {
	return func(d *Document) {
		d.resolver = r
	}
}

// WithAssetEncoder sets how asset ids are rewritten for viewers.
func WithAssetEncoder(enc delta.AssetIDEncoder) Option {
	return func(d *Document) {
		d.encoder = enc
	}
}

// New creates a blank, unconstructed document. Use Fresh or Load for a
// document backed by persistence; New alone is how mirrors start.
func New(factory *Factory, key ir.Key, opts ...Option) *Document {
	d := &Document{
		key:            key,
		factory:        factory,
		graph:          buildGraph(factory.schema, 0),
		clock:          SystemTime{},
		ids:            UUIDv7Generator{},
		monitor:        nopMonitor{},
		encoder:        delta.HashEncoder{Salt: key.String()},
		goodwill:       NewGoodwillGuard(DefaultGoodwillCeiling, DefaultGoodwillAllowance),
		messageCeiling: DefaultMessageCeiling,
		historyLimit:   DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fresh creates and constructs a document, persisting its first change
// through the data service. entropy seeds the document's random source.
func Fresh(ctx context.Context, factory *Factory, key ir.Key, who ir.Client, arg ir.IRObject, entropy string, opts ...Option) (*Document, *Result, error) {
	d := New(factory, key, opts...)
	res, err := d.TransactObject(ctx, constructEnvelope(who, arg, d.clock.Now(), entropy))
	if err != nil {
		return nil, nil, err
	}
	return d, res, nil
}

func constructEnvelope(who ir.Client, arg ir.IRObject, timestamp int64, entropy string) ir.IRObject {
	env := ir.IRObject{
		"command":   ir.IRString("construct"),
		"who":       who.Object(),
		"timestamp": ir.IRInt(timestamp),
		"arg":       arg,
	}
	if entropy != "" {
		env["entropy"] = ir.IRString(entropy)
	}
	return env
}

// Load hydrates a document from the data service.
func Load(ctx context.Context, factory *Factory, key ir.Key, opts ...Option) (*Document, error) {
	d := New(factory, key, opts...)
	if d.data == nil {
		return nil, errors.New("load requires a data service")
	}
	got, err := d.data.Get(ctx, key)
	if err != nil {
		return nil, storageError("get", err)
	}
	d.Insert(got.Patch)
	return d, nil
}

// Insert merges a patch into the document outside any transaction. Mirrors
// replay forward patches this way. Keys the document does not know are
// dropped; the returned slice names them.
func (d *Document) Insert(patch ir.IRObject) []string {
	return d.graph.Insert(patch)
}

// Key returns the document key.
func (d *Document) Key() ir.Key {
	return d.key
}

// Factory returns the document's current factory.
func (d *Document) Factory() *Factory {
	return d.factory
}

// Seq returns the seq of the last committed transaction.
func (d *Document) Seq() int64 {
	return d.sysInt(fieldSeq)
}

// Constructed reports whether construct has committed.
func (d *Document) Constructed() bool {
	return d.sysBool(fieldConstructed)
}

// Destroyed reports whether the document has been deleted.
func (d *Document) Destroyed() bool {
	return d.destroyed
}

// State returns the pending state label and whether the machine is blocked.
func (d *Document) State() (label string, blocked bool) {
	return d.sysStr(fieldState), d.sysBool(fieldBlocked)
}

// Clients lists connected clients in connection order.
func (d *Document) Clients() []ir.Client {
	return d.clients()
}

// Goodwill exposes the document's budget.
func (d *Document) Goodwill() *GoodwillGuard {
	return d.goodwill
}

// History returns the in-memory change history, oldest first.
func (d *Document) History() []ir.Change {
	return append([]ir.Change(nil), d.history...)
}

// Views returns the live private views in creation order.
func (d *Document) Views() []*delta.PrivateView {
	return d.views.Live()
}

// PendingFuture is an await the state machine is suspended on.
type PendingFuture struct {
	ID      int64
	Channel string
	Label   string
}

// PendingFutures lists the futures the state machine is blocked on. A
// document that is not blocked has none.
func (d *Document) PendingFutures() []PendingFuture {
	label, blocked := d.State()
	if !blocked {
		return nil
	}
	return []PendingFuture{{ID: d.sysInt(fieldAutoFutureID), Channel: d.sysStr(fieldBlockedOn), Label: label}}
}

// Snapshot returns the full persisted document.
func (d *Document) Snapshot() ir.IRObject {
	return d.graph.Snapshot()
}

// Field returns a field's current value, formulas included.
func (d *Document) Field(name string) (ir.IRValue, bool) {
	v, ok := d.graph.Get(name)
	if !ok {
		return nil, false
	}
	return ir.Clone(v), true
}

// JSON returns the canonical snapshot with empty system fields omitted.
func (d *Document) JSON() string {
	snap := d.graph.Snapshot()
	for _, f := range systemFields {
		if isEmptyValue(snap[f.name]) {
			delete(snap, f.name)
		}
	}
	return ir.Canonical(snap)
}

// Hash returns the snapshot hash.
func (d *Document) Hash() (string, error) {
	return ir.SnapshotHash(d.graph.Snapshot())
}

// RequiresInvalidateMilliseconds reports how long until a scheduled
// transition is due, measured from the last transaction's time. It is -1
// when nothing is scheduled.
func (d *Document) RequiresInvalidateMilliseconds() int64 {
	label, blocked := d.State()
	if label == "" || blocked {
		return -1
	}
	return max(d.sysInt(fieldNextTime)-d.sysInt(fieldTime), 0)
}

// GarbageCollectPrivateViewsFor removes who's dead views and returns how
// many live views that client still holds.
func (d *Document) GarbageCollectPrivateViewsFor(who ir.Client) int {
	return d.views.Collect(who)
}

func (d *Document) String() string {
	return fmt.Sprintf("document %s (%s, seq %d)", d.key, d.factory.schema.Name, d.Seq())
}
