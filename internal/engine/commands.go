package engine

import (
	"context"
	"fmt"

	"github.com/roach88/livedoc/internal/delta"
	"github.com/roach88/livedoc/internal/ir"
)

// Transact parses a JSON envelope and runs the command it names.
//
// Envelope shape:
//
//	{"command":"send","timestamp":"1700000000000",
//	 "who":{"agent":"a","authority":"x"},
//	 "channel":"chat","marker":"m-1","message":{"text":"hi"}}
//
// timestamp may be a decimal string or a number of milliseconds.
func (d *Document) Transact(ctx context.Context, request []byte) (*Result, error) {
	env, err := parseEnvelope(request)
	if err != nil {
		return nil, d.reject("", err)
	}
	return d.dispatch(ctx, env)
}

// TransactObject is Transact for an already-parsed envelope.
func (d *Document) TransactObject(ctx context.Context, request ir.IRObject) (*Result, error) {
	env, err := envelopeFrom(request)
	if err != nil {
		return nil, d.reject("", err)
	}
	return d.dispatch(ctx, env)
}

func (d *Document) reject(command string, err error) error {
	d.monitor.Fault(d.key, command, err)
	return err
}

func (d *Document) dispatch(ctx context.Context, env *envelope) (*Result, error) {
	handler, ok := commands[env.command]
	if !ok {
		return nil, d.reject(env.command, validationError(CodeUnknownCommand, "unknown command %q", env.command))
	}
	if err := d.ready(env.command); err != nil {
		return nil, d.reject(env.command, err)
	}
	res, err := handler(d, ctx, env)
	if err != nil {
		return nil, d.reject(env.command, err)
	}
	return res, nil
}

// ready refuses commands a document in its current lifecycle state cannot
// take.
func (d *Document) ready(command string) error {
	if d.destroyed {
		return policyError(CodeDestroyed, "document %s was destroyed", d.key)
	}
	if command != "construct" && !d.Constructed() {
		return policyError(CodeNotConstructed, "document %s is not constructed", d.key)
	}
	return nil
}

type commandFunc func(d *Document, ctx context.Context, env *envelope) (*Result, error)

var commands map[string]commandFunc

func init() {
	commands = map[string]commandFunc{
		"construct":  (*Document).construct,
		"connect":    (*Document).connect,
		"disconnect": (*Document).disconnect,
		"send":       (*Document).send,
		"attach":     (*Document).attach,
		"apply":      (*Document).apply,
		"expire":     (*Document).expire,
		"invalidate": (*Document).invalidate,
		"deploy":     (*Document).deployEnvelope,
	}
}

func (d *Document) construct(ctx context.Context, env *envelope) (*Result, error) {
	if err := env.requireWho(); err != nil {
		return nil, err
	}
	arg, ok := env.obj["arg"].(ir.IRObject)
	if !ok {
		return nil, validationError(CodeConstructMissingArg, "construct requires an arg object")
	}
	entropy, _ := env.str("entropy")
	tx := env.txn()
	tx.initialize = true
	return d.run(ctx, tx, func(rt *Runtime) error {
		if d.Constructed() {
			return policyError(CodeAlreadyConstructed, "document %s is already constructed", d.key)
		}
		d.goodwill.Reset()
		d.setSys(fieldConstructed, ir.IRBool(true))
		if entropy != "" {
			d.setSys(fieldEntropy, ir.IRString(entropy))
		}
		d.factory.program.Construct(rt, env.who, arg.Clone())
		return nil
	})
}

func (d *Document) connect(ctx context.Context, env *envelope) (*Result, error) {
	if err := env.requireWho(); err != nil {
		return nil, err
	}
	return d.run(ctx, env.txn(), func(rt *Runtime) error {
		if _, ok := d.connectionOf(env.who); ok {
			return policyError(CodeAlreadyConnected, "%s is already connected", env.who)
		}
		if !d.factory.program.Connected(rt, env.who) {
			return policyError(CodeConnectRejected, "%s was refused", env.who)
		}
		d.addClient(env.who)
		return nil
	})
}

func (d *Document) disconnect(ctx context.Context, env *envelope) (*Result, error) {
	if err := env.requireWho(); err != nil {
		return nil, err
	}
	tx := env.txn()
	tx.afterCommit = append(tx.afterCommit, func() { d.views.DisconnectClient(env.who) })
	return d.run(ctx, tx, func(rt *Runtime) error {
		if _, ok := d.connectionOf(env.who); !ok {
			return policyError(CodeNotConnected, "%s is not connected", env.who)
		}
		d.removeClient(env.who)
		d.factory.program.Disconnected(rt, env.who)
		return nil
	})
}

func (d *Document) send(ctx context.Context, env *envelope) (*Result, error) {
	if err := env.requireWho(); err != nil {
		return nil, err
	}
	channel, ok := env.str("channel")
	if !ok {
		return nil, validationError(CodeSendMissingChannel, "send requires a channel")
	}
	payload, ok := env.obj["message"]
	if !ok {
		return nil, validationError(CodeSendMissingMessage, "send requires a message")
	}
	marker, _ := env.str("marker")
	tx := env.txn()
	schema := d.factory.schema
	return d.run(ctx, tx, func(rt *Runtime) error {
		if _, ok := d.connectionOf(env.who); !ok {
			if !schema.Static.BlindSend || !d.factory.program.BlindSend(env.who) {
				return policyError(CodeSendNotConnected, "%s is not connected", env.who)
			}
		}
		ch, ok := schema.Channel(channel)
		if !ok {
			return validationError(CodeUnknownChannel, "unknown channel %q", channel)
		}
		if marker != "" {
			if d.markerUsed(marker) {
				return newError(KindDedup, CodeDuplicateMarker, "marker %q already used", marker)
			}
			d.recordMarker(marker, tx.timestamp)
		}
		value, err := d.coerce(ch, payload)
		if err != nil {
			return &DocumentError{Code: CodeBadMessage, Kind: KindValidation, Message: "message rejected by channel " + channel, Err: err}
		}
		if ch.Direct {
			if !d.factory.program.Route(rt, channel, env.who, value) {
				return faultError(CodeUnknownChannel, "channel %q has no handler", channel)
			}
		} else {
			msg := Message{Channel: channel, Who: env.who, Marker: marker, Timestamp: tx.timestamp, Value: value}
			if _, err := d.enqueueMessage(msg); err != nil {
				return err
			}
		}
		d.wake(channel)
		return nil
	})
}

// coerce checks a payload against the channel's message type.
func (d *Document) coerce(ch ir.ChannelSpec, payload ir.IRValue) (ir.IRValue, error) {
	spec, ok := d.factory.schema.Message(ch.Message)
	if !ok {
		return nil, fmt.Errorf("channel %s references unknown message %s", ch.Name, ch.Message)
	}
	if !ch.Array {
		return spec.Coerce(payload)
	}
	items, ok := payload.(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("channel %s expects an array of %s", ch.Name, spec.Name)
	}
	out := make(ir.IRArray, 0, len(items))
	for i, item := range items {
		msg, err := spec.Coerce(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (d *Document) attach(ctx context.Context, env *envelope) (*Result, error) {
	if err := env.requireWho(); err != nil {
		return nil, err
	}
	raw, ok := env.obj["asset"]
	if !ok {
		return nil, validationError(CodeAttachMissingAsset, "attach requires an asset")
	}
	asset, err := ir.AssetFrom(raw)
	if err != nil {
		return nil, &DocumentError{Code: CodeAttachMissingAsset, Kind: KindValidation, Message: "attach asset is invalid", Err: err}
	}
	return d.run(ctx, env.txn(), func(rt *Runtime) error {
		if _, ok := d.connectionOf(env.who); !ok {
			return policyError(CodeAttachNotConnected, "%s is not connected", env.who)
		}
		if !d.factory.program.CanAttach(rt, env.who) {
			return policyError(CodeAttachRejected, "%s may not attach", env.who)
		}
		d.factory.program.Attached(rt, env.who, asset)
		return nil
	})
}

func (d *Document) apply(ctx context.Context, env *envelope) (*Result, error) {
	if err := env.requireWho(); err != nil {
		return nil, err
	}
	patch, ok := env.obj["patch"].(ir.IRObject)
	if !ok {
		return nil, validationError(CodeApplyMissingPatch, "apply requires a patch object")
	}
	return d.run(ctx, env.txn(), func(rt *Runtime) error {
		for _, name := range patch.SortedKeys() {
			spec, ok := d.factory.schema.Field(name)
			if !ok || !spec.Stored() {
				return validationError(CodeInvalidField, "apply cannot write %q", name)
			}
			current, _ := d.graph.Get(name)
			merged := ir.MergePatch(current, patch[name])
			if ir.KindOf(merged) == ir.KindNull {
				merged = spec.Zero()
			}
			merged = ir.DropNulls(merged)
			if !ir.Conforms(spec.Type, merged) {
				return validationError(CodeTypeMismatch, "field %q expects %s", name, spec.Type)
			}
			_ = d.graph.Set(name, merged)
		}
		return nil
	})
}

func (d *Document) expire(ctx context.Context, env *envelope) (*Result, error) {
	limit, ok := env.integer("limit")
	if !ok {
		return nil, validationError(CodeExpireMissingLimit, "expire requires a limit")
	}
	if limit < 0 {
		return nil, validationError(CodeExpireNegativeLimit, "expire limit %d is negative", limit)
	}
	tx := env.txn()
	return d.run(ctx, tx, func(rt *Runtime) error {
		d.expireState(tx.timestamp - limit)
		d.setSys(fieldLastExpireTime, ir.IRInt(tx.timestamp))
		return nil
	})
}

func (d *Document) invalidate(ctx context.Context, env *envelope) (*Result, error) {
	return d.run(ctx, env.txn(), func(rt *Runtime) error {
		d.goodwill.Replenish()
		return nil
	})
}

func (d *Document) deployEnvelope(ctx context.Context, env *envelope) (*Result, error) {
	name, ok := env.str("schema")
	if !ok {
		return nil, validationError(CodeDeployMissingSchema, "deploy requires a schema")
	}
	if d.resolver == nil {
		return nil, validationError(CodeDeployMissingSchema, "no factory resolver for schema %q", name)
	}
	next, err := d.resolver.Resolve(name)
	if err != nil {
		return nil, &DocumentError{Code: CodeDeployMissingSchema, Kind: KindValidation, Message: "cannot resolve schema " + name, Err: err}
	}
	return d.deploy(ctx, env, next)
}

// deploy swaps in a new factory. Stored fields whose name and type survive
// keep their values; everything else takes the new defaults. System state
// carries over untouched.
func (d *Document) deploy(ctx context.Context, env *envelope, next *Factory) (*Result, error) {
	if d.busy {
		return nil, d.concurrent()
	}
	old, oldFactory := d.graph, d.factory
	g := buildGraph(next.schema, old.Counter())
	for _, f := range systemFields {
		v, _ := old.Get(f.name)
		_ = g.Set(f.name, v)
	}
	for _, f := range next.schema.Fields {
		prev, ok := oldFactory.schema.Field(f.Name)
		if !ok || !f.Stored() || !prev.Stored() || prev.Type != f.Type {
			continue
		}
		v, _ := old.Get(f.Name)
		_ = g.Set(f.Name, v)
	}

	tx := env.txn()
	tx.baseline = old.Snapshot()
	tx.onRevert = append(tx.onRevert, func() { d.graph, d.factory = old, oldFactory })
	d.graph, d.factory = g, next
	return d.run(ctx, tx, func(rt *Runtime) error { return nil })
}

// Connect adds who to the document.
func (d *Document) Connect(ctx context.Context, who ir.Client) (*Result, error) {
	return d.dispatch(ctx, d.forge("connect", &who))
}

// Disconnect removes who and disconnects that client's views.
func (d *Document) Disconnect(ctx context.Context, who ir.Client) (*Result, error) {
	return d.dispatch(ctx, d.forge("disconnect", &who))
}

// Send delivers a message on channel. An empty marker disables dedupe.
func (d *Document) Send(ctx context.Context, who ir.Client, marker, channel string, message ir.IRValue) (*Result, error) {
	pairs := []ir.IRPair{ir.O("channel", ir.IRString(channel)), ir.O("message", message)}
	if marker != "" {
		pairs = append(pairs, ir.O("marker", ir.IRString(marker)))
	}
	return d.dispatch(ctx, d.forge("send", &who, pairs...))
}

// Attach hands an uploaded asset to the document.
func (d *Document) Attach(ctx context.Context, who ir.Client, asset ir.Asset) (*Result, error) {
	return d.dispatch(ctx, d.forge("attach", &who, ir.O("asset", asset.Object())))
}

// Apply merges patch into user fields, bypassing document logic.
func (d *Document) Apply(ctx context.Context, who ir.Client, patch ir.IRObject) (*Result, error) {
	return d.dispatch(ctx, d.forge("apply", &who, ir.O("patch", patch)))
}

// Expire prunes markers and consumed messages older than limit ms.
func (d *Document) Expire(ctx context.Context, limit int64) (*Result, error) {
	return d.dispatch(ctx, d.forge("expire", nil, ir.O("limit", ir.IRInt(limit))))
}

// Invalidate replenishes goodwill and runs any due state label.
func (d *Document) Invalidate(ctx context.Context) (*Result, error) {
	return d.dispatch(ctx, d.forge("invalidate", nil))
}

// Deploy hot-swaps the document onto a new factory.
func (d *Document) Deploy(ctx context.Context, next *Factory) (*Result, error) {
	env := d.forge("deploy", nil, ir.O("schema", ir.IRString(next.schema.Name)))
	if err := d.ready(env.command); err != nil {
		return nil, d.reject(env.command, err)
	}
	res, err := d.deploy(ctx, env, next)
	if err != nil {
		return nil, d.reject(env.command, err)
	}
	return res, nil
}

// CanAttach asks the program whether who may upload, without changing the
// document. The probe runs in a transaction that is always reverted.
func (d *Document) CanAttach(ctx context.Context, who ir.Client) (bool, error) {
	if err := d.ready("attach"); err != nil {
		return false, err
	}
	if d.busy {
		return false, d.concurrent()
	}
	if err := d.graph.Begin(); err != nil {
		return false, faultError(CodeConcurrentTxn, "%v", err)
	}
	budget := d.goodwill.checkpoint()
	defer func() {
		d.graph.Revert()
		d.goodwill.restore(budget)
	}()

	env := d.forge("attach", &who)
	var allowed bool
	err := guard(func() error {
		if _, ok := d.connectionOf(who); !ok {
			return nil
		}
		allowed = d.factory.program.CanAttach(newRuntime(d, env.txn()), who)
		return nil
	})
	return allowed, err
}

// CreatePrivateView opens a view for a connected client. The view's first
// update carries every field visible to it; every other live view gets the
// delta of the same transaction.
func (d *Document) CreatePrivateView(ctx context.Context, who ir.Client, p delta.Perspective, viewerState ir.IRObject) (*delta.PrivateView, error) {
	env := d.forge("view", &who)
	if err := d.ready(env.command); err != nil {
		return nil, d.reject(env.command, err)
	}
	view := delta.NewPrivateView(d.ids.Generate(), who, p, viewerState, d.encoder)
	tx := env.txn()
	tx.pendingView = view
	_, err := d.run(ctx, tx, func(rt *Runtime) error {
		if _, ok := d.connectionOf(who); !ok {
			return policyError(CodeViewNotConnected, "%s is not connected", who)
		}
		return nil
	})
	if err != nil {
		return nil, d.reject(env.command, err)
	}
	return view, nil
}

// UpdateViewerState replaces a view's viewer state and invalidates, so the
// view's bubbles are recomputed.
func (d *Document) UpdateViewerState(ctx context.Context, view *delta.PrivateView, state ir.IRObject) (*Result, error) {
	env := d.forge("invalidate", nil)
	if err := d.ready(env.command); err != nil {
		return nil, d.reject(env.command, err)
	}
	if d.busy {
		return nil, d.reject(env.command, d.concurrent())
	}
	previous := view.ViewerState()
	view.SetViewerState(state)
	tx := env.txn()
	tx.onRevert = append(tx.onRevert, func() { view.SetViewerState(previous) })
	res, err := d.run(ctx, tx, func(rt *Runtime) error {
		d.goodwill.Replenish()
		return nil
	})
	if err != nil {
		return nil, d.reject(env.command, err)
	}
	return res, nil
}
