package engine

import (
	"fmt"

	"github.com/roach88/livedoc/internal/ir"
)

// Program is the compiled logic of a document type.
//
// The engine only ever calls through this interface. Every method runs
// inside a transaction against the supplied Runtime; anything the method
// does through the Runtime is committed or reverted as a unit.
//
// Methods returning bool report whether the program handles the request.
// Route returning false means the channel has no direct handler; Step
// returning false means the label does not exist.
type Program interface {
	Construct(rt *Runtime, who ir.Client, arg ir.IRObject)
	Connected(rt *Runtime, who ir.Client) bool
	Disconnected(rt *Runtime, who ir.Client)
	CanAttach(rt *Runtime, who ir.Client) bool
	Attached(rt *Runtime, who ir.Client, asset ir.Asset)
	Route(rt *Runtime, channel string, who ir.Client, msg ir.IRValue) bool
	Step(rt *Runtime, label string) bool
	Policy(rt *Runtime, policy string, who ir.Client) bool
	Formula(rt *Runtime, field string) ir.IRValue
	Bubble(rt *Runtime, field string, who ir.Client, viewerState ir.IRObject) ir.IRValue
	BlindSend(who ir.Client) bool
}

// Handlers is a Program assembled from functions. Nil handlers fall back
// to the defaults documented on each field.
type Handlers struct {
	// OnConstruct runs once. Default: no-op.
	OnConstruct func(rt *Runtime, who ir.Client, arg ir.IRObject)
	// OnConnected admits a client. Default: refuse.
	OnConnected func(rt *Runtime, who ir.Client) bool
	// OnDisconnected runs after a client leaves. Default: no-op.
	OnDisconnected func(rt *Runtime, who ir.Client)
	// OnCanAttach grants uploads. Default: refuse.
	OnCanAttach func(rt *Runtime, who ir.Client) bool
	// OnAttached receives an asset. Default: no-op.
	OnAttached func(rt *Runtime, who ir.Client, asset ir.Asset)
	// OnBlindSend admits disconnected senders when the schema enables blind
	// send. Default: admit.
	OnBlindSend func(who ir.Client) bool

	Channels map[string]func(rt *Runtime, who ir.Client, msg ir.IRValue)
	Labels   map[string]func(rt *Runtime)
	Policies map[string]func(rt *Runtime, who ir.Client) bool
	Formulas map[string]func(rt *Runtime) ir.IRValue
	Bubbles  map[string]func(rt *Runtime, who ir.Client, viewerState ir.IRObject) ir.IRValue
}

var _ Program = (*Handlers)(nil)

func (h *Handlers) Construct(rt *Runtime, who ir.Client, arg ir.IRObject) {
	if h.OnConstruct != nil {
		h.OnConstruct(rt, who, arg)
	}
}

func (h *Handlers) Connected(rt *Runtime, who ir.Client) bool {
	return h.OnConnected != nil && h.OnConnected(rt, who)
}

func (h *Handlers) Disconnected(rt *Runtime, who ir.Client) {
	if h.OnDisconnected != nil {
		h.OnDisconnected(rt, who)
	}
}

func (h *Handlers) CanAttach(rt *Runtime, who ir.Client) bool {
	return h.OnCanAttach != nil && h.OnCanAttach(rt, who)
}

func (h *Handlers) Attached(rt *Runtime, who ir.Client, asset ir.Asset) {
	if h.OnAttached != nil {
		h.OnAttached(rt, who, asset)
	}
}

func (h *Handlers) Route(rt *Runtime, channel string, who ir.Client, msg ir.IRValue) bool {
	fn, ok := h.Channels[channel]
	if !ok {
		return false
	}
	fn(rt, who, msg)
	return true
}

func (h *Handlers) Step(rt *Runtime, label string) bool {
	fn, ok := h.Labels[label]
	if !ok {
		return false
	}
	fn(rt)
	return true
}

// Policy evaluates a named policy. Unknown policies refuse.
func (h *Handlers) Policy(rt *Runtime, policy string, who ir.Client) bool {
	fn, ok := h.Policies[policy]
	return ok && fn(rt, who)
}

// Formula evaluates a formula field. Unknown formulas are null.
func (h *Handlers) Formula(rt *Runtime, field string) ir.IRValue {
	if fn, ok := h.Formulas[field]; ok {
		return fn(rt)
	}
	return ir.IRNull{}
}

// Bubble evaluates a per-viewer field. Unknown bubbles are null.
func (h *Handlers) Bubble(rt *Runtime, field string, who ir.Client, viewerState ir.IRObject) ir.IRValue {
	if fn, ok := h.Bubbles[field]; ok {
		return fn(rt, who, viewerState)
	}
	return ir.IRNull{}
}

func (h *Handlers) BlindSend(who ir.Client) bool {
	return h.OnBlindSend == nil || h.OnBlindSend(who)
}

// Factory pairs a validated schema with its program. It is immutable and
// shared by every document of its type.
type Factory struct {
	schema  *ir.SchemaSpec
	program Program
	hash    string
	labels  map[string]bool
}

// NewFactory validates the schema and binds it to a program.
func NewFactory(schema *ir.SchemaSpec, program Program) (*Factory, error) {
	if schema == nil || program == nil {
		return nil, fmt.Errorf("factory requires a schema and a program")
	}
	if errs := schema.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid schema %q: %w", schema.Name, errs[0])
	}
	hash, err := ir.SchemaHash(schema)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]bool, len(schema.Labels))
	for _, l := range schema.Labels {
		labels[l] = true
	}
	return &Factory{schema: schema, program: program, hash: hash, labels: labels}, nil
}

// MustFactory is NewFactory that panics on error. For fixtures and demos.
func MustFactory(schema *ir.SchemaSpec, program Program) *Factory {
	f, err := NewFactory(schema, program)
	if err != nil {
		panic(err)
	}
	return f
}

// Schema returns the compiled schema.
func (f *Factory) Schema() *ir.SchemaSpec {
	return f.schema
}

// Hash returns the schema hash.
func (f *Factory) Hash() string {
	return f.hash
}

// FactoryResolver finds factories by schema name for deploy envelopes.
type FactoryResolver interface {
	Resolve(name string) (*Factory, error)
}

// FactoryMap is a FactoryResolver over a fixed map.
type FactoryMap map[string]*Factory

// Resolve implements FactoryResolver.
func (m FactoryMap) Resolve(name string) (*Factory, error) {
	f, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return f, nil
}
