package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/livedoc/internal/compiler"
	"github.com/roach88/livedoc/internal/demo"
	"github.com/roach88/livedoc/internal/engine"
	"github.com/roach88/livedoc/internal/ir"
	"github.com/roach88/livedoc/internal/store"
	"github.com/roach88/livedoc/internal/testutil"
)

// DefaultAuthority is the authority of clients named without one.
const DefaultAuthority = "test"

// Harness is the test execution engine.
// It runs one scenario against one document with a mock clock and sequential
// view ids, so traces are reproducible.
type Harness struct {
	doc       *engine.Document
	factory   *engine.Factory
	factories engine.FactoryMap
	data      store.DataService
	clock     *testutil.MockTime
	views     map[string]*testutil.ArrayPerspective
	logger    *slog.Logger
	docOpts   []engine.Option
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory data service unless
// WithDataService says otherwise.
//
// Execution flow:
// 1. Compile the scenario's schema and bind it to its demo program
// 2. Execute steps, recording one trace event each
// 3. Check each step against its expect clause
// 4. Evaluate assertions
// 5. Return result with pass/fail, trace, and errors
//
// An error return means the scenario could not run at all; failed
// expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sends step logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithDataService persists the run's document through ds instead of a
// fresh in-memory service.
func WithDataService(ds store.DataService) Option {
	return func(h *Harness) {
		if ds != nil {
			h.data = ds
		}
	}
}

// WithDocumentOptions applies extra engine options, such as goodwill or
// message ceilings, to the document under test. They apply after the
// harness defaults.
func WithDocumentOptions(opts ...engine.Option) Option {
	return func(h *Harness) {
		h.docOpts = append(h.docOpts, opts...)
	}
}

// RunContext is Run with a context and options.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	factories, err := loadFactories(scenario)
	if err != nil {
		return nil, err
	}
	factory, err := factories.Resolve(scenario.Schema)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		factory:   factory,
		factories: factories,
		data:      store.NewMemory(),
		clock:     testutil.NewMockTime(startTime(scenario)),
		views:     make(map[string]*testutil.ArrayPerspective),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, opt := range opts {
		opt(h)
	}

	key := scenario.Key
	if key == "" {
		key = "scenario"
	}
	docOpts := append([]engine.Option{
		engine.WithDataService(h.data),
		engine.WithTimeSource(h.clock),
		engine.WithIDGenerator(testutil.NewSequentialIDGenerator("view")),
		engine.WithFactoryResolver(factories),
		engine.WithMonitor(engine.LogMonitor{Logger: h.logger}),
	}, h.docOpts...)
	h.doc = engine.New(factory, ir.Key{Space: factory.Schema().Name, ID: key}, docOpts...)

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, scenario, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	result.Seq = h.doc.Seq()
	result.State = h.fields(true)
	for who, p := range h.views {
		result.Views[who] = foldView(p.Datas())
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func startTime(s *Scenario) int64 {
	if s.Start != 0 {
		return s.Start
	}
	return 1000
}

// loadFactories compiles the scenario's spec files, or falls back to the
// embedded demo schemas.
func loadFactories(s *Scenario) (engine.FactoryMap, error) {
	if len(s.Specs) == 0 {
		return demo.Factories()
	}
	var specs []*ir.SchemaSpec
	for _, path := range s.Specs {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read spec: %w", err)
		}
		compiled, err := compiler.CompileSource(path, src)
		if err != nil {
			return nil, err
		}
		specs = append(specs, compiled...)
	}
	return demo.Bind(specs)
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, s *Scenario, result *Result) error {
	switch step.kind() {
	case "advance":
		at := h.clock.Advance(step.Advance)
		result.AddEvent(TraceEvent{Step: i, Command: "advance", At: at})
		return nil
	case "view":
		return h.openView(ctx, i, step, result)
	}

	env, err := h.envelope(step, s)
	if err != nil {
		return err
	}

	before := h.fields(false)
	res, err := h.doc.TransactObject(ctx, env)
	event := TraceEvent{Step: i, Command: step.Command, Who: clientName(step.Who)}

	if err != nil {
		event.Code = engine.ErrorCode(err)
		result.AddEvent(event)
		h.logger.Info("step failed", "step", i, "command", step.Command, "code", event.Code, "error", err)
		switch {
		case step.Expect == nil || step.Expect.Code == 0:
			result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", i, step.Command, err))
		case step.Expect.Code != event.Code:
			result.AddError(fmt.Sprintf("step %d (%s): expected code %d, got %d: %v", i, step.Command, step.Expect.Code, event.Code, err))
		}
		return nil
	}

	event.Seq = res.Seq
	if !res.Destroyed {
		event.Changed = ir.MergeDiff(before, h.fields(false))
		event.State, event.Blocked = h.doc.State()
	}
	result.AddEvent(event)
	h.logger.Info("step completed", "step", i, "command", step.Command, "seq", res.Seq)

	if step.Expect == nil {
		return nil
	}
	if step.Expect.Code != 0 {
		result.AddError(fmt.Sprintf("step %d (%s): expected code %d, got success", i, step.Command, step.Expect.Code))
	}
	if step.Expect.Seq != 0 && step.Expect.Seq != res.Seq {
		result.AddError(fmt.Sprintf("step %d (%s): expected seq %d, got %d", i, step.Command, step.Expect.Seq, res.Seq))
	}
	if step.Expect.Destroyed != res.Destroyed {
		result.AddError(fmt.Sprintf("step %d (%s): expected destroyed=%t", i, step.Command, step.Expect.Destroyed))
	}
	return nil
}

func (h *Harness) openView(ctx context.Context, i int, step Step, result *Result) error {
	who, err := parseClient(step.View)
	if err != nil {
		return err
	}
	state, err := convertArgsToIRObject(step.State)
	if err != nil {
		return fmt.Errorf("view state: %w", err)
	}
	p := testutil.NewArrayPerspective()
	event := TraceEvent{Step: i, Command: "view", Who: who.String()}
	if _, err := h.doc.CreatePrivateView(ctx, who, p, state); err != nil {
		event.Code = engine.ErrorCode(err)
		result.AddEvent(event)
		result.AddError(fmt.Sprintf("step %d (view): %v", i, err))
		return nil
	}
	h.views[who.String()] = p
	event.Seq = h.doc.Seq()
	result.AddEvent(event)
	return nil
}

// envelope builds the request for a command step.
func (h *Harness) envelope(step Step, s *Scenario) (ir.IRObject, error) {
	env := ir.IRObject{
		"command":   ir.IRString(step.Command),
		"timestamp": ir.IRInt(h.clock.Now()),
	}
	if step.Who != "" {
		who, err := parseClient(step.Who)
		if err != nil {
			return nil, err
		}
		env["who"] = who.Object()
	}
	if step.Command == "construct" {
		arg, err := convertArgsToIRObject(step.Arg)
		if err != nil {
			return nil, fmt.Errorf("arg: %w", err)
		}
		env["arg"] = arg
		entropy := s.Entropy
		if entropy == "" {
			entropy = "0"
		}
		env["entropy"] = ir.IRString(entropy)
	}
	if step.Channel != "" {
		env["channel"] = ir.IRString(step.Channel)
	}
	if step.Message != nil {
		msg, err := convertToIRValue(step.Message)
		if err != nil {
			return nil, fmt.Errorf("message: %w", err)
		}
		env["message"] = msg
	}
	if step.Marker != "" {
		env["marker"] = ir.IRString(step.Marker)
	}
	if step.Patch != nil {
		patch, err := convertPatch(step.Patch)
		if err != nil {
			return nil, fmt.Errorf("patch: %w", err)
		}
		env["patch"] = patch
	}
	if step.Asset != nil {
		asset, err := convertArgsToIRObject(step.Asset)
		if err != nil {
			return nil, fmt.Errorf("asset: %w", err)
		}
		env["asset"] = asset
	}
	if step.Limit != nil {
		env["limit"] = ir.IRInt(*step.Limit)
	}
	if step.Target != "" {
		env["schema"] = ir.IRString(step.Target)
	}
	return env, nil
}

// fields reads the user fields of the document. Formulas are included only
// when asked; they are not part of the stored state the trace diffs.
func (h *Harness) fields(formulas bool) ir.IRObject {
	out := ir.IRObject{}
	for _, f := range h.doc.Factory().Schema().Fields {
		if f.Privacy == ir.PrivacyBubble || (f.Formula && !formulas) {
			continue
		}
		v, ok := h.doc.Field(f.Name)
		if !ok {
			v = f.Zero()
		}
		out[f.Name] = v
	}
	return out
}

// foldView merges every payload a perspective received into one object.
func foldView(datas []string) ir.IRObject {
	state := ir.IRObject{}
	for _, data := range datas {
		msg, err := ir.ParseObject([]byte(data))
		if err != nil {
			continue
		}
		if patch, ok := msg["data"].(ir.IRObject); ok {
			state, _ = ir.MergePatch(state, patch).(ir.IRObject)
		}
	}
	return state
}

// parseClient reads "agent" or "agent@authority".
func parseClient(s string) (ir.Client, error) {
	agent, authority, found := strings.Cut(s, "@")
	if !found {
		authority = DefaultAuthority
	}
	if agent == "" || authority == "" {
		return ir.Client{}, fmt.Errorf("invalid client %q", s)
	}
	return ir.Client{Agent: agent, Authority: authority}, nil
}

func clientName(s string) string {
	if s == "" {
		return ""
	}
	c, err := parseClient(s)
	if err != nil {
		return s
	}
	return c.String()
}

// convertArgsToIRObject converts a map[string]interface{} to ir.IRObject.
// This handles YAML-parsed values and converts them to proper IRValue types.
func convertArgsToIRObject(args map[string]interface{}) (ir.IRObject, error) {
	if args == nil {
		return ir.IRObject{}, nil
	}

	result := make(ir.IRObject)
	for key, val := range args {
		irVal, err := convertToIRValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

// convertPatch is convertArgsToIRObject for merge patches, where null
// deletes a key.
func convertPatch(args map[string]interface{}) (ir.IRObject, error) {
	result := make(ir.IRObject, len(args))
	for key, val := range args {
		if val == nil {
			result[key] = ir.IRNull{}
			continue
		}
		irVal, err := convertToIRValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

// convertToIRValue converts a YAML-parsed value to an IRValue.
// Returns an error for null values: outside patches a null has no meaning
// in a document, and scenarios should say what they mean.
func convertToIRValue(val interface{}) (ir.IRValue, error) {
	if val == nil {
		return nil, fmt.Errorf("null values are only allowed in patches")
	}

	switch v := val.(type) {
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRInt(int64(v)), nil
	case int64:
		return ir.IRInt(v), nil
	case float64:
		// YAML parses some numbers as float64
		// Check if it's actually an integer (document values have no floats)
		if v == float64(int64(v)) {
			return ir.IRInt(int64(v)), nil
		}
		return nil, fmt.Errorf("floats are forbidden in documents: %v", v)
	case bool:
		return ir.IRBool(v), nil
	case []interface{}:
		arr := make(ir.IRArray, len(v))
		for i, elem := range v {
			irElem, err := convertToIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]interface{}:
		obj, err := convertArgsToIRObject(v)
		if err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}
