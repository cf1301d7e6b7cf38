package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livedoc/internal/ir"
	"github.com/roach88/livedoc/internal/store"
	"github.com/roach88/livedoc/internal/testutil"
)

var (
	alice = ir.Client{Agent: "alice", Authority: "test"}
	bob   = ir.Client{Agent: "bob", Authority: "test"}
	carol = ir.Client{Agent: "carol", Authority: "test"}
	eve   = ir.Client{Agent: "eve", Authority: "test"}

	testKey = ir.Key{Space: "fixture", ID: "doc-1"}
)

// fixtureSchema exercises every engine feature:
//   - x: public counter
//   - secret: private
//   - score: visible to alice only (policy "owner")
//   - total: formula x*2
//   - greeting: bubble
//   - channels: bump (direct), q (await), batch (direct array)
//
// Some bump amounts trigger behavior: 3 rolls dice, 7 and 8 schedule
// "later" (8 with a 500ms delay), 13 destroys, 21 rewinds to seq 2, 66
// panics, 88 transitions to an unknown label and 99 loops forever.
func fixtureSchema() *ir.SchemaSpec {
	return &ir.SchemaSpec{
		Name: "fixture",
		Fields: []ir.FieldSpec{
			{Name: "x", Type: ir.TypeInt, Privacy: ir.PrivacyPublic},
			{Name: "v", Type: ir.TypeInt, Privacy: ir.PrivacyPublic},
			{Name: "log", Type: ir.TypeString, Privacy: ir.PrivacyPublic},
			{Name: "secret", Type: ir.TypeString, Privacy: ir.PrivacyPrivate},
			{Name: "score", Type: ir.TypeInt, Privacy: ir.PrivacyPolicy, Policy: "owner"},
			{Name: "file", Type: ir.TypeAsset, Privacy: ir.PrivacyPublic},
			{Name: "total", Type: ir.TypeInt, Privacy: ir.PrivacyPublic, Formula: true},
			{Name: "greeting", Type: ir.TypeString, Privacy: ir.PrivacyBubble},
		},
		Messages: []ir.MessageSpec{
			{Name: "Bump", Fields: []ir.MessageField{{Name: "by", Type: ir.TypeInt}}},
		},
		Channels: []ir.ChannelSpec{
			{Name: "bump", Message: "Bump", Direct: true},
			{Name: "q", Message: "Bump"},
			{Name: "batch", Message: "Bump", Array: true, Direct: true},
		},
		Labels: []string{"loop", "pair", "foo", "zoo", "later", "wait_any", "boom", "dice"},
	}
}

func fixtureProgram() *Handlers {
	return &Handlers{
		OnConstruct: func(rt *Runtime, who ir.Client, arg ir.IRObject) {
			rt.SetInt("x", arg.Int("x"))
			rt.SetStr("secret", "s3cret")
			if label := arg.Str("start"); label != "" {
				rt.Transition(label)
			}
		},
		OnConnected: func(rt *Runtime, who ir.Client) bool {
			return who != eve
		},
		OnCanAttach: func(rt *Runtime, who ir.Client) bool {
			return who == alice
		},
		OnAttached: func(rt *Runtime, who ir.Client, asset ir.Asset) {
			rt.Set("file", asset.Object())
		},
		Channels: map[string]func(rt *Runtime, who ir.Client, msg ir.IRValue){
			"bump": func(rt *Runtime, who ir.Client, msg ir.IRValue) {
				by := msg.(ir.IRObject).Int("by")
				if by < 0 {
					rt.Abort("negative bump %d", by)
				}
				rt.Add("x", by)
				switch by {
				case 3:
					rt.Transition("dice")
				case 7:
					rt.Transition("later")
				case 8:
					rt.TransitionIn("later", 500)
				case 13:
					rt.Destroy()
				case 21:
					rt.Rewind(2)
				case 66:
					rt.Transition("boom")
				case 88:
					rt.Transition("nope")
				case 99:
					rt.Transition("loop")
				}
			},
			"batch": func(rt *Runtime, who ir.Client, msg ir.IRValue) {
				for _, item := range msg.(ir.IRArray) {
					rt.Add("x", item.(ir.IRObject).Int("by"))
				}
			},
		},
		Labels: map[string]func(rt *Runtime){
			"loop": func(rt *Runtime) {
				rt.Transition("loop")
			},
			"pair": func(rt *Runtime) {
				a := rt.Await("q").(ir.IRObject).Int("by")
				b := rt.Await("q").(ir.IRObject).Int("by")
				rt.SetInt("v", a*10+b)
			},
			"foo": func(rt *Runtime) {
				rt.SetInt("v", 2)
				rt.Preempt("zoo")
				rt.Transition("loop")
				rt.Block()
			},
			"zoo": func(rt *Runtime) {
				rt.SetInt("v", rt.Int("v")+100)
			},
			"later": func(rt *Runtime) {
				rt.SetStr("log", rt.Str("log")+"later;")
			},
			"wait_any": func(rt *Runtime) {
				if rt.Int("x") < 10 {
					rt.Block()
				}
				rt.SetStr("log", "woke")
			},
			"boom": func(rt *Runtime) {
				panic("kaboom")
			},
			"dice": func(rt *Runtime) {
				rt.SetInt("v", rt.Random(1000))
			},
		},
		Policies: map[string]func(rt *Runtime, who ir.Client) bool{
			"owner": func(rt *Runtime, who ir.Client) bool { return who == alice },
		},
		Formulas: map[string]func(rt *Runtime) ir.IRValue{
			"total": func(rt *Runtime) ir.IRValue { return ir.IRInt(rt.Int("x") * 2) },
		},
		Bubbles: map[string]func(rt *Runtime, who ir.Client, state ir.IRObject) ir.IRValue{
			"greeting": func(rt *Runtime, who ir.Client, state ir.IRObject) ir.IRValue {
				return ir.IRString("hi " + who.Agent + state.Str("suffix"))
			},
		},
	}
}

func fixtureFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(fixtureSchema(), fixtureProgram())
	require.NoError(t, err)
	return f
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	doc   *Document
	data  *store.Memory
	clock *testutil.MockTime
}

// newHarness constructs a fixture document at t=1000 with the given arg.
func newHarness(t *testing.T, arg ir.IRObject, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		data:  store.NewMemory(),
		clock: testutil.NewMockTime(1000),
	}
	all := append([]Option{
		WithDataService(h.data),
		WithTimeSource(h.clock),
		WithIDGenerator(testutil.NewSequentialIDGenerator("view")),
	}, opts...)
	doc, _, err := Fresh(h.ctx, fixtureFactory(t), testKey, alice, arg, "42", all...)
	require.NoError(t, err)
	h.doc = doc
	return h
}

func (h *harness) connect(who ...ir.Client) {
	h.t.Helper()
	for _, c := range who {
		_, err := h.doc.Connect(h.ctx, c)
		require.NoError(h.t, err)
	}
}

func (h *harness) send(who ir.Client, marker, channel string, by int64) (*Result, error) {
	return h.doc.Send(h.ctx, who, marker, channel, ir.IRObject{"by": ir.IRInt(by)})
}

func (h *harness) int(field string) int64 {
	h.t.Helper()
	v, ok := h.doc.Field(field)
	require.True(h.t, ok, "field %s", field)
	n, _ := v.(ir.IRInt)
	return int64(n)
}

func (h *harness) str(field string) string {
	h.t.Helper()
	v, ok := h.doc.Field(field)
	require.True(h.t, ok, "field %s", field)
	s, _ := v.(ir.IRString)
	return string(s)
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, ErrorCode(err), "error: %v", err)
}
