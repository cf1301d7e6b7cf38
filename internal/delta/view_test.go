package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedoc/internal/ir"
	"github.com/roach88/livedoc/internal/testutil"
)

var (
	alice = ir.Client{Agent: "alice", Authority: "test"}
	bob   = ir.Client{Agent: "bob", Authority: "test"}
)

// fakeSource serves a fixed field list. The "owner" policy admits only
// alice; the "hello" bubble greets the viewer.
type fakeSource struct {
	fields      []FieldInfo
	bubbleCalls int
}

func (s *fakeSource) Fields() []FieldInfo { return s.fields }

func (s *fakeSource) Visible(f FieldInfo, who ir.Client) bool {
	return who == alice
}

func (s *fakeSource) Bubble(f FieldInfo, who ir.Client, state ir.IRObject) ir.IRValue {
	s.bubbleCalls++
	greeting := "hi " + who.Agent
	if suffix := state.Str("suffix"); suffix != "" {
		greeting += suffix
	}
	return ir.IRString(greeting)
}

func (s *fakeSource) set(name string, gen int64, v ir.IRValue) {
	for i := range s.fields {
		if s.fields[i].Name == name {
			s.fields[i].Generation = gen
			s.fields[i].Value = v
		}
	}
}

func newSource() *fakeSource {
	return &fakeSource{fields: []FieldInfo{
		{Name: "x", Type: ir.TypeInt, Privacy: ir.PrivacyPublic, Generation: 1, Value: ir.IRInt(42)},
		{Name: "secret", Type: ir.TypeString, Privacy: ir.PrivacyPolicy, Generation: 2, Value: ir.IRString("s")},
		{Name: "hidden", Type: ir.TypeInt, Privacy: ir.PrivacyPrivate, Generation: 3, Value: ir.IRInt(7)},
	}}
}

func deliver(t *testing.T, v *PrivateView, src Source, seq int64) string {
	t.Helper()
	u := v.Plan(src, seq)
	u.Deliver()
	return u.Payload
}

func TestPrivateView_FirstUpdateSendsVisibleTree(t *testing.T) {
	src := newSource()
	p := testutil.NewArrayPerspective()
	v := NewPrivateView("v1", alice, p, nil, nil)

	assert.Equal(t, `{"data":{"secret":"s","x":42},"seq":1}`, deliver(t, v, src, 1))
	assert.Equal(t, 1, p.Len())
}

func TestPrivateView_PolicyHidesFromOthers(t *testing.T) {
	src := newSource()
	v := NewPrivateView("v1", bob, testutil.NewArrayPerspective(), nil, nil)

	assert.Equal(t, `{"data":{"x":42},"seq":1}`, deliver(t, v, src, 1))
}

func TestPrivateView_UnchangedFieldsOmitted(t *testing.T) {
	src := newSource()
	v := NewPrivateView("v1", alice, testutil.NewArrayPerspective(), nil, nil)
	deliver(t, v, src, 1)

	assert.Equal(t, `{"seq":2}`, deliver(t, v, src, 2))

	src.set("x", 10, ir.IRInt(142))
	assert.Equal(t, `{"data":{"x":142},"seq":3}`, deliver(t, v, src, 3))
}

func TestPrivateView_HiddenFieldEmitsNull(t *testing.T) {
	src := newSource()
	v := NewPrivateView("v1", alice, testutil.NewArrayPerspective(), nil, nil)
	deliver(t, v, src, 1)

	// Alice loses access: re-planning as bob's identity is equivalent.
	v.Who = bob
	assert.Equal(t, `{"data":{"secret":null},"seq":2}`, deliver(t, v, src, 2))
	assert.Equal(t, `{"seq":3}`, deliver(t, v, src, 3))
}

func TestPrivateView_PlanDoesNotMutateUntilDeliver(t *testing.T) {
	src := newSource()
	p := testutil.NewArrayPerspective()
	v := NewPrivateView("v1", alice, p, nil, nil)

	planned := v.Plan(src, 1)
	assert.Equal(t, int64(0), v.Stamp("x"))
	assert.Equal(t, 0, p.Len())

	again := v.Plan(src, 1)
	assert.Equal(t, planned.Payload, again.Payload)

	again.Deliver()
	assert.Equal(t, int64(1), v.Stamp("x"))
	assert.Equal(t, int64(1), v.Seq())
}

func TestPrivateView_StaleUpdateDropped(t *testing.T) {
	src := newSource()
	p := testutil.NewArrayPerspective()
	v := NewPrivateView("v1", alice, p, nil, nil)

	old := v.Plan(src, 1)
	deliver(t, v, src, 2)
	old.Deliver()

	assert.Equal(t, int64(2), v.Seq())
	assert.Equal(t, 1, p.Len())
}

func TestPrivateView_BubbleRecomputedPerViewer(t *testing.T) {
	src := newSource()
	src.fields = append(src.fields, FieldInfo{Name: "hello", Type: ir.TypeString, Privacy: ir.PrivacyBubble})
	a := NewPrivateView("a", alice, testutil.NewArrayPerspective(), nil, nil)
	b := NewPrivateView("b", bob, testutil.NewArrayPerspective(), nil, nil)

	assert.Contains(t, deliver(t, a, src, 1), `"hello":"hi alice"`)
	assert.Contains(t, deliver(t, b, src, 1), `"hello":"hi bob"`)
	assert.Equal(t, `{"seq":2}`, deliver(t, a, src, 2))

	a.SetViewerState(ir.IRObject{"suffix": ir.IRString("!")})
	assert.Equal(t, `{"data":{"hello":"hi alice!"},"seq":3}`, deliver(t, a, src, 3))
	assert.Equal(t, 4, src.bubbleCalls)
}

func TestPrivateView_AssetIDsEncoded(t *testing.T) {
	src := &fakeSource{fields: []FieldInfo{
		{Name: "pic", Type: ir.TypeAsset, Privacy: ir.PrivacyPublic, Generation: 1, Value: ir.Asset{ID: "raw-42", Name: "cat.png"}.Object()},
	}}
	v := NewPrivateView("v1", alice, testutil.NewArrayPerspective(), nil, HashEncoder{Salt: "s"})

	payload := deliver(t, v, src, 1)

	assert.NotContains(t, payload, "raw-42")
	assert.Contains(t, payload, ir.AssetToken("s", "raw-42"))
	assert.Contains(t, payload, "cat.png")
}

func TestPrivateView_DisconnectNotifiesOnce(t *testing.T) {
	p := testutil.NewArrayPerspective()
	v := NewPrivateView("v1", alice, p, nil, nil)

	v.Disconnect()
	v.Disconnect()

	assert.False(t, v.Alive())
	assert.True(t, p.Disconnected())

	v.Plan(newSource(), 1).Deliver()
	assert.Equal(t, 0, p.Len())
}

func TestPrivateView_ViewerStateIsCopied(t *testing.T) {
	state := ir.IRObject{"k": ir.IRInt(1)}
	v := NewPrivateView("v1", alice, testutil.NewArrayPerspective(), state, nil)

	state["k"] = ir.IRInt(2)
	got := v.ViewerState()
	got["k"] = ir.IRInt(3)

	require.Equal(t, int64(1), v.ViewerState().Int("k"))
}
