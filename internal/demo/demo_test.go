package demo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedoc/internal/engine"
	"github.com/roach88/livedoc/internal/ir"
	"github.com/roach88/livedoc/internal/store"
	"github.com/roach88/livedoc/internal/testutil"
)

var (
	alice = ir.Client{Agent: "alice", Authority: "demo"}
	bob   = ir.Client{Agent: "bob", Authority: "demo"}
)

type sample struct {
	t     *testing.T
	ctx   context.Context
	doc   *engine.Document
	clock *testutil.MockTime
}

func open(t *testing.T, name string, arg ir.IRObject) *sample {
	t.Helper()
	factories, err := Factories()
	require.NoError(t, err)

	s := &sample{t: t, ctx: context.Background(), clock: testutil.NewMockTime(1000)}
	doc, _, err := engine.Fresh(s.ctx, factories[name], ir.Key{Space: name, ID: "1"}, alice, arg, "7",
		engine.WithDataService(store.NewMemory()),
		engine.WithTimeSource(s.clock),
	)
	require.NoError(t, err)
	s.doc = doc
	return s
}

func (s *sample) connect(who ...ir.Client) {
	s.t.Helper()
	for _, c := range who {
		_, err := s.doc.Connect(s.ctx, c)
		require.NoError(s.t, err)
	}
}

func (s *sample) send(who ir.Client, channel string, msg ir.IRObject) error {
	_, err := s.doc.Send(s.ctx, who, "", channel, msg)
	return err
}

func (s *sample) field(name string) ir.IRValue {
	s.t.Helper()
	v, ok := s.doc.Field(name)
	require.True(s.t, ok, "field %s", name)
	return v
}

func TestSchemas_CompileAndBind(t *testing.T) {
	specs, err := Schemas()
	require.NoError(t, err)

	var names []string
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"counter", "lobby", "looper", "vault"}, names)

	factories, err := Bind(specs)
	require.NoError(t, err)
	assert.Len(t, factories, len(Programs))
}

func TestBind_MissingProgram(t *testing.T) {
	_, err := Bind([]*ir.SchemaSpec{{Name: "ghost"}})

	assert.ErrorContains(t, err, `no program for schema "ghost"`)
}

func TestSource(t *testing.T) {
	src, err := Source("counter")
	require.NoError(t, err)
	assert.Contains(t, string(src), "document: counter:")

	_, err = Source("ghost")
	assert.Error(t, err)
}

func TestCounter(t *testing.T) {
	s := open(t, "counter", ir.IRObject{"start": ir.IRInt(5), "secret": ir.IRString("shh")})
	s.connect(alice, bob)

	require.NoError(t, s.send(bob, "bump", ir.IRObject{"by": ir.IRInt(2)}))
	assert.Equal(t, ir.IRInt(7), s.field("count"))
	assert.Equal(t, ir.IRInt(14), s.field("doubled"))
	assert.Equal(t, ir.IRInt(0), s.field("peek"))

	require.NoError(t, s.send(alice, "bump", ir.IRObject{"by": ir.IRInt(1)}))
	assert.Equal(t, ir.IRInt(8), s.field("peek"))

	err := s.send(bob, "reset", ir.IRObject{"by": ir.IRInt(0)})
	assert.Equal(t, engine.CodeAbort, engine.ErrorCode(err))
	err = s.send(bob, "bump", ir.IRObject{"by": ir.IRInt(-1)})
	assert.Equal(t, engine.CodeAbort, engine.ErrorCode(err))
	assert.Equal(t, ir.IRInt(8), s.field("count"))

	require.NoError(t, s.send(alice, "reset", ir.IRObject{"by": ir.IRInt(100)}))
	assert.Equal(t, ir.IRInt(100), s.field("count"))
}

func TestCounter_Views(t *testing.T) {
	s := open(t, "counter", ir.IRObject{"secret": ir.IRString("shh")})
	s.connect(alice, bob)

	mine := testutil.NewArrayPerspective()
	theirs := testutil.NewArrayPerspective()
	_, err := s.doc.CreatePrivateView(s.ctx, alice, mine, nil)
	require.NoError(t, err)
	_, err = s.doc.CreatePrivateView(s.ctx, bob, theirs, ir.IRObject{"nick": ir.IRString("bobby")})
	require.NoError(t, err)

	for _, p := range []*testutil.ArrayPerspective{mine, theirs} {
		assert.NotContains(t, p.Datas()[0], "secret")
	}
	assert.Contains(t, mine.Datas()[0], `"peek":0`)
	assert.Contains(t, mine.Datas()[0], `"you":"alice"`)
	assert.NotContains(t, theirs.Datas()[0], "peek")
	assert.Contains(t, theirs.Datas()[0], `"you":"bobby"`)
}

func TestLobby(t *testing.T) {
	s := open(t, "lobby", ir.IRObject{})
	s.connect(alice, bob)

	label, blocked := s.doc.State()
	assert.Equal(t, "gather", label)
	assert.True(t, blocked)

	require.NoError(t, s.send(alice, "join", ir.IRObject{"name": ir.IRString("alice")}))
	require.NoError(t, s.send(bob, "join", ir.IRObject{"name": ir.IRString("bob")}))
	assert.Equal(t, ir.IRArray{ir.IRString("alice"), ir.IRString("bob")}, s.field("players"))

	// Picks queue ahead of the state machine; all three rounds drain at once.
	picks := []int64{1, 1, 2, 3, 4, 5}
	for i, n := range picks {
		who := alice
		if i%2 == 1 {
			who = bob
		}
		require.NoError(t, s.send(who, "pick", ir.IRObject{"n": ir.IRInt(n)}))
	}

	assert.Equal(t, ir.IRInt(3), s.field("round"))
	assert.Equal(t, ir.IRString("1:1+1;2:2+3;3:4+5;"), s.field("log"))
	assert.Equal(t, ir.IRString("bob"), s.field("winner"))
	label, _ = s.doc.State()
	assert.Equal(t, "", label)
}

func TestLooper_Ticks(t *testing.T) {
	s := open(t, "looper", ir.IRObject{"limit": ir.IRInt(2)})
	assert.Equal(t, int64(TickInterval), s.doc.RequiresInvalidateMilliseconds())

	for range 2 {
		s.clock.Advance(TickInterval)
		_, err := s.doc.Invalidate(s.ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, ir.IRInt(2), s.field("ticks"))
	assert.Equal(t, int64(-1), s.doc.RequiresInvalidateMilliseconds())
}

func TestLooper_SpinIsFatal(t *testing.T) {
	s := open(t, "looper", ir.IRObject{})
	s.connect(alice)
	seq := s.doc.Seq()

	err := s.send(alice, "kick", ir.IRObject{"n": ir.IRInt(0)})

	assert.True(t, engine.IsFatal(err), "error: %v", err)
	assert.Equal(t, seq, s.doc.Seq())
	assert.Equal(t, ir.IRInt(0), s.field("kicks"))
}

func TestLooper_Undo(t *testing.T) {
	s := open(t, "looper", ir.IRObject{})
	s.connect(alice)
	require.NoError(t, s.send(alice, "kick", ir.IRObject{"n": ir.IRInt(1)}))
	require.NoError(t, s.send(alice, "kick", ir.IRObject{"n": ir.IRInt(1)}))
	require.Equal(t, ir.IRInt(2), s.field("kicks"))

	require.NoError(t, s.send(alice, "undo", ir.IRObject{"to": ir.IRInt(3)}))

	assert.Equal(t, ir.IRInt(1), s.field("kicks"))
}

func TestVault(t *testing.T) {
	s := open(t, "vault", ir.IRObject{})
	s.connect(alice, bob)

	ok, err := s.doc.CanAttach(s.ctx, bob)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.doc.Attach(s.ctx, alice, ir.Asset{ID: "a1", Name: "cat.png", ContentType: "image/png", Size: 12})
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(1), s.field("count"))
	assert.Equal(t, ir.IRString("a1"), s.field("last").(ir.IRObject)["id"])

	_, err = s.doc.Attach(s.ctx, bob, ir.Asset{ID: "a2"})
	assert.Equal(t, engine.CodeAttachRejected, engine.ErrorCode(err))
}

func TestVault_BlindSend(t *testing.T) {
	s := open(t, "vault", ir.IRObject{})
	stranger := ir.Client{Agent: "anon", Authority: "web"}
	banned := ir.Client{Agent: "troll", Authority: BannedAuthority}

	require.NoError(t, s.send(stranger, "note", ir.IRObject{"text": ir.IRString("hi")}))
	err := s.send(banned, "note", ir.IRObject{"text": ir.IRString("boo")})

	assert.Equal(t, engine.CodeSendNotConnected, engine.ErrorCode(err))
	assert.Equal(t, ir.IRArray{ir.IRString("anon: hi")}, s.field("notes"))
}
