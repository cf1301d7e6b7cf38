package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedoc/internal/ir"
)

func compileOne(t *testing.T, src, name string) (*ir.SchemaSpec, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileSchema(v.LookupPath(cue.ParsePath("document." + name)))
}

func TestCompileSchemaBasic(t *testing.T) {
	spec, err := compileOne(t, `
		document: counter: {
			fields: {
				count: int
				owner: {type: "client"}
				note: "hello"
			}
			messages: Bump: {by: int}
			channels: bump: {message: "Bump", direct: true}
			labels: ["tick"]
		}
	`, "counter")
	require.NoError(t, err)

	assert.Equal(t, "counter", spec.Name)
	require.Len(t, spec.Fields, 3)
	assert.Equal(t, ir.FieldSpec{Name: "count", Type: ir.TypeInt, Privacy: ir.PrivacyPublic}, spec.Fields[0])
	assert.Equal(t, ir.TypeClient, spec.Fields[1].Type)
	assert.Equal(t, ir.IRString("hello"), spec.Fields[2].Default)
	assert.Equal(t, ir.TypeString, spec.Fields[2].Type)

	require.Len(t, spec.Messages, 1)
	assert.Equal(t, []ir.MessageField{{Name: "by", Type: ir.TypeInt}}, spec.Messages[0].Fields)
	assert.Equal(t, []ir.ChannelSpec{{Name: "bump", Message: "Bump", Direct: true}}, spec.Channels)
	assert.Equal(t, []string{"tick"}, spec.Labels)
	assert.False(t, spec.Static.BlindSend)
}

func TestCompileSchemaFieldOrderIsDeclarationOrder(t *testing.T) {
	spec, err := compileOne(t, `
		document: d: fields: {
			zeta: int
			alpha: int
			mid: string
		}
	`, "d")
	require.NoError(t, err)

	var names []string
	for _, f := range spec.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestCompileSchemaLongForm(t *testing.T) {
	spec, err := compileOne(t, `
		document: d: fields: {
			secret: {type: "string", privacy: "private", default: "x"}
			score: {type: "int", policy: "owner"}
			total: {type: "int", formula: true}
			hello: {type: "string", privacy: "bubble"}
			file: {type: "asset"}
		}
	`, "d")
	require.NoError(t, err)

	assert.Equal(t, ir.PrivacyPrivate, spec.Fields[0].Privacy)
	assert.Equal(t, ir.IRString("x"), spec.Fields[0].Default)
	assert.Equal(t, ir.PrivacyPolicy, spec.Fields[1].Privacy)
	assert.Equal(t, "owner", spec.Fields[1].Policy)
	assert.True(t, spec.Fields[2].Formula)
	assert.False(t, spec.Fields[2].Stored())
	assert.Equal(t, ir.PrivacyBubble, spec.Fields[3].Privacy)
	assert.Equal(t, ir.TypeAsset, spec.Fields[4].Type)
}

func TestCompileSchemaStructuredDefaults(t *testing.T) {
	spec, err := compileOne(t, `
		document: d: fields: {
			tags: ["a", "b"]
			meta: {type: "object", default: {n: 1, ok: true, none: null}}
		}
	`, "d")
	require.NoError(t, err)

	assert.Equal(t, ir.TypeArray, spec.Fields[0].Type)
	assert.Equal(t, ir.IRArray{ir.IRString("a"), ir.IRString("b")}, spec.Fields[0].Default)
	assert.Equal(t, ir.IRObject{"n": ir.IRInt(1), "ok": ir.IRBool(true), "none": ir.IRNull{}}, spec.Fields[1].Default)
}

func TestCompileSchemaStatic(t *testing.T) {
	spec, err := compileOne(t, `
		document: d: {
			fields: x: int
			static: blind_send: true
		}
	`, "d")
	require.NoError(t, err)
	assert.True(t, spec.Static.BlindSend)
}

func TestCompileSchemaMessageTypeNames(t *testing.T) {
	spec, err := compileOne(t, `
		document: d: {
			messages: Join: {who: "client", at: int}
		}
	`, "d")
	require.NoError(t, err)
	assert.Equal(t, []ir.MessageField{
		{Name: "who", Type: ir.TypeClient},
		{Name: "at", Type: ir.TypeInt},
	}, spec.Messages[0].Fields)
}

func TestCompileSchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "float field",
			src:  `document: d: fields: x: float`,
			want: "float",
		},
		{
			name: "float in message",
			src:  `document: d: messages: M: {v: number}`,
			want: "float",
		},
		{
			name: "float default",
			src:  `document: d: fields: x: {type: "int", default: 1.5}`,
			want: "float",
		},
		{
			name: "unknown long-form type",
			src:  `document: d: fields: x: {type: "decimal"}`,
			want: "invalid type",
		},
		{
			name: "unknown message type name",
			src:  `document: d: messages: M: {v: "decimal"}`,
			want: "invalid type",
		},
		{
			name: "channel without message",
			src:  `document: d: channels: c: {direct: true}`,
			want: "channel message type is required",
		},
		{
			name: "channel with unknown message",
			src:  `document: d: channels: c: {message: "Nope"}`,
			want: "unknown message type",
		},
		{
			name: "policy with conflicting privacy",
			src:  `document: d: fields: x: {type: "int", privacy: "public", policy: "p"}`,
			want: "policy requires privacy",
		},
		{
			name: "default mismatch",
			src:  `document: d: fields: x: {type: "int", default: "three"}`,
			want: "default is string",
		},
		{
			name: "duplicate label",
			src:  `document: d: labels: ["a", "a"]`,
			want: "duplicate label",
		},
		{
			name: "non-string label",
			src:  `document: d: labels: [1]`,
			want: "",
		},
		{
			name: "null field",
			src:  `document: d: fields: x: null`,
			want: "unsupported type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileOne(t, tt.src, "d")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileSchemaErrorPosition(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
document: d: {
	fields: x: float
}
`, cue.Filename("d.cue"))
	require.NoError(t, v.Err())

	_, err := CompileSchema(v.LookupPath(cue.ParsePath("document.d")))

	require.Error(t, err)
	compileErr, ok := err.(*CompileError)
	require.True(t, ok, "error should be *CompileError")
	assert.Contains(t, compileErr.Message, "float")
}

func TestCompileSource(t *testing.T) {
	specs, err := CompileSource("two.cue", []byte(`
		document: a: fields: x: int
		document: b: {
			fields: y: string
			messages: M: {}
			channels: c: {message: "M"}
		}
	`))
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "a", specs[0].Name)
	assert.Equal(t, "b", specs[1].Name)
	assert.Equal(t, "c", specs[1].Channels[0].Name)
}

func TestCompileSourceSyntaxError(t *testing.T) {
	_, err := CompileSource("bad.cue", []byte(`document: d: { this is not valid CUE }`))

	require.Error(t, err)
	var compileErr *CompileError
	if assert.ErrorAs(t, err, &compileErr) {
		assert.Equal(t, "bad.cue", compileErr.Pos.Filename())
	}
}

func TestCompileSourceWithoutDocuments(t *testing.T) {
	_, err := CompileSource("empty.cue", []byte(`other: 1`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no document schemas found")
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{
		Field:   "fields.x",
		Message: "invalid type",
	}

	assert.Equal(t, "fields.x: invalid type", err.Error())
}

func TestExtractTypeNameUnsupported(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`value: null`)
	require.NoError(t, v.Err())

	_, err := extractTypeName(v.LookupPath(cue.ParsePath("value")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}
