package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSchema() *SchemaSpec {
	return &SchemaSpec{
		Name: "counter",
		Fields: []FieldSpec{
			{Name: "x", Type: TypeInt, Default: IRInt(42), Privacy: PrivacyPublic},
			{Name: "secret", Type: TypeString, Privacy: PrivacyPolicy, Policy: "owner"},
		},
		Messages: []MessageSpec{{Name: "M", Fields: []MessageField{{Name: "v", Type: TypeInt}}}},
		Channels: []ChannelSpec{{Name: "foo", Message: "M", Direct: true}},
		Labels:   []string{"start"},
	}
}

func TestSchemaValidateAccepts(t *testing.T) {
	assert.Empty(t, validSchema().Validate())
}

func TestSchemaValidateCollectsAllErrors(t *testing.T) {
	s := validSchema()
	s.Fields = append(s.Fields,
		FieldSpec{Name: "x", Type: TypeInt, Privacy: PrivacyPublic},
		FieldSpec{Name: "__seq", Type: TypeInt, Privacy: PrivacyPublic},
		FieldSpec{Name: "f", Type: "float", Privacy: PrivacyPublic},
		FieldSpec{Name: "p", Type: TypeInt, Privacy: PrivacyPolicy},
		FieldSpec{Name: "d", Type: TypeInt, Default: IRString("no"), Privacy: PrivacyPublic},
	)
	s.Channels = append(s.Channels, ChannelSpec{Name: "bar", Message: "Missing"})

	errs := s.Validate()

	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "fields[2].name")
	assert.Contains(t, fields, "fields[3].name")
	assert.Contains(t, fields, "fields[4].type")
	assert.Contains(t, fields, "fields[5].policy")
	assert.Contains(t, fields, "fields[6].default")
	assert.Contains(t, fields, "channels[1].message")
}

func TestSchemaLookups(t *testing.T) {
	s := validSchema()

	f, ok := s.Field("x")
	require.True(t, ok)
	assert.Equal(t, IRInt(42), f.Zero())

	_, ok = s.Field("nope")
	assert.False(t, ok)

	c, ok := s.Channel("foo")
	require.True(t, ok)
	assert.True(t, c.Direct)

	m, ok := s.Message("M")
	require.True(t, ok)
	assert.Len(t, m.Fields, 1)
}

func TestMessageCoerce(t *testing.T) {
	m := MessageSpec{Name: "M", Fields: []MessageField{{Name: "v", Type: TypeInt}, {Name: "s", Type: TypeString}}}

	got, err := m.Coerce(IRObject{"v": IRInt(5), "extra": IRBool(true)})
	require.NoError(t, err)
	assert.Equal(t, IRObject{"v": IRInt(5), "s": IRString("")}, got)

	_, err = m.Coerce(IRObject{"v": IRString("five")})
	assert.Error(t, err)

	_, err = m.Coerce(IRArray{})
	assert.Error(t, err)
}

func TestMessageCoerceDropsNullMembers(t *testing.T) {
	m := MessageSpec{Name: "Note", Fields: []MessageField{{Name: "body", Type: TypeObject}}}

	got, err := m.Coerce(IRObject{"body": IRObject{"a": IRNull{}, "b": IRInt(1)}})

	require.NoError(t, err)
	assert.Equal(t, `{"body":{"b":1}}`, Canonical(got))
}

func TestConforms(t *testing.T) {
	assert.True(t, Conforms(TypeClient, NoOne.Object()))
	assert.False(t, Conforms(TypeClient, IRObject{"agent": IRString("a")}))
	assert.True(t, Conforms(TypeAsset, IRObject{"id": IRString("1")}))
	assert.False(t, Conforms(TypeBool, IRInt(1)))
}

func TestSchemaHashStable(t *testing.T) {
	a, err := SchemaHash(validSchema())
	require.NoError(t, err)
	b, err := SchemaHash(validSchema())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	changed := validSchema()
	changed.Fields[0].Type = TypeString
	c, err := SchemaHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
