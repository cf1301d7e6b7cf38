package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergePatch(t *testing.T) {
	tests := []struct {
		name   string
		target IRValue
		patch  IRValue
		want   IRValue
	}{
		{"set key", IRObject{"a": IRInt(1)}, IRObject{"b": IRInt(2)}, IRObject{"a": IRInt(1), "b": IRInt(2)}},
		{"replace key", IRObject{"a": IRInt(1)}, IRObject{"a": IRInt(2)}, IRObject{"a": IRInt(2)}},
		{"delete key", IRObject{"a": IRInt(1), "b": IRInt(2)}, IRObject{"a": IRNull{}}, IRObject{"b": IRInt(2)}},
		{"nested merge", IRObject{"o": IRObject{"x": IRInt(1), "y": IRInt(2)}}, IRObject{"o": IRObject{"y": IRNull{}}}, IRObject{"o": IRObject{"x": IRInt(1)}}},
		{"non-object patch replaces", IRObject{"a": IRInt(1)}, IRArray{IRInt(1)}, IRArray{IRInt(1)}},
		{"object over scalar", IRInt(5), IRObject{"a": IRInt(1)}, IRObject{"a": IRInt(1)}},
		{"arrays replace", IRObject{"l": IRArray{IRInt(1), IRInt(2)}}, IRObject{"l": IRArray{IRInt(3)}}, IRObject{"l": IRArray{IRInt(3)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergePatch(tt.target, tt.patch)
			assert.True(t, Equal(tt.want, got), "got %s", Canonical(got))
		})
	}
}

func TestMergePatchDoesNotModifyTarget(t *testing.T) {
	target := IRObject{"o": IRObject{"x": IRInt(1)}}

	MergePatch(target, IRObject{"o": IRObject{"x": IRInt(2)}})

	assert.Equal(t, IRInt(1), target["o"].(IRObject)["x"])
}

func TestMergeDiffRoundTrip(t *testing.T) {
	before := IRObject{
		"x":     IRInt(42),
		"gone":  IRString("bye"),
		"same":  IRBool(true),
		"inner": IRObject{"a": IRInt(1), "b": IRInt(2)},
		"swap":  IRInt(1),
	}
	after := IRObject{
		"x":     IRInt(142),
		"same":  IRBool(true),
		"inner": IRObject{"a": IRInt(1), "c": IRInt(3)},
		"swap":  IRObject{},
		"new":   IRArray{IRString("n")},
	}

	forward := MergeDiff(before, after)
	reverse := MergeDiff(after, before)

	assert.Equal(t, `{"gone":null,"inner":{"b":null,"c":3},"new":["n"],"swap":{},"x":142}`, Canonical(forward))
	assert.True(t, Equal(after, MergePatch(before, forward)))
	assert.True(t, Equal(before, MergePatch(after, reverse)))
}

func TestMergeDiffNoChange(t *testing.T) {
	obj := IRObject{"a": IRInt(1)}

	assert.Empty(t, MergeDiff(obj, obj.Clone()))
}

func TestDropNulls(t *testing.T) {
	v := IRObject{
		"a":    IRNull{},
		"b":    IRInt(1),
		"deep": IRObject{"c": IRNull{}, "d": IRObject{"e": IRNull{}}},
		"list": IRArray{IRNull{}, IRObject{"f": IRNull{}}},
	}

	got := DropNulls(v)

	assert.Equal(t, `{"b":1,"deep":{"d":{}},"list":[null,{"f":null}]}`, Canonical(got))
	assert.Contains(t, v, "a", "input is not modified")
	assert.True(t, Equal(IRString("s"), DropNulls(IRString("s"))))
}

func TestDropNullsSurvivesMergePatch(t *testing.T) {
	after := DropNulls(IRObject{
		"meta": IRObject{"a": IRNull{}, "b": IRInt(1)},
		"list": IRArray{IRObject{"f": IRNull{}}},
	}).(IRObject)

	forward := MergeDiff(IRObject{}, after)

	assert.True(t, Equal(after, MergePatch(IRObject{}, forward)))
}
