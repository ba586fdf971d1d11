package jsondiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNull, KindOf(nil))
	assert.Equal(t, KindBool, KindOf(true))
	assert.Equal(t, KindNumber, KindOf(float64(3)))
	assert.Equal(t, KindString, KindOf("x"))
	assert.Equal(t, KindList, KindOf([]Value{}))
	assert.Equal(t, KindObject, KindOf(map[string]Value{}))
}

func TestDeepEqual(t *testing.T) {
	a := map[string]Value{"x": []Value{float64(1), "y"}}
	b := map[string]Value{"x": []Value{float64(1), "y"}}
	c := map[string]Value{"x": []Value{float64(1), "z"}}

	assert.True(t, DeepEqual(a, b))
	assert.False(t, DeepEqual(a, c))
	assert.False(t, DeepEqual(nil, map[string]Value{}))
}

func TestDeepCopyIsIndependent(t *testing.T) {
	orig := map[string]Value{"list": []Value{"a", "b"}}
	copied := DeepCopy(orig).(map[string]Value)

	copied["list"].([]Value)[0] = "changed"

	assert.Equal(t, "a", orig["list"].([]Value)[0])
	assert.Equal(t, "changed", copied["list"].([]Value)[0])
}

func TestAsFloat64(t *testing.T) {
	n, ok := AsFloat64(float64(4))
	assert.True(t, ok)
	assert.Equal(t, float64(4), n)

	_, ok = AsFloat64("not a number")
	assert.False(t, ok)
}
