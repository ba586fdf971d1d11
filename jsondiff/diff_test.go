package jsondiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectDiffAddRemoveReplace(t *testing.T) {
	base := map[string]Value{
		"title": "Hello",
		"stale": "gone",
	}
	modified := map[string]Value{
		"title": "Hello",
		"fresh": "new",
	}

	ops := ObjectDiff(base, modified)

	assert.IsType(t, Remove{}, ops["stale"])
	assert.Equal(t, Add{Value: "new"}, ops["fresh"])
	assert.NotContains(t, ops, "title")
}

func TestObjectDiffNumberProducesIncrement(t *testing.T) {
	base := map[string]Value{"count": float64(2)}
	modified := map[string]Value{"count": float64(5)}

	ops := ObjectDiff(base, modified)

	inc, ok := ops["count"].(Increment)
	assert.True(t, ok)
	assert.Equal(t, float64(3), inc.Delta)
}

func TestObjectDiffNestedObject(t *testing.T) {
	base := map[string]Value{
		"author": map[string]Value{"name": "Ana", "age": float64(30)},
	}
	modified := map[string]Value{
		"author": map[string]Value{"name": "Ana", "age": float64(31)},
	}

	ops := ObjectDiff(base, modified)

	sub, ok := ops["author"].(Object)
	assert.True(t, ok)
	inc, ok := sub.Fields["age"].(Increment)
	assert.True(t, ok)
	assert.Equal(t, float64(1), inc.Delta)
	assert.NotContains(t, sub.Fields, "name")
}

func TestObjectDiffStringUsesDMP(t *testing.T) {
	base := map[string]Value{"body": "Hello world"}
	modified := map[string]Value{"body": "Hello there world"}

	ops := ObjectDiff(base, modified)

	op, ok := ops["body"].(DMP)
	assert.True(t, ok)
	assert.NotEmpty(t, op.Patch)
}

func TestObjectDiffEmptyStringFallsBackToReplace(t *testing.T) {
	base := map[string]Value{"body": ""}
	modified := map[string]Value{"body": "now set"}

	ops := ObjectDiff(base, modified)

	assert.Equal(t, Replace{Value: "now set"}, ops["body"])
}

func TestObjectDiffNoChangesIsEmpty(t *testing.T) {
	base := map[string]Value{"x": float64(1)}
	ops := ObjectDiff(base, DeepCopy(base).(map[string]Value))
	assert.Empty(t, ops)
}

func TestListDiffAppendOnly(t *testing.T) {
	base := []Value{"a", "b"}
	modified := []Value{"a", "b", "c", "d"}

	ops := listDiff(base, modified)
	result, err := applyListOps(base, ops)

	assert.NoError(t, err)
	assert.Equal(t, modified, result)
}

func TestListDiffRemoveMiddle(t *testing.T) {
	base := []Value{"a", "b", "c"}
	modified := []Value{"a", "c"}

	ops := listDiff(base, modified)
	result, err := applyListOps(base, ops)

	assert.NoError(t, err)
	assert.Equal(t, modified, result)
}

func TestListDiffMultipleConsecutiveInserts(t *testing.T) {
	base := []Value{"a"}
	modified := []Value{"a", "x", "y", "z"}

	ops := listDiff(base, modified)
	// Three insertions sharing the same gap must not collide on a key.
	assert.Len(t, ops, 3)

	result, err := applyListOps(base, ops)
	assert.NoError(t, err)
	assert.Equal(t, modified, result)
}

func TestListDiffReorderAndMix(t *testing.T) {
	base := []Value{"a", "b", "c", "d"}
	modified := []Value{"z", "a", "c", "d", "e"}

	ops := listDiff(base, modified)
	result, err := applyListOps(base, ops)

	assert.NoError(t, err)
	assert.Equal(t, modified, result)
}
