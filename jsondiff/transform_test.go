package jsondiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// These scenarios follow spec.md §8's concurrent-edit properties: a local
// change set and an upstream change set are transformed against the same
// base, then both applications (upstream first, rebased local second) must
// converge with no precondition violations.

func TestTransformIncrementsCommute(t *testing.T) {
	base := map[string]Value{"score": float64(10)}
	local := ObjectOperationSet{"score": Increment{Delta: 3}}
	upstream := ObjectOperationSet{"score": Increment{Delta: 7}}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.NoError(t, err)

	afterUpstream, err := ApplyObjectDiff(upstream, base)
	assert.NoError(t, err)
	result, err := ApplyObjectDiff(rebased, afterUpstream)
	assert.NoError(t, err)

	assert.Equal(t, float64(20), result["score"])
}

func TestTransformReplaceVsReplaceUpstreamWins(t *testing.T) {
	base := map[string]Value{"title": "Hello"}
	local := ObjectOperationSet{"title": Replace{Value: "Local title"}}
	upstream := ObjectOperationSet{"title": Replace{Value: "Upstream title"}}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.NoError(t, err)
	assert.NotContains(t, rebased, "title")

	afterUpstream, err := ApplyObjectDiff(upstream, base)
	assert.NoError(t, err)
	result, err := ApplyObjectDiff(rebased, afterUpstream)
	assert.NoError(t, err)

	assert.Equal(t, "Upstream title", result["title"])
}

func TestTransformRemoveVsReplaceRemoveWins(t *testing.T) {
	base := map[string]Value{"title": "Hello"}
	local := ObjectOperationSet{"title": Remove{}}
	upstream := ObjectOperationSet{"title": Replace{Value: "Upstream title"}}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.NoError(t, err)
	assert.Equal(t, Remove{}, rebased["title"])

	afterUpstream, err := ApplyObjectDiff(upstream, base)
	assert.NoError(t, err)
	result, err := ApplyObjectDiff(rebased, afterUpstream)
	assert.NoError(t, err)

	assert.NotContains(t, result, "title")
}

func TestTransformDisjointKeysPassThrough(t *testing.T) {
	base := map[string]Value{"a": "x", "b": "y"}
	local := ObjectOperationSet{"a": Replace{Value: "local a"}}
	upstream := ObjectOperationSet{"b": Replace{Value: "upstream b"}}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.NoError(t, err)
	assert.Equal(t, local["a"], rebased["a"])
}

func TestTransformNestedObjectRecurses(t *testing.T) {
	base := map[string]Value{
		"author": map[string]Value{"name": "Ana", "age": float64(30)},
	}
	local := ObjectOperationSet{
		"author": Object{Fields: ObjectOperationSet{"name": Replace{Value: "Ana Maria"}}},
	}
	upstream := ObjectOperationSet{
		"author": Object{Fields: ObjectOperationSet{"age": Increment{Delta: 1}}},
	}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.NoError(t, err)

	afterUpstream, err := ApplyObjectDiff(upstream, base)
	assert.NoError(t, err)
	result, err := ApplyObjectDiff(rebased, afterUpstream)
	assert.NoError(t, err)

	author := result["author"].(map[string]Value)
	assert.Equal(t, "Ana Maria", author["name"])
	assert.Equal(t, float64(31), author["age"])
}

func TestTransformDMPRebasesCleanly(t *testing.T) {
	base := map[string]Value{"body": "The quick fox jumps"}
	local := ObjectDiff(base, map[string]Value{"body": "The quick fox jumps over the log"})
	upstream := ObjectDiff(base, map[string]Value{"body": "The quick brown fox jumps"})

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.NoError(t, err)

	afterUpstream, err := ApplyObjectDiff(upstream, base)
	assert.NoError(t, err)
	result, err := ApplyObjectDiff(rebased, afterUpstream)
	assert.NoError(t, err)

	assert.Equal(t, "The quick brown fox jumps over the log", result["body"])
}

func TestTransformListVsObjectStructuralMismatchDropsLocal(t *testing.T) {
	base := map[string]Value{"field": []Value{"a"}}
	local := ObjectOperationSet{"field": List{Items: map[int]Operation{
		listInsertKey(1, 1): Add{Value: "b"},
	}}}
	upstream := ObjectOperationSet{"field": Object{Fields: ObjectOperationSet{"x": Add{Value: "y"}}}}

	rebased, err := TransformObjectDiff(local, upstream, base)
	assert.NoError(t, err)
	assert.NotContains(t, rebased, "field")
}
