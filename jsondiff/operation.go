package jsondiff

import (
	"encoding/json"
	"strconv"
)

// Tag identifies the kind of an Operation on the wire. One letter per kind,
// matching the compact per-field encoding spec.md's scenarios show on the
// wire (e.g. `{o:'+', v:"Hi"}`, `{o:'d', v:<dmp patch>}`).
type Tag string

const (
	TagAdd       Tag = "+"
	TagRemove    Tag = "-"
	TagReplace   Tag = "r"
	TagIncrement Tag = "I"
	TagList      Tag = "L"
	TagObject    Tag = "O"
	TagDMP       Tag = "d"
)

// Operation is one tagged entry of an ObjectOperationSet, applied at the
// path it sits under to transform one Value into another (spec.md §3).
type Operation interface {
	Tag() Tag
	json.Marshaler
}

// ObjectOperationSet is a mapping key -> Operation describing edits to one
// top-level object (spec.md §3).
type ObjectOperationSet map[string]Operation

// Add inserts a value at a not-yet-present key/index.
type Add struct{ Value Value }

func (Add) Tag() Tag { return TagAdd }

func (a Add) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOp{O: TagAdd, V: a.Value})
}

// Remove deletes the value at the path.
type Remove struct{}

func (Remove) Tag() Tag { return TagRemove }

func (Remove) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOp{O: TagRemove})
}

// Replace wholesale-replaces the value at the path.
type Replace struct{ Value Value }

func (Replace) Tag() Tag { return TagReplace }

func (r Replace) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOp{O: TagReplace, V: r.Value})
}

// Increment is a numeric delta; the target must be a number. Increments
// from different peers commute.
type Increment struct{ Delta float64 }

func (Increment) Tag() Tag { return TagIncrement }

func (n Increment) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOp{O: TagIncrement, V: n.Delta})
}

// List is a recursive diff of a list. Child operations are keyed by
// stride-encoded pre-image positions (see listStride): the element at
// pre-image index i has key i*listStride and insertions before it have keys
// i*listStride+1, i*listStride+2, .... The keys are therefore not plain
// pre-image indices. applyListOps applies them in ascending pre-image order.
type List struct{ Items map[int]Operation }

func (List) Tag() Tag { return TagList }

func (l List) MarshalJSON() ([]byte, error) {
	v := make(map[string]Operation, len(l.Items))
	for idx, op := range l.Items {
		v[strconv.Itoa(idx)] = op
	}
	return json.Marshal(wireOp{O: TagList, V: v})
}

// Object is a recursive diff of a mapping.
type Object struct{ Fields ObjectOperationSet }

func (Object) Tag() Tag { return TagObject }

func (o Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOp{O: TagObject, V: o.Fields})
}

// DMP is a diff_match_patch patch string rebasing one string into another.
type DMP struct{ Patch string }

func (DMP) Tag() Tag { return TagDMP }

func (d DMP) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOp{O: TagDMP, V: d.Patch})
}

// wireOp is the on-the-wire shape shared by every operation kind: a tag
// discriminator "o" and an optional payload "v".
type wireOp struct {
	O Tag         `json:"o"`
	V interface{} `json:"v,omitempty"`
}
