// Package change models a Channel's in-flight local mutations: the Change
// record, its lifecycle states, and a per-key FIFO queue (spec.md §3, §4.3).
package change

import (
	"github.com/google/uuid"

	"github.com/wezm/bucketsync/jsondiff"
)

// State is a Change's position in its lifecycle.
type State int

const (
	Pending State = iota
	Sent
	Acknowledged
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Acknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

// Change is one in-flight local mutation of an object (spec.md §3).
type Change struct {
	CCID          string
	Key           string
	SourceVersion int64
	Ops           jsondiff.ObjectOperationSet
	State         State

	// Target is the application's desired resulting object data, captured at
	// enqueue time. It lets a Change be re-diffed against a refreshed ghost
	// (on reconnect or full-object resync) instead of resent verbatim against
	// a source_version the server has moved past. Nil for a remove.
	Target map[string]jsondiff.Value
}

// New returns a pending Change with a fresh ccid.
func New(key string, sourceVersion int64, ops jsondiff.ObjectOperationSet) Change {
	return Change{
		CCID:          uuid.New().String(),
		Key:           key,
		SourceVersion: sourceVersion,
		Ops:           ops,
		State:         Pending,
	}
}
