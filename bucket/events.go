package bucket

import "github.com/wezm/bucketsync/jsondiff"

// EventKind discriminates the notifications a Bucket emits (spec.md §4.4).
type EventKind int

const (
	EventIndex EventKind = iota
	EventIndexing
	EventUpdate
	EventRemove
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventIndex:
		return "index"
	case EventIndexing:
		return "indexing"
	case EventUpdate:
		return "update"
	case EventRemove:
		return "remove"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// RemoteInfo carries the local-vs-upstream context of an inbound change, for
// applications that want to reconcile or re-assert local state.
type RemoteInfo struct {
	Original   map[string]jsondiff.Value
	Patch      interface{}
	IsIndexing bool
}

// Event is one bucket-level lifecycle notification.
type Event struct {
	Kind       EventKind
	ID         string
	Data       map[string]jsondiff.Value
	RemoteInfo RemoteInfo
	Err        error
}
