// Package store provides the default local object-store adapters consumed
// by a Bucket/Channel pair: a key→data mapping with an opaque Find query
// (spec.md §6's BucketStore interface). Applications may supply their own
// implementation of channel.BucketStore instead.
package store

import (
	"context"
	"sync"

	"github.com/wezm/bucketsync/channel"
	"github.com/wezm/bucketsync/jsondiff"
)

// MemoryStore is an in-process Store, the default for tests and
// single-process deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	objs map[string]map[string]jsondiff.Value
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objs: make(map[string]map[string]jsondiff.Value)}
}

var _ channel.BucketStore = (*MemoryStore)(nil)

func (s *MemoryStore) Get(_ context.Context, id string) (map[string]jsondiff.Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.objs[id]
	if !ok {
		return nil, false, nil
	}
	return jsondiff.DeepCopy(v).(map[string]jsondiff.Value), true, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, data map[string]jsondiff.Value) (map[string]jsondiff.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := jsondiff.DeepCopy(data).(map[string]jsondiff.Value)
	s.objs[id] = copied
	return copied, nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objs, id)
	return nil
}

// Find returns every object for which query (a predicate over an object's
// data) returns true. A nil query matches every object. find's opacity is
// explicit in spec.md §6 — this is the simplest possible realization of
// that contract, not a query engine.
func (s *MemoryStore) Find(_ context.Context, query interface{}) ([]channel.BucketObject, error) {
	predicate, _ := query.(func(map[string]jsondiff.Value) bool)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []channel.BucketObject
	for id, data := range s.objs {
		if predicate != nil && !predicate(data) {
			continue
		}
		out = append(out, channel.BucketObject{ID: id, Data: jsondiff.DeepCopy(data).(map[string]jsondiff.Value)})
	}
	return out, nil
}
