// Package ghost stores the last server-acknowledged state of each object in
// a bucket, keyed by (bucket, key). This is the local baseline diffs and
// transforms are computed against (spec.md §4.2).
package ghost

import (
	"context"
	"sync"

	"github.com/wezm/bucketsync/jsondiff"
)

// Ghost is the last version of an object acknowledged by the server.
type Ghost struct {
	Bucket  string
	Key     string
	Version int64
	Data    map[string]jsondiff.Value
}

// Store persists Ghosts. Implementations must be safe for concurrent use by
// multiple channels.
type Store interface {
	Get(ctx context.Context, bucket, key string) (Ghost, bool, error)
	Put(ctx context.Context, g Ghost) error
	Delete(ctx context.Context, bucket, key string) error
	EachKey(ctx context.Context, bucket string, fn func(key string) error) error
}

func storeKey(bucket, key string) string { return bucket + "\x00" + key }

// MemoryStore is an in-process Store backed by a mutex-guarded map, the
// default for tests and single-process deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	ghosts map[string]Ghost
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ghosts: make(map[string]Ghost)}
}

func (s *MemoryStore) Get(_ context.Context, bucket, key string) (Ghost, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.ghosts[storeKey(bucket, key)]
	if !ok {
		return Ghost{}, false, nil
	}
	return Ghost{
		Bucket:  g.Bucket,
		Key:     g.Key,
		Version: g.Version,
		Data:    jsondiff.DeepCopy(g.Data).(map[string]jsondiff.Value),
	}, true, nil
}

func (s *MemoryStore) Put(_ context.Context, g Ghost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ghosts[storeKey(g.Bucket, g.Key)] = Ghost{
		Bucket:  g.Bucket,
		Key:     g.Key,
		Version: g.Version,
		Data:    jsondiff.DeepCopy(g.Data).(map[string]jsondiff.Value),
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ghosts, storeKey(bucket, key))
	return nil
}

func (s *MemoryStore) EachKey(_ context.Context, bucket string, fn func(key string) error) error {
	s.mu.RLock()
	keys := make([]string, 0)
	for _, g := range s.ghosts {
		if g.Bucket == bucket {
			keys = append(keys, g.Key)
		}
	}
	s.mu.RUnlock()

	for _, key := range keys {
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}
