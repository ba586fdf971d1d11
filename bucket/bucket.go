// Package bucket is the application-facing facade over a local store and a
// Channel: the public surface most consumers of this module call directly
// (spec.md §4.4, C4).
package bucket

import (
	"context"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/wezm/bucketsync/channel"
	"github.com/wezm/bucketsync/jsondiff"
)

var logger = logging.Logger("bucketsync/bucket")

// BucketObject is one object as seen through the facade.
type BucketObject struct {
	ID      string
	Data    map[string]jsondiff.Value
	Version int64
}

// Resolver is the application-installed hook consulted before an inbound
// change is applied; its return value (or the store's own value if it
// returns ok=false) is what gets reported as the change's "local" side.
type Resolver func(id string) (data map[string]jsondiff.Value, ok bool)

// Bucket is a named collection of JSON objects, synchronized through a
// Channel and cached in a local Store.
type Bucket struct {
	name    string
	store   channel.BucketStore
	channel *channel.Channel

	mu       sync.RWMutex
	resolver Resolver

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires a Bucket over store and ch and starts forwarding the channel's
// events into the bucket's own event stream.
func New(name string, store channel.BucketStore, ch *channel.Channel) *Bucket {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bucket{
		name:    name,
		store:   store,
		channel: ch,
		events:  make(chan Event, 32),
		ctx:     ctx,
		cancel:  cancel,
	}
	ch.SetBeforeNetworkChange(b.resolve)
	go b.pump()
	return b
}

// Events returns the bucket's lifecycle event stream.
func (b *Bucket) Events() <-chan Event { return b.events }

// Close stops forwarding channel events. The underlying Channel and Client
// are unaffected; Close only tears down this Bucket's own plumbing.
func (b *Bucket) Close() { b.cancel() }

func (b *Bucket) pump() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case e, ok := <-b.channel.Events():
			if !ok {
				return
			}
			b.forward(e)
		}
	}
}

func (b *Bucket) forward(e channel.Event) {
	switch e.Kind {
	case channel.EventIndex:
		b.emit(Event{Kind: EventIndex})
	case channel.EventIndexing:
		b.emit(Event{Kind: EventIndexing})
	case channel.EventUpdate:
		b.emit(Event{
			Kind: EventUpdate,
			ID:   e.ID,
			Data: e.Data,
			RemoteInfo: RemoteInfo{
				Original:   e.RemoteInfo.Original,
				Patch:      e.RemoteInfo.Patch,
				IsIndexing: e.RemoteInfo.IsIndexing,
			},
		})
	case channel.EventRemove:
		b.emit(Event{Kind: EventRemove, ID: e.ID})
	case channel.EventError, channel.EventUnauthorized:
		b.emit(Event{Kind: EventError, ID: e.ID, Err: e.Err})
	case channel.EventConflictResolved:
		b.emit(Event{
			Kind: EventUpdate,
			ID:   e.ID,
			Data: e.Data,
			RemoteInfo: RemoteInfo{
				Original: e.RemoteInfo.Original,
				Patch:    e.RemoteInfo.Patch,
			},
		})
	}
}

func (b *Bucket) emit(e Event) {
	select {
	case b.events <- e:
	default:
		logger.Warnf("event dropped, consumer too slow: bucket=%s kind=%v", b.name, e.Kind)
	}
}

func (b *Bucket) resolve(id string) (map[string]jsondiff.Value, bool) {
	b.mu.RLock()
	resolver := b.resolver
	b.mu.RUnlock()

	if resolver != nil {
		if data, ok := resolver(id); ok {
			return data, true
		}
	}
	data, ok, err := b.store.Get(b.ctx, id)
	if err != nil {
		return nil, false
	}
	return data, ok
}

// BeforeNetworkChange installs resolver as the hook consulted before each
// inbound change is applied.
func (b *Bucket) BeforeNetworkChange(resolver Resolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolver = resolver
}

// Add allocates a fresh id and stores data under it.
func (b *Bucket) Add(ctx context.Context, data map[string]jsondiff.Value) (BucketObject, error) {
	return b.Update(ctx, uuid.New().String(), data)
}

// Get returns the locally-known object for id, if any.
func (b *Bucket) Get(ctx context.Context, id string) (BucketObject, bool, error) {
	data, ok, err := b.store.Get(ctx, id)
	if err != nil || !ok {
		return BucketObject{}, false, err
	}
	v, err := b.channel.GetVersion(ctx, id)
	if err != nil {
		return BucketObject{}, false, err
	}
	return BucketObject{ID: id, Data: data, Version: v}, true, nil
}

// Update writes data to the local store and, unless sync is false, forwards
// the change to the channel for synchronization.
func (b *Bucket) Update(ctx context.Context, id string, data map[string]jsondiff.Value, sync ...bool) (BucketObject, error) {
	doSync := true
	if len(sync) > 0 {
		doSync = sync[0]
	}

	stored, err := b.store.Update(ctx, id, data)
	if err != nil {
		b.emit(Event{Kind: EventError, ID: id, Err: err})
		return BucketObject{}, errors.Wrap(err, "bucket: update store")
	}

	if doSync {
		if err := b.channel.Enqueue(ctx, id, stored); err != nil {
			b.emit(Event{Kind: EventError, ID: id, Err: err})
			return BucketObject{}, errors.Wrap(err, "bucket: enqueue change")
		}
	}

	b.emit(Event{Kind: EventUpdate, ID: id, Data: stored})
	return BucketObject{ID: id, Data: stored}, nil
}

// Remove deletes id from the local store and forwards the removal.
func (b *Bucket) Remove(ctx context.Context, id string) error {
	if err := b.store.Remove(ctx, id); err != nil {
		b.emit(Event{Kind: EventError, ID: id, Err: err})
		return errors.Wrap(err, "bucket: remove from store")
	}
	b.emit(Event{Kind: EventRemove, ID: id})

	if err := b.channel.EnqueueRemove(ctx, id); err != nil {
		b.emit(Event{Kind: EventError, ID: id, Err: err})
		return errors.Wrap(err, "bucket: enqueue remove")
	}
	return nil
}

// Find is an opaque pass-through to the local store's query mechanism.
func (b *Bucket) Find(ctx context.Context, query interface{}) ([]BucketObject, error) {
	objs, err := b.store.Find(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "bucket: find")
	}
	out := make([]BucketObject, len(objs))
	for i, o := range objs {
		out[i] = BucketObject{ID: o.ID, Data: o.Data, Version: o.Version}
	}
	return out, nil
}

// GetVersion returns the channel's ghost version for id.
func (b *Bucket) GetVersion(ctx context.Context, id string) (int64, error) {
	return b.channel.GetVersion(ctx, id)
}

// GetRevisions is a pass-through placeholder: this module does not retain a
// revision history beyond the current ghost, matching the channel's
// single-ghost-per-key model (no CHANGE_VERSION log retained).
func (b *Bucket) GetRevisions(_ context.Context, _ string) ([]BucketObject, error) {
	return nil, nil
}

// Touch re-submits the locally stored object for id as a change diffed
// against its ghost. It does nothing if id is not in the local store, and it
// does not fetch the object from the server.
func (b *Bucket) Touch(ctx context.Context, id string) error {
	data, ok, err := b.store.Get(ctx, id)
	if err != nil {
		return errors.Wrap(err, "bucket: touch")
	}
	if !ok {
		return nil
	}
	return b.channel.Enqueue(ctx, id, data)
}

// Reload resets the channel, forcing a fresh AUTHORIZING/INDEXING cycle.
func (b *Bucket) Reload() error {
	return b.channel.Reset(b.ctx)
}
