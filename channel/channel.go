// Package channel implements the bucket-scoped protocol state machine:
// authentication, initial index download, change submission and reception,
// conflict resolution, and ghost maintenance (spec.md §4.3).
package channel

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/wezm/bucketsync/change"
	"github.com/wezm/bucketsync/ghost"
	"github.com/wezm/bucketsync/jsondiff"
	"github.com/wezm/bucketsync/protocol"
)

var logger = logging.Logger("bucketsync/channel")

// BucketObject is the store's view of one object, consumed by Find.
type BucketObject struct {
	ID      string
	Data    map[string]jsondiff.Value
	Version int64
}

// BucketStore is the local object store a Channel consults and updates. It
// is an external collaborator (spec.md §6); store.MemoryStore and
// store.RedisStore satisfy it.
type BucketStore interface {
	Get(ctx context.Context, id string) (map[string]jsondiff.Value, bool, error)
	Update(ctx context.Context, id string, data map[string]jsondiff.Value) (map[string]jsondiff.Value, error)
	Remove(ctx context.Context, id string) error
	Find(ctx context.Context, query interface{}) ([]BucketObject, error)
}

// BeforeNetworkChange is an application-installed hook invoked before
// applying a remote change, supplying the application's current view of the
// local state (spec.md §4.4).
type BeforeNetworkChange func(id string) (map[string]jsondiff.Value, bool)

// Channel is one bucket's connection state machine. It holds no reference to
// its owning Client or Bucket; those reach it by handle (spec.md §9).
type Channel struct {
	mu sync.Mutex

	bucket   string
	clientID string
	appID    string
	token    string

	state State

	ghosts ghost.Store
	store  BucketStore
	queue  *change.Queue

	beforeNetworkChange BeforeNetworkChange

	send func(cmd, body string) error

	events chan Event

	indexSeen    map[string]bool
	indexPending map[string][]protocol.ChangeFrame
}

// Config carries a Channel's fixed collaborators and identity.
type Config struct {
	Bucket   string
	ClientID string
	AppID    string
	Token    string
	Ghosts   ghost.Store
	Store    BucketStore
	Send     func(cmd, body string) error
}

// New returns a Channel in the DISCONNECTED state.
func New(cfg Config) *Channel {
	return &Channel{
		bucket:       cfg.Bucket,
		clientID:     cfg.ClientID,
		appID:        cfg.AppID,
		token:        cfg.Token,
		ghosts:       cfg.Ghosts,
		store:        cfg.Store,
		queue:        change.NewQueue(),
		send:         cfg.Send,
		events:       make(chan Event, 64),
		indexSeen:    make(map[string]bool),
		indexPending: make(map[string][]protocol.ChangeFrame),
	}
}

// Events returns the channel's event stream; the Bucket facade drains it.
func (c *Channel) Events() <-chan Event { return c.events }

func (c *Channel) emit(e Event) {
	select {
	case c.events <- e:
	default:
		logger.Warnf("event dropped, consumer too slow: bucket=%s kind=%v", c.bucket, e.Kind)
	}
}

// State reports the channel's current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// failInbound surfaces an inbound-path failure to the Bucket as an
// EventError and drops the offending change, then requests a full object
// fetch so the key resyncs from scratch (spec.md §7 "StoreError is
// surfaced... and, for inbound paths... a full resync of the key").
func (c *Channel) failInbound(id string, resyncVersion int64, err error) {
	c.emit(Event{Kind: EventError, ID: id, Err: err})
	if sendErr := c.send("e", protocol.EncodeEntityRequest(id, resyncVersion)); sendErr != nil {
		logger.Warnf("channel: resync request for %s failed: %v", id, sendErr)
	}
}

// Reset returns the channel to AUTHORIZING, as required on every
// (re)connect (spec.md §4.5). In-flight changes remain queued; any change
// still Sent from the dropped connection is demoted back to Pending and
// re-diffed so it goes out again once the channel reaches READY.
func (c *Channel) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.state = Authorizing
	c.indexSeen = make(map[string]bool)
	c.indexPending = make(map[string][]protocol.ChangeFrame)
	c.mu.Unlock()

	if err := c.rearmQueuedChanges(ctx); err != nil {
		return errors.Wrap(err, "channel: rearm queued changes")
	}

	body, err := protocol.EncodeInit(protocol.InitFrame{
		ClientID: c.clientID,
		API:      1,
		AppID:    c.appID,
		Token:    c.token,
		Name:     c.bucket,
		Library:  "bucketsync",
	})
	if err != nil {
		return errors.Wrap(err, "channel: encode init")
	}
	return c.send("init", body)
}

// rearmQueuedChanges walks every key's queue for a Change still in the Sent
// state (it was written to the now-dead connection and never acked) and
// returns it to Pending with its source_version and ops refreshed against
// the current ghost, so trySend resends it correctly (spec.md §4.3 Outbound
// changes, Scenario 6 "Reconnect during send").
func (c *Channel) rearmQueuedChanges(ctx context.Context) error {
	for _, key := range c.queue.Keys() {
		pending, ok := c.queue.Front(key)
		if !ok || pending.State != change.Sent {
			continue
		}

		g, _, err := c.ghosts.Get(ctx, c.bucket, key)
		if err != nil {
			return errors.Wrapf(err, "channel: load ghost for %s", key)
		}

		pending.SourceVersion = g.Version
		if pending.Target != nil {
			pending.Ops = jsondiff.ObjectDiff(g.Data, pending.Target)
		}
		pending.State = change.Pending
		c.queue.UpdateFront(key, pending)
	}
	return nil
}

// HandleAuth transitions AUTHORIZING -> INDEXING and requests the index.
func (c *Channel) HandleAuth(username string) error {
	c.mu.Lock()
	c.state = Indexing
	c.mu.Unlock()

	c.emit(Event{Kind: EventIndexing})
	return c.send("i", protocol.EncodeIndexRequest(0, "", 1000, ""))
}

// HandleUnauthorized halts the channel until credentials are refreshed.
func (c *Channel) HandleUnauthorized() {
	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
	c.emit(Event{Kind: EventUnauthorized})
}

// HandleIndexFrame applies one "i" response. When it carries no further
// mark, indexing completes and the channel enters READY.
func (c *Channel) HandleIndexFrame(ctx context.Context, f protocol.IndexFrame) error {
	for _, entry := range f.Index {
		if err := c.applyIndexEntry(ctx, entry); err != nil {
			return err
		}
	}

	if f.Mark != "" {
		return c.send("i", protocol.EncodeIndexRequest(0, f.Mark, 1000, ""))
	}

	c.mu.Lock()
	c.state = Ready
	deferred := c.indexPending
	c.indexPending = make(map[string][]protocol.ChangeFrame)
	c.mu.Unlock()

	for _, frames := range deferred {
		for _, cf := range frames {
			if err := c.HandleChangeFrame(ctx, cf); err != nil {
				logger.Warnf("deferred change frame failed: %v", err)
			}
		}
	}

	c.emit(Event{Kind: EventIndex})
	return c.trySend(ctx)
}

func (c *Channel) applyIndexEntry(ctx context.Context, entry protocol.IndexEntry) error {
	c.mu.Lock()
	c.indexSeen[entry.ID] = true
	c.mu.Unlock()

	if err := c.ghosts.Put(ctx, ghost.Ghost{Bucket: c.bucket, Key: entry.ID, Version: entry.V, Data: entry.Data}); err != nil {
		wrapped := errors.Wrap(err, "channel: persist ghost from index")
		c.failInbound(entry.ID, entry.V, wrapped)
		return wrapped
	}
	if _, err := c.store.Update(ctx, entry.ID, entry.Data); err != nil {
		wrapped := errors.Wrap(err, "channel: persist store from index")
		c.failInbound(entry.ID, entry.V, wrapped)
		return wrapped
	}

	c.emit(Event{
		Kind: EventUpdate,
		ID:   entry.ID,
		Data: entry.Data,
		RemoteInfo: RemoteInfo{IsIndexing: true},
	})
	return nil
}

// HandleChangeFrame applies one inbound "c" frame (spec.md §4.3).
func (c *Channel) HandleChangeFrame(ctx context.Context, f protocol.ChangeFrame) error {
	c.mu.Lock()
	state := c.state
	seen := c.indexSeen[f.ID]
	c.mu.Unlock()

	if state == Indexing && !seen {
		c.mu.Lock()
		c.indexPending[f.ID] = append(c.indexPending[f.ID], f)
		c.mu.Unlock()
		return nil
	}

	// Step 1: acknowledgment of a local in-flight change.
	if pending, ok := c.queue.Front(f.ID); ok && pending.CCID == f.CCID && pending.State == change.Sent {
		g, _, err := c.ghosts.Get(ctx, c.bucket, f.ID)
		if err != nil {
			wrapped := errors.Wrap(err, "channel: load ghost on ack")
			c.failInbound(f.ID, f.EndVersion, wrapped)
			return wrapped
		}
		newData, err := jsondiff.ApplyObjectDiff(pending.Ops, g.Data)
		if err != nil {
			wrapped := errors.Wrap(err, "channel: apply acked change to ghost")
			c.failInbound(f.ID, f.EndVersion, wrapped)
			return wrapped
		}
		if err := c.ghosts.Put(ctx, ghost.Ghost{Bucket: c.bucket, Key: f.ID, Version: f.EndVersion, Data: newData}); err != nil {
			wrapped := errors.Wrap(err, "channel: persist ghost on ack")
			c.failInbound(f.ID, f.EndVersion, wrapped)
			return wrapped
		}
		pending.State = change.Acknowledged
		c.queue.UpdateFront(f.ID, pending)
		c.queue.PopFront(f.ID)
		return c.trySend(ctx)
	}

	g, hasGhost, err := c.ghosts.Get(ctx, c.bucket, f.ID)
	if err != nil {
		wrapped := errors.Wrap(err, "channel: load ghost")
		c.failInbound(f.ID, f.EndVersion, wrapped)
		return wrapped
	}

	// Idempotence: a change whose ev <= ghost.version is discarded.
	if hasGhost && f.EndVersion <= g.Version {
		return nil
	}

	if f.SourceVersion != nil && hasGhost && *f.SourceVersion != g.Version {
		return c.send("e", protocol.EncodeEntityRequest(f.ID, f.EndVersion))
	}

	if f.Op == protocol.ChangeRemove {
		if err := c.ghosts.Delete(ctx, c.bucket, f.ID); err != nil {
			wrapped := errors.Wrap(err, "channel: delete ghost")
			c.failInbound(f.ID, f.EndVersion, wrapped)
			return wrapped
		}
		if err := c.store.Remove(ctx, f.ID); err != nil {
			wrapped := errors.Wrap(err, "channel: remove from store")
			c.failInbound(f.ID, f.EndVersion, wrapped)
			return wrapped
		}
		c.emit(Event{Kind: EventRemove, ID: f.ID})
		return nil
	}

	localView := g.Data
	if c.beforeNetworkChange != nil {
		if v, ok := c.beforeNetworkChange(f.ID); ok {
			localView = v
		}
	}

	base := g.Data
	upstreamApplied, err := jsondiff.ApplyObjectDiff(f.Value, base)
	if err != nil {
		wrapped := errors.Wrap(err, "channel: apply upstream change")
		c.failInbound(f.ID, f.EndVersion, wrapped)
		return wrapped
	}

	if pending, ok := c.queue.Front(f.ID); ok && pending.State != change.Acknowledged {
		rebased, terr := jsondiff.TransformObjectDiff(pending.Ops, f.Value, base)
		if terr != nil {
			wrapped := errors.Wrap(terr, "channel: rebase local change")
			c.failInbound(f.ID, f.EndVersion, wrapped)
			return wrapped
		}
		if len(rebased) == 0 {
			c.queue.PopFront(f.ID)
			c.emit(Event{Kind: EventConflictResolved, ID: f.ID, Data: upstreamApplied})
		} else {
			pending.Ops = rebased
			pending.SourceVersion = f.EndVersion
			pending.State = change.Pending
			c.queue.UpdateFront(f.ID, pending)
		}
	}

	if err := c.ghosts.Put(ctx, ghost.Ghost{Bucket: c.bucket, Key: f.ID, Version: f.EndVersion, Data: upstreamApplied}); err != nil {
		wrapped := errors.Wrap(err, "channel: persist ghost")
		c.failInbound(f.ID, f.EndVersion, wrapped)
		return wrapped
	}
	if _, err := c.store.Update(ctx, f.ID, upstreamApplied); err != nil {
		wrapped := errors.Wrap(err, "channel: persist store")
		c.failInbound(f.ID, f.EndVersion, wrapped)
		return wrapped
	}

	c.emit(Event{
		Kind: EventUpdate,
		ID:   f.ID,
		Data: upstreamApplied,
		RemoteInfo: RemoteInfo{
			Original: localView,
			Patch:    f.Value,
		},
	})

	return c.trySend(ctx)
}

// HandleEntityFrame applies the server's reply to an "e" full-object request,
// issued from HandleChangeFrame when an inbound change's source_version
// doesn't match the local ghost. It resets the ghost and store to the
// fetched object and, if a local change is still queued for the key, rebases
// it onto the fetched data instead of resending it against a stale
// source_version (spec.md §4.3 step 2, §7 VersionMismatch).
func (c *Channel) HandleEntityFrame(ctx context.Context, f protocol.EntityFrame) error {
	g, hasGhost, err := c.ghosts.Get(ctx, c.bucket, f.ID)
	if err != nil {
		wrapped := errors.Wrap(err, "channel: load ghost for entity reset")
		c.failInbound(f.ID, f.Version, wrapped)
		return wrapped
	}
	if hasGhost && f.Version <= g.Version {
		return nil
	}

	if err := c.ghosts.Put(ctx, ghost.Ghost{Bucket: c.bucket, Key: f.ID, Version: f.Version, Data: f.Data}); err != nil {
		wrapped := errors.Wrap(err, "channel: persist ghost from entity")
		c.failInbound(f.ID, f.Version, wrapped)
		return wrapped
	}
	if _, err := c.store.Update(ctx, f.ID, f.Data); err != nil {
		wrapped := errors.Wrap(err, "channel: persist store from entity")
		c.failInbound(f.ID, f.Version, wrapped)
		return wrapped
	}

	if pending, ok := c.queue.Front(f.ID); ok && pending.State != change.Acknowledged {
		pending.SourceVersion = f.Version
		if pending.Target != nil {
			pending.Ops = jsondiff.ObjectDiff(f.Data, pending.Target)
		}
		pending.State = change.Pending
		c.queue.UpdateFront(f.ID, pending)
	}

	c.emit(Event{Kind: EventUpdate, ID: f.ID, Data: f.Data})
	return c.trySend(ctx)
}

// Enqueue computes object_diff(ghost.data, newData) and appends a Change for
// id, to be sent when it reaches the head of its key's queue.
func (c *Channel) Enqueue(ctx context.Context, id string, newData map[string]jsondiff.Value) error {
	g, hasGhost, err := c.ghosts.Get(ctx, c.bucket, id)
	if err != nil {
		return errors.Wrap(err, "channel: load ghost for enqueue")
	}
	base := g.Data
	sourceVersion := g.Version
	if !hasGhost {
		base = map[string]jsondiff.Value{}
		sourceVersion = 0
	}

	ops := jsondiff.ObjectDiff(base, newData)
	ch := change.New(id, sourceVersion, ops)
	ch.Target = newData
	c.queue.Push(ch)
	return c.trySend(ctx)
}

// EnqueueRemove appends a remove Change for id, canceling any other pending
// non-remove changes for the same key (spec.md §5 Cancellation).
func (c *Channel) EnqueueRemove(ctx context.Context, id string) error {
	g, _, err := c.ghosts.Get(ctx, c.bucket, id)
	if err != nil {
		return errors.Wrap(err, "channel: load ghost for remove")
	}

	removal := change.New(id, g.Version, nil)
	c.queue.Push(removal)
	c.queue.DropPendingNonRemove(id, func(cc change.Change) bool { return cc.CCID == removal.CCID })
	return c.trySend(ctx)
}

// trySend sends the head Change for every key currently Pending, subject to
// the at-most-one-Sent-per-key invariant.
func (c *Channel) trySend(ctx context.Context) error {
	c.mu.Lock()
	ready := c.state == Ready
	c.mu.Unlock()
	if !ready {
		return nil
	}

	for _, key := range c.queue.Keys() {
		pending, ok := c.queue.Front(key)
		if !ok || pending.State != change.Pending {
			continue
		}

		op := protocol.ChangeModify
		if pending.Ops == nil {
			op = protocol.ChangeRemove
		}
		sv := pending.SourceVersion
		body, err := protocol.EncodeChange(protocol.ChangeFrame{
			ClientID:      c.clientID,
			ID:            pending.Key,
			Op:            op,
			Value:         pending.Ops,
			SourceVersion: &sv,
			CCID:          pending.CCID,
		})
		if err != nil {
			return errors.Wrap(err, "channel: encode outbound change")
		}

		pending.State = change.Sent
		c.queue.UpdateFront(key, pending)

		if err := c.send("c", body); err != nil {
			return errors.Wrap(err, "channel: send change")
		}
	}
	return nil
}

// SetBeforeNetworkChange installs the resolver hook (spec.md §4.4).
func (c *Channel) SetBeforeNetworkChange(fn BeforeNetworkChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeNetworkChange = fn
}

// HasLocalChanges reports whether any per-key queue is non-empty.
func (c *Channel) HasLocalChanges() bool { return c.queue.HasChanges() }

// GetVersion returns the ghost version known for key.
func (c *Channel) GetVersion(ctx context.Context, key string) (int64, error) {
	g, ok, err := c.ghosts.Get(ctx, c.bucket, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return g.Version, nil
}
