package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wezm/bucketsync/change"
	"github.com/wezm/bucketsync/ghost"
	"github.com/wezm/bucketsync/jsondiff"
	"github.com/wezm/bucketsync/protocol"
)

type fakeStore struct {
	data map[string]map[string]jsondiff.Value
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string]map[string]jsondiff.Value)} }

func (s *fakeStore) Get(_ context.Context, id string) (map[string]jsondiff.Value, bool, error) {
	v, ok := s.data[id]
	return v, ok, nil
}

func (s *fakeStore) Update(_ context.Context, id string, data map[string]jsondiff.Value) (map[string]jsondiff.Value, error) {
	s.data[id] = data
	return data, nil
}

func (s *fakeStore) Remove(_ context.Context, id string) error {
	delete(s.data, id)
	return nil
}

func (s *fakeStore) Find(context.Context, interface{}) ([]BucketObject, error) { return nil, nil }

type capturedFrame struct{ cmd, body string }

func newTestChannel(t *testing.T) (*Channel, *[]capturedFrame, ghost.Store, *fakeStore) {
	t.Helper()
	var sent []capturedFrame
	ghosts := ghost.NewMemoryStore()
	store := newFakeStore()

	c := New(Config{
		Bucket:   "notes",
		ClientID: "client-1",
		AppID:    "app-1",
		Token:    "token-1",
		Ghosts:   ghosts,
		Store:    store,
		Send: func(cmd, body string) error {
			sent = append(sent, capturedFrame{cmd, body})
			return nil
		},
	})
	return c, &sent, ghosts, store
}

func makeReady(t *testing.T, c *Channel) {
	t.Helper()
	ctx := context.Background()
	assert.NoError(t, c.Reset(ctx))
	assert.NoError(t, c.HandleAuth("user"))
	assert.NoError(t, c.HandleIndexFrame(ctx, protocol.IndexFrame{Current: 0}))
	assert.Equal(t, Ready, c.State())
}

func TestChannelResetSendsInit(t *testing.T) {
	c, sent, _, _ := newTestChannel(t)
	assert.NoError(t, c.Reset(context.Background()))
	assert.Equal(t, Authorizing, c.State())
	assert.Equal(t, "init", (*sent)[0].cmd)
}

func TestChannelIndexingThenReady(t *testing.T) {
	c, _, ghosts, store := newTestChannel(t)
	makeReady(t, c)

	ctx := context.Background()
	assert.NoError(t, c.HandleIndexFrame(ctx, protocol.IndexFrame{
		Index:   []protocol.IndexEntry{{ID: "a", V: 1, Data: map[string]jsondiff.Value{"title": "Hi"}}},
		Current: 1,
	}))

	g, ok, _ := ghosts.Get(ctx, "notes", "a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), g.Version)

	data, ok, _ := store.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, "Hi", data["title"])
}

func TestChannelEnqueueAndSend(t *testing.T) {
	c, sent, _, _ := newTestChannel(t)
	makeReady(t, c)

	ctx := context.Background()
	assert.NoError(t, c.Enqueue(ctx, "a", map[string]jsondiff.Value{"content": "Hi"}))

	assert.True(t, len(*sent) > 0)
	last := (*sent)[len(*sent)-1]
	assert.Equal(t, "c", last.cmd)
	assert.Contains(t, last.body, `"o":"M"`)
}

func TestChannelAcknowledgesOutboundChange(t *testing.T) {
	c, sent, ghosts, _ := newTestChannel(t)
	makeReady(t, c)

	ctx := context.Background()
	assert.NoError(t, c.Enqueue(ctx, "a", map[string]jsondiff.Value{"content": "Hi"}))

	last := (*sent)[len(*sent)-1]
	frames, err := protocol.DecodeChanges(last.body)
	assert.NoError(t, err)
	ccid := frames[0].CCID

	assert.NoError(t, c.HandleChangeFrame(ctx, protocol.ChangeFrame{
		ID:         "a",
		CCID:       ccid,
		EndVersion: 1,
	}))

	assert.False(t, c.HasLocalChanges())
	g, ok, _ := ghosts.Get(ctx, "notes", "a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), g.Version)
	assert.Equal(t, "Hi", g.Data["content"])
}

func TestChannelIdempotentRedelivery(t *testing.T) {
	c, _, ghosts, _ := newTestChannel(t)
	makeReady(t, c)
	ctx := context.Background()

	assert.NoError(t, ghosts.Put(ctx, ghost.Ghost{Bucket: "notes", Key: "a", Version: 4, Data: map[string]jsondiff.Value{"title": "Hi"}}))

	sv := int64(3)
	err := c.HandleChangeFrame(ctx, protocol.ChangeFrame{
		ID:            "a",
		EndVersion:    4,
		SourceVersion: &sv,
		Value:         jsondiff.ObjectOperationSet{"title": jsondiff.Replace{Value: "Stale"}},
	})
	assert.NoError(t, err)

	g, _, _ := ghosts.Get(ctx, "notes", "a")
	assert.Equal(t, "Hi", g.Data["title"])
}

func TestChannelRebasesLocalChangeAgainstInboundConflict(t *testing.T) {
	c, sent, ghosts, _ := newTestChannel(t)
	makeReady(t, c)
	ctx := context.Background()

	assert.NoError(t, ghosts.Put(ctx, ghost.Ghost{Bucket: "notes", Key: "a", Version: 2, Data: map[string]jsondiff.Value{"count": float64(5)}}))
	assert.NoError(t, c.Enqueue(ctx, "a", map[string]jsondiff.Value{"count": float64(7)})) // local +2, sent

	assert.NoError(t, c.HandleChangeFrame(ctx, protocol.ChangeFrame{
		ID:         "a",
		EndVersion: 3,
		Value:      jsondiff.ObjectOperationSet{"count": jsondiff.Increment{Delta: 3}},
	}))

	g, _, _ := ghosts.Get(ctx, "notes", "a")
	assert.Equal(t, float64(8), g.Data["count"])

	// the rebased local change should have re-sent with the refreshed source version
	last := (*sent)[len(*sent)-1]
	frames, _ := protocol.DecodeChanges(last.body)
	assert.Equal(t, int64(3), *frames[0].SourceVersion)
}

func TestChannelRequestsEntityOnSourceVersionMismatch(t *testing.T) {
	c, sent, ghosts, _ := newTestChannel(t)
	makeReady(t, c)
	ctx := context.Background()

	assert.NoError(t, ghosts.Put(ctx, ghost.Ghost{Bucket: "notes", Key: "a", Version: 2, Data: map[string]jsondiff.Value{"title": "v2"}}))

	sv := int64(5) // far ahead of our ghost: triggers a resync instead of a local apply
	assert.NoError(t, c.HandleChangeFrame(ctx, protocol.ChangeFrame{
		ID:            "a",
		EndVersion:    6,
		SourceVersion: &sv,
		Value:         jsondiff.ObjectOperationSet{"title": jsondiff.Replace{Value: "v6"}},
	}))

	last := (*sent)[len(*sent)-1]
	assert.Equal(t, "e", last.cmd)
	assert.Equal(t, "a.6", last.body)

	// the ghost is untouched until the entity response arrives
	g, _, _ := ghosts.Get(ctx, "notes", "a")
	assert.Equal(t, "v2", g.Data["title"])
}

func TestChannelHandleEntityFrameResetsGhostAndStore(t *testing.T) {
	c, _, ghosts, store := newTestChannel(t)
	makeReady(t, c)
	ctx := context.Background()

	assert.NoError(t, ghosts.Put(ctx, ghost.Ghost{Bucket: "notes", Key: "a", Version: 2, Data: map[string]jsondiff.Value{"title": "v2"}}))

	assert.NoError(t, c.HandleEntityFrame(ctx, protocol.EntityFrame{
		ID:      "a",
		Version: 6,
		Data:    map[string]jsondiff.Value{"title": "v6"},
	}))

	g, ok, _ := ghosts.Get(ctx, "notes", "a")
	assert.True(t, ok)
	assert.Equal(t, int64(6), g.Version)
	assert.Equal(t, "v6", g.Data["title"])

	data, ok, _ := store.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, "v6", data["title"])
}

func TestChannelHandleEntityFrameRebasesQueuedChange(t *testing.T) {
	c, _, ghosts, _ := newTestChannel(t)
	makeReady(t, c)
	ctx := context.Background()

	assert.NoError(t, ghosts.Put(ctx, ghost.Ghost{Bucket: "notes", Key: "a", Version: 2, Data: map[string]jsondiff.Value{"title": "v2", "done": false}}))
	assert.NoError(t, c.Enqueue(ctx, "a", map[string]jsondiff.Value{"title": "v2", "done": true}))

	assert.NoError(t, c.HandleEntityFrame(ctx, protocol.EntityFrame{
		ID:      "a",
		Version: 9,
		Data:    map[string]jsondiff.Value{"title": "v9", "done": false},
	}))

	// the re-diffed change is resent at once, since the channel is READY
	head, ok := c.queue.Front("a")
	assert.True(t, ok)
	assert.Equal(t, change.Sent, head.State)
	assert.Equal(t, int64(9), head.SourceVersion)
	assert.Equal(t, jsondiff.Replace{Value: true}, head.Ops["done"])
}

func TestChannelResetRearmsSentChangeAfterReconnect(t *testing.T) {
	c, sent, ghosts, _ := newTestChannel(t)
	makeReady(t, c)
	ctx := context.Background()

	assert.NoError(t, c.Enqueue(ctx, "a", map[string]jsondiff.Value{"done": true}))
	head, ok := c.queue.Front("a")
	require.True(t, ok)
	require.Equal(t, change.Sent, head.State)

	// the ghost has moved on by the time Reset recomputes the diff (e.g. a
	// full resync landed between the disconnect and the next connect)
	assert.NoError(t, ghosts.Put(ctx, ghost.Ghost{Bucket: "notes", Key: "a", Version: 4, Data: map[string]jsondiff.Value{"done": false}}))

	*sent = nil
	assert.NoError(t, c.Reset(ctx))

	head, ok = c.queue.Front("a")
	require.True(t, ok)
	assert.Equal(t, change.Pending, head.State)
	assert.Equal(t, int64(4), head.SourceVersion)
	assert.Equal(t, jsondiff.Replace{Value: true}, head.Ops["done"])

	assert.NoError(t, c.HandleAuth("user"))
	assert.NoError(t, c.HandleIndexFrame(ctx, protocol.IndexFrame{Current: 4}))

	last := (*sent)[len(*sent)-1]
	assert.Equal(t, "c", last.cmd)
	frames, err := protocol.DecodeChanges(last.body)
	assert.NoError(t, err)
	assert.Equal(t, int64(4), *frames[0].SourceVersion)
}

func TestChannelEnqueueRemoveCancelsPendingNonRemoveChange(t *testing.T) {
	c, _, _, _ := newTestChannel(t)
	makeReady(t, c)
	ctx := context.Background()

	// First change goes out immediately and sits Sent, blocking the queue.
	assert.NoError(t, c.Enqueue(ctx, "a", map[string]jsondiff.Value{"title": "v1"}))
	// Second change is queued behind it, still Pending.
	assert.NoError(t, c.Enqueue(ctx, "a", map[string]jsondiff.Value{"title": "v2"}))

	assert.NoError(t, c.EnqueueRemove(ctx, "a"))

	head, ok := c.queue.Front("a")
	assert.True(t, ok)
	assert.Equal(t, change.Sent, head.State)
	c.queue.PopFront("a")

	next, ok := c.queue.Front("a")
	assert.True(t, ok)
	assert.Nil(t, next.Ops)
	assert.Equal(t, change.Pending, next.State)
	c.queue.PopFront("a")

	_, ok = c.queue.Front("a")
	assert.False(t, ok)
}
