// Package client implements the multiplexer that owns one reconnecting
// duplex WebSocket connection and fans frames out to per-bucket Channels,
// with heartbeat and backoff (spec.md §4.5, C5).
package client

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/wezm/bucketsync/channel"
	"github.com/wezm/bucketsync/ghost"
	"github.com/wezm/bucketsync/protocol"
)

var logger = logging.Logger("bucketsync/client")

// DefaultHeartbeatPeriod is H in spec.md §4.5: the client writes a
// heartbeat every H seconds and disconnects after 3H of server silence.
const DefaultHeartbeatPeriod = 20 * time.Second

// EventKind discriminates Client-level lifecycle events.
type EventKind int

const (
	EventReconnect EventKind = iota
	EventConnected
)

// Event is one Client-level lifecycle notification.
type Event struct {
	Kind    EventKind
	Attempt int
	Err     error
}

// Option configures a Client at construction (functional-options, matching
// the rest of this module's config surface).
type Option func(*Client)

// WithHeartbeatPeriod overrides DefaultHeartbeatPeriod.
func WithHeartbeatPeriod(d time.Duration) Option {
	return func(c *Client) { c.heartbeatPeriod = d }
}

// WithHeader sets additional HTTP headers sent on the WebSocket upgrade
// (e.g. an Authorization bearer token).
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

type registration struct {
	index   int
	channel *channel.Channel
}

// Client is the connection multiplexer. One Client serves one application
// process; it owns every registered Channel (spec.md §9 Cyclic references).
type Client struct {
	mu sync.Mutex

	url      string
	clientID string
	appID    string
	header   http.Header

	heartbeatPeriod time.Duration
	lastHeartbeat   time.Time

	channels  map[string]*registration
	nextIndex int

	backoff   backoff
	transport *transport

	events chan Event
}

// New returns a Client that has not yet connected; call Run to start it.
// wsURL may be given as http(s) or ws(s); it is normalized to ws(s).
func New(wsURL, clientID, appID string, opts ...Option) (*Client, error) {
	normalized, err := buildURL(wsURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		url:             normalized,
		clientID:        clientID,
		appID:           appID,
		heartbeatPeriod: DefaultHeartbeatPeriod,
		channels:        make(map[string]*registration),
		events:          make(chan Event, 16),
		nextIndex:       1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Events returns the client's lifecycle event stream.
func (c *Client) Events() <-chan Event { return c.events }

// NewChannel registers a Channel for bucket and returns it. Call before Run.
func (c *Client) NewChannel(bucket, token string, ghosts ghost.Store, store channel.BucketStore) *channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	index := c.nextIndex
	c.nextIndex++

	ch := channel.New(channel.Config{
		Bucket:   bucket,
		ClientID: c.clientID,
		AppID:    c.appID,
		Token:    token,
		Ghosts:   ghosts,
		Store:    store,
		Send: func(cmd, body string) error {
			return c.sendFrame(index, cmd, body)
		},
	})

	c.channels[bucket] = &registration{index: index, channel: ch}
	return ch
}

func (c *Client) sendFrame(index int, cmd, body string) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return errors.New("client: not connected")
	}
	return t.writeLine(protocol.EncodeChannelFrame(index, cmd, body))
}

// Run drives the connect/dispatch/reconnect loop until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t, err := dial(ctx, c.url, c.header)
		if err != nil {
			c.emitReconnect()
			if !c.sleepBackoff(ctx) {
				return ctx.Err()
			}
			continue
		}

		c.mu.Lock()
		c.transport = t
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()
		c.backoff.reset()
		c.events <- Event{Kind: EventConnected}

		for _, reg := range c.snapshotRegistrations() {
			if err := reg.channel.Reset(ctx); err != nil {
				logger.Warnf("channel reset failed: %v", err)
			}
		}

		runCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); c.heartbeatLoop(runCtx, t) }()
		go func() { defer wg.Done(); c.watchdogLoop(runCtx, cancel) }()

		c.dispatchLoop(runCtx, t)
		cancel()
		wg.Wait()
		t.close()

		c.mu.Lock()
		c.transport = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.emitReconnect()
		if !c.sleepBackoff(ctx) {
			return ctx.Err()
		}
	}
}

func (c *Client) snapshotRegistrations() []*registration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*registration, 0, len(c.channels))
	for _, reg := range c.channels {
		out = append(out, reg)
	}
	return out
}

func (c *Client) emitReconnect() {
	attempt := c.backoff.currentAttempt() + 1
	select {
	case c.events <- Event{Kind: EventReconnect, Attempt: attempt}:
	default:
	}
}

func (c *Client) sleepBackoff(ctx context.Context) bool {
	select {
	case <-time.After(c.backoff.next()):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, t *transport) {
	ticker := time.NewTicker(c.heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.writeLine(protocol.EncodeHeartbeat()); err != nil {
				logger.Warnf("heartbeat write failed: %v", err)
				return
			}
		}
	}
}

func (c *Client) watchdogLoop(ctx context.Context, disconnect context.CancelFunc) {
	timeout := 3 * c.heartbeatPeriod
	ticker := time.NewTicker(c.heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			last := c.lastHeartbeat
			c.mu.Unlock()
			if time.Since(last) > timeout {
				logger.Warnf("no server heartbeat within %s, disconnecting", timeout)
				disconnect()
				return
			}
		}
	}
}

func (c *Client) dispatchLoop(ctx context.Context, t *transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-t.lines:
			if !ok {
				return
			}
			c.handleLine(ctx, line)
		}
	}
}

func (c *Client) handleLine(ctx context.Context, line string) {
	frame, err := protocol.DecodeFrame(line)
	if err != nil {
		logger.Warnf("malformed frame: %v", err)
		return
	}

	if frame.Heartbeat {
		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()
		return
	}

	reg := c.registrationByIndex(frame.Channel)
	if reg == nil {
		logger.Warnf("frame for unregistered channel %d", frame.Channel)
		return
	}

	switch frame.Cmd {
	case "auth":
		if frame.Body == "expired" {
			reg.channel.HandleUnauthorized()
			return
		}
		if err := reg.channel.HandleAuth(frame.Body); err != nil {
			logger.Warnf("handle auth failed: %v", err)
		}
	case "i":
		idx, err := protocol.DecodeIndex(frame.Body)
		if err != nil {
			logger.Warnf("malformed index frame: %v", err)
			return
		}
		if err := reg.channel.HandleIndexFrame(ctx, idx); err != nil {
			logger.Warnf("handle index failed: %v", err)
		}
	case "c":
		changes, err := protocol.DecodeChanges(frame.Body)
		if err != nil {
			logger.Warnf("malformed change frame: %v", err)
			return
		}
		for _, cf := range changes {
			if err := reg.channel.HandleChangeFrame(ctx, cf); err != nil {
				logger.Warnf("handle change failed: %v", err)
			}
		}
	case "e":
		entity, err := protocol.DecodeEntityResponse(frame.Body)
		if err != nil {
			logger.Warnf("malformed entity frame: %v", err)
			return
		}
		if err := reg.channel.HandleEntityFrame(ctx, entity); err != nil {
			logger.Warnf("handle entity failed: %v", err)
		}
	default:
		logger.Debugf("unhandled sub-command %q on channel %d", frame.Cmd, frame.Channel)
	}
}

func (c *Client) registrationByIndex(index int) *registration {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, reg := range c.channels {
		if reg.index == index {
			return reg
		}
	}
	return nil
}

// buildURL normalizes an http(s) URL to its ws(s) equivalent, matching the
// scheme-rewrite the teacher's WebSocket client performs.
func buildURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrap(err, "client: invalid url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("client: unsupported url scheme %q", u.Scheme)
	}
	return u.String(), nil
}
