package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// transport owns the single duplex WebSocket connection. Writes come from
// several goroutines (the heartbeat loop and every Channel's send) and are
// serialized by writeMu; reads are delivered on a channel to the Client's
// dispatch loop.
type transport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	lines chan string
	errs  chan error
}

func dial(ctx context.Context, url string, header http.Header) (*transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, errors.Wrap(err, "client: dial")
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t := &transport{
		conn:  conn,
		lines: make(chan string, 256),
		errs:  make(chan error, 1),
	}
	go t.readLoop()
	return t, nil
}

func (t *transport) readLoop() {
	defer close(t.lines)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.errs <- err
			return
		}
		select {
		case t.lines <- string(data):
		default:
			// slow consumer: drop rather than block the socket reader.
		}
	}
}

// writeLine sends one frame line as a WebSocket text message.
func (t *transport) writeLine(line string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "client: set write deadline")
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return errors.Wrap(err, "client: write frame")
	}
	return nil
}

func (t *transport) close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	t.writeMu.Unlock()

	return t.conn.Close()
}
