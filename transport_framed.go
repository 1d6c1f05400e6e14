package bayeux

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const framedSubprotocol = "faye-websocket"

// Heartbeat tuning: a ping is written well inside the read deadline the
// pong handler keeps refreshing, so a silently-dropped connection (an
// idle load balancer closing the TCP stream without a close frame, for
// instance) is noticed once framedPongWait passes without a pong rather
// than only when the next Send happens to be attempted.
const (
	framedPingPeriod = 25 * time.Second
	framedPongWait   = 60 * time.Second
	framedWriteWait  = 10 * time.Second
)

// FramedTransport carries Bayeux messages over a single persistent
// WebSocket connection. Every Send writes a batch and correlates the
// server's response by matching message ids in the read loop; any
// message that doesn't match an id a Send is waiting on is handed to
// the InboundHandler instead.
type FramedTransport struct {
	serverAddress *url.URL
	dialTimeout   time.Duration

	mu   sync.Mutex
	conn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan Message

	handler InboundHandler

	done chan struct{}
}

// NewFramedTransport creates a FramedTransport dialing serverAddress.
func NewFramedTransport(serverAddress string) (*FramedTransport, error) {
	parsed, err := url.Parse(serverAddress)
	if err != nil {
		return nil, err
	}
	return &FramedTransport{
		serverAddress: parsed,
		dialTimeout:   10 * time.Second,
		pending:       make(map[string]chan Message),
	}, nil
}

// ConnectionType identifies this transport for handshake negotiation.
func (t *FramedTransport) ConnectionType() string {
	return ConnectionTypeWebsocket
}

// SetInboundCallback registers handler for unsolicited inbound messages.
// Must be called before Connect.
func (t *FramedTransport) SetInboundCallback(handler InboundHandler) {
	t.handler = handler
}

// Connect dials the WebSocket and starts the background read loop that
// demultiplexes responses from server pushes.
func (t *FramedTransport) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = []string{framedSubprotocol}

	conn, _, err := dialer.DialContext(dialCtx, t.serverAddress.String(), nil)
	if err != nil {
		return TransportError{Op: "connect", Err: err}
	}

	conn.SetReadDeadline(time.Now().Add(framedPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(framedPongWait))
		return nil
	})

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.done = make(chan struct{})
	go t.readLoop()
	go t.heartbeat(t.done)
	return nil
}

// Disconnect closes the underlying connection and stops the read loop.
func (t *FramedTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if t.done != nil {
		close(t.done)
	}
	return conn.Close()
}

// Send writes msgs as a single JSON frame and waits for the correlated
// response. Only the first message's id is used for correlation, which
// is sufficient for the single-request batches a Client builds.
func (t *FramedTransport) Send(ctx context.Context, msgs []Message) ([]Message, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrClientNotConnected
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	id := msgs[0].ID
	waiter := make(chan Message, 1)
	t.pendingMu.Lock()
	t.pending[id] = waiter
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	t.mu.Lock()
	err := conn.WriteJSON(msgs)
	t.mu.Unlock()
	if err != nil {
		return nil, TransportError{Op: "send", Err: err}
	}

	select {
	case msg := <-waiter:
		return []Message{msg}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop reads frames off the connection for the lifetime of Connect,
// routing each message to either a waiting Send or the InboundHandler.
// It must be the sole reader of the connection.
func (t *FramedTransport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msgs, err := unmarshalBatch(raw)
		if err != nil {
			continue
		}
		t.dispatch(msgs)
	}
}

// heartbeat writes a ping control frame every framedPingPeriod until done
// is closed or the connection is gone, keeping the pong handler's read
// deadline refreshed.
func (t *FramedTransport) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(framedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.mu.Lock()
			conn := t.conn
			if conn == nil {
				t.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(framedWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *FramedTransport) dispatch(msgs []Message) {
	var unsolicited []Message
	for _, msg := range msgs {
		t.pendingMu.Lock()
		waiter, ok := t.pending[msg.ID]
		t.pendingMu.Unlock()
		if ok {
			waiter <- msg
			continue
		}
		unsolicited = append(unsolicited, msg)
	}
	if len(unsolicited) > 0 && t.handler != nil {
		t.handler(unsolicited)
	}
}
