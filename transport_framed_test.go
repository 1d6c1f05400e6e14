package bayeux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newFramedTestServer starts a local WebSocket echo-style server that
// replies to every batch it receives with a successful response for each
// message, preserving ids for correlation. It returns the server and its
// ws:// URL.
func newFramedTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgs, err := unmarshalBatch(raw)
			if err != nil {
				continue
			}

			replies := make([]Message, 0, len(msgs))
			for _, msg := range msgs {
				replies = append(replies, Message{
					Channel:    msg.Channel,
					ID:         msg.ID,
					ClientID:   "abc123",
					Successful: true,
				})
			}
			out, err := marshalBatch(replies)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	return server, url
}

func TestFramedTransportSendCorrelatesResponse(t *testing.T) {
	server, url := newFramedTestServer(t)
	defer server.Close()

	transport, err := NewFramedTransport(url)
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer transport.Disconnect(ctx)

	reply, err := transport.Send(ctx, []Message{{Channel: MetaHandshake, ID: "1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reply) != 1 || reply[0].ClientID != "abc123" {
		t.Fatalf("expected a correlated reply, got %v", reply)
	}
}

func TestFramedTransportConnectionType(t *testing.T) {
	transport, err := NewFramedTransport("ws://example.com")
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}
	if transport.ConnectionType() != ConnectionTypeWebsocket {
		t.Fatalf("expected %s, got %s", ConnectionTypeWebsocket, transport.ConnectionType())
	}
}
