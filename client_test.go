package bayeux_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/faye-go/bayeux"
	"github.com/faye-go/bayeux/internal/gobayeuxtest"
)

func newTestClient(t *testing.T, opts ...gobayeuxtest.ServerOpt) (*bayeux.Client, *gobayeuxtest.Server) {
	t.Helper()
	server := gobayeuxtest.NewServer(t, opts...)
	client, err := bayeux.NewClient(
		"https://example.com",
		bayeux.WithHTTPTransport(server),
		bayeux.WithTransportPreference(bayeux.ConnectionTypeLongPolling),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client, server
}

func TestNewClient(t *testing.T) {
	if _, err := bayeux.NewClient("https://example.com"); err != nil {
		t.Fatalf("expected NewClient to succeed, got %v", err)
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("expected Connect to succeed, got %v", err)
	}
	if got := client.State(); got != bayeux.StateConnected {
		t.Fatalf("expected state CONNECTED after Connect, got %s", got)
	}

	if err := client.Disconnect(ctx); err != nil {
		t.Fatalf("expected Disconnect to succeed, got %v", err)
	}
	if got := client.State(); got != bayeux.StateUnconnected {
		t.Fatalf("expected state UNCONNECTED after Disconnect, got %s", got)
	}
}

func TestConnectLoopDisconnectsOnStopAdvice(t *testing.T) {
	client, _ := newTestClient(t, gobayeuxtest.WithStopAfter(1))
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for client.State() != bayeux.StateUnconnected {
		select {
		case <-deadline:
			t.Fatalf("expected background connectLoop to disconnect on reconnect:none advice, state is still %s", client.State())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestConnectFailsOnHandshakeError(t *testing.T) {
	client, _ := newTestClient(t, gobayeuxtest.WithHandshakeError(true))
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to fail when the server rejects the handshake")
	}
}

func TestConnectFailsWithAuthenticationErrorOnAuthError(t *testing.T) {
	client, _ := newTestClient(t, gobayeuxtest.WithAuthError(true))
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect to fail when the server rejects authentication")
	}
	var authErr bayeux.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected an AuthenticationError, got %v (%T)", err, err)
	}
}

func TestSubscribeAndReceive(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect(ctx)

	received := make(chan bayeux.Message, 1)
	if err := client.Subscribe(ctx, "/foo/bar", func(msg bayeux.Message) {
		received <- msg
	}); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message on /foo/bar")
	}
}

func TestDoubleSubscribeFails(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect(ctx)

	noop := func(bayeux.Message) {}
	if err := client.Subscribe(ctx, "/foo/bar", noop); err != nil {
		t.Fatalf("first subscribe should succeed, got %v", err)
	}
	if err := client.Subscribe(ctx, "/foo/bar", noop); err == nil {
		t.Fatal("expected second subscribe to the same channel to fail")
	}
}

func TestSubscribeRejectsMetaChannel(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect(ctx)

	err := client.Subscribe(ctx, bayeux.MetaConnect, func(bayeux.Message) {})
	if err == nil {
		t.Fatal("expected subscribing to a meta channel to fail")
	}
}

func TestPublishBeforeConnectFails(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.Publish(context.Background(), "/foo/bar", map[string]string{"hello": "world"}); err == nil {
		t.Fatal("expected Publish before Connect to fail")
	}
}

func TestPublishRejectsUnserializablePayload(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect(ctx)

	err := client.Publish(ctx, "/foo/bar", make(chan int))
	if err == nil {
		t.Fatal("expected Publish with an unserializable payload to fail")
	}
}

// slowConnectRoundTripper answers /meta/handshake immediately with a short
// advice timeout, then stalls /meta/connect past that timeout, never
// returning until its request context is done.
type slowConnectRoundTripper struct {
	adviceTimeoutMillis int
	stall               time.Duration
}

func (rt slowConnectRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var sent []bayeux.Message
	if err := json.NewDecoder(req.Body).Decode(&sent); err != nil || len(sent) == 0 {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	switch sent[0].Channel {
	case bayeux.MetaHandshake:
		reply := []bayeux.Message{{
			Channel:        bayeux.MetaHandshake,
			ID:             sent[0].ID,
			ClientID:       "abc123",
			Successful:     true,
			AuthSuccessful: true,
			Advice:         &bayeux.Advice{Reconnect: bayeux.ReconnectRetry, Timeout: rt.adviceTimeoutMillis},
		}}
		return jsonReply(reply), nil
	default:
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(rt.stall):
			reply := []bayeux.Message{{Channel: bayeux.MetaConnect, ID: sent[0].ID, ClientID: "abc123", Successful: true}}
			return jsonReply(reply), nil
		}
	}
}

func jsonReply(msgs []bayeux.Message) *http.Response {
	body, _ := json.Marshal(msgs)
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     http.StatusText(http.StatusOK),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestConnectBoundsLongPollByAdviceTimeout(t *testing.T) {
	rt := slowConnectRoundTripper{adviceTimeoutMillis: 20, stall: 2 * time.Second}
	client, err := bayeux.NewClient(
		"https://example.com",
		bayeux.WithHTTPTransport(rt),
		bayeux.WithTransportPreference(bayeux.ConnectionTypeLongPolling),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	start := time.Now()
	err = client.Connect(context.Background())
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected Connect to fail when the connect request outlasts the advised timeout")
	}
	if elapsed > time.Second {
		t.Fatalf("expected Connect to fail close to the 20ms advised timeout, took %s", elapsed)
	}
}
