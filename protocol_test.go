package bayeux

import (
	"errors"
	"testing"
)

func TestBuildHandshakeDefaultsConnectionTypes(t *testing.T) {
	p := NewProtocol(nil)
	msg, err := p.BuildHandshake(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Channel != MetaHandshake {
		t.Fatalf("expected channel %s, got %s", MetaHandshake, msg.Channel)
	}
	if len(msg.SupportedConnectionTypes) == 0 {
		t.Fatal("expected default connection types to be set")
	}
}

func TestBuildHandshakeRejectsUnknownConnectionType(t *testing.T) {
	p := NewProtocol(nil)
	if _, err := p.BuildHandshake(nil, []string{"carrier-pigeon"}); err == nil {
		t.Fatal("expected an error for an unknown connection type")
	}
}

func TestProcessHandshakeResponseSuccess(t *testing.T) {
	p := NewProtocol(nil)
	reply := Message{
		Channel:                  MetaHandshake,
		Successful:               true,
		ClientID:                 "abc123",
		SupportedConnectionTypes: []string{"WEBSOCKET"},
		Advice:                   &Advice{Reconnect: ReconnectRetry, Interval: 500},
	}
	if err := p.ProcessHandshakeResponse(reply); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.IsHandshaken() {
		t.Fatal("expected protocol to be handshaken")
	}
	if p.ClientID() != "abc123" {
		t.Fatalf("expected clientId abc123, got %s", p.ClientID())
	}
	if got := p.SupportedConnectionTypes(); len(got) != 1 || got[0] != "websocket" {
		t.Fatalf("expected lowercased connection types, got %v", got)
	}
}

func TestProcessHandshakeResponseFailure(t *testing.T) {
	p := NewProtocol(nil)
	reply := Message{Channel: MetaHandshake, Successful: false, Error: "403::denied"}
	if err := p.ProcessHandshakeResponse(reply); err == nil {
		t.Fatal("expected an error for an unsuccessful handshake")
	}
	if p.IsHandshaken() {
		t.Fatal("expected protocol to remain unhandshaken")
	}
}

func TestProcessHandshakeResponseUnauthorizedRaisesAuthenticationError(t *testing.T) {
	p := NewProtocol(nil)
	reply := Message{Channel: MetaHandshake, Successful: false, Error: "401::authentication failed"}
	err := p.ProcessHandshakeResponse(reply)
	var authErr AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected an AuthenticationError, got %v (%T)", err, err)
	}
}

func TestProcessHandshakeResponseWrongChannel(t *testing.T) {
	p := NewProtocol(nil)
	if err := p.ProcessHandshakeResponse(Message{Channel: "/meta/connect", Successful: true}); err == nil {
		t.Fatal("expected an error for a handshake response on the wrong channel")
	}
}

func TestBuildConnectRequiresHandshake(t *testing.T) {
	p := NewProtocol(nil)
	if _, err := p.BuildConnect(ConnectionTypeWebsocket); err != ErrClientNotConnected {
		t.Fatalf("expected ErrClientNotConnected, got %v", err)
	}
}

func TestBuildSubscribeRejectsMetaChannel(t *testing.T) {
	p := NewProtocol(nil)
	if err := p.ProcessHandshakeResponse(Message{Channel: MetaHandshake, Successful: true, ClientID: "abc"}); err != nil {
		t.Fatalf("unexpected handshake error: %v", err)
	}
	if _, err := p.BuildSubscribe(MetaConnect); err == nil {
		t.Fatal("expected an error subscribing to a meta channel")
	}
}

func TestBuildPublishRejectsMetaChannel(t *testing.T) {
	p := NewProtocol(nil)
	if err := p.ProcessHandshakeResponse(Message{Channel: MetaHandshake, Successful: true, ClientID: "abc"}); err != nil {
		t.Fatalf("unexpected handshake error: %v", err)
	}
	if _, err := p.BuildPublish(MetaConnect, nil); err == nil {
		t.Fatal("expected an error publishing to a meta channel")
	}
}

func TestResetClearsSession(t *testing.T) {
	p := NewProtocol(nil)
	if err := p.ProcessHandshakeResponse(Message{Channel: MetaHandshake, Successful: true, ClientID: "abc"}); err != nil {
		t.Fatalf("unexpected handshake error: %v", err)
	}
	p.Reset()
	if p.IsHandshaken() || p.ClientID() != "" {
		t.Fatal("expected Reset to clear handshake state")
	}
}
