package bayeux

import (
	"encoding/json"
	"strings"
	"sync"
)

const bayeuxVersion = "1.0"

// Protocol is the pure Bayeux session state machine: it builds outbound
// request messages and processes server responses, tracking the session id
// and merged server advice. It performs no I/O of its own; a Transport
// carries the messages it builds, and a Client feeds it the responses.
//
// Protocol is single-writer for its own mutable fields — callers (in
// practice, a single Client) must serialize calls to it, per spec §5's
// single-coordinator requirement. The mutex here is a defense-in-depth
// measure, not a substitute for that discipline.
type Protocol struct {
	validator Validator
	logger    Logger

	mu                       sync.RWMutex
	clientID                 string
	supportedConnectionTypes []string
	advice                   *Advice
	handshaken               bool
}

// NewProtocol creates a Protocol with no active session.
func NewProtocol(logger Logger) *Protocol {
	if logger == nil {
		logger = newNullLogger()
	}
	return &Protocol{logger: logger}
}

// ClientID returns the current session id, or "" if unhandshaken.
func (p *Protocol) ClientID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clientID
}

// IsHandshaken reports whether a handshake has completed successfully and
// not since been Reset.
func (p *Protocol) IsHandshaken() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handshaken
}

// SupportedConnectionTypes returns the connection types the server
// negotiated at handshake.
func (p *Protocol) SupportedConnectionTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.supportedConnectionTypes...)
}

// CurrentAdvice returns the merged advice record.
func (p *Protocol) CurrentAdvice() *Advice {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.advice
}

// BuildHandshake returns a /meta/handshake request. connTypes defaults to
// ["websocket", "long-polling"] when nil.
func (p *Protocol) BuildHandshake(ext map[string]interface{}, connTypes []string) (Message, error) {
	if connTypes == nil {
		connTypes = append([]string(nil), defaultConnectionTypes...)
	}
	if len(connTypes) == 0 {
		return Message{}, ErrNoSupportedConnectionTypes
	}
	for _, ct := range connTypes {
		if !isKnownConnectionType(ct) {
			return Message{}, BadConnectionTypeError{ct}
		}
	}

	return Message{
		Channel:                  MetaHandshake,
		ID:                       newMessageID(),
		Version:                  bayeuxVersion,
		MinimumVersion:           bayeuxVersion,
		SupportedConnectionTypes: connTypes,
		Ext:                      ext,
	}, nil
}

// ProcessHandshakeResponse validates a /meta/handshake response and, on
// success, stores the new session id, negotiated connection types, and
// advice, marking the protocol handshaken.
func (p *Protocol) ProcessHandshakeResponse(msg Message) error {
	if msg.Channel != MetaHandshake {
		return &HandshakeError{ErrBadChannel}
	}
	if !msg.Successful {
		if classifyError(msg.Error) == errorKindUnauthorized || msg.Ext["auth_error"] != nil {
			return AuthenticationError{Reason: msg.Error}
		}
		return newHandshakeError(msg.Error)
	}
	if msg.ClientID == "" {
		return newHandshakeError("handshake response missing clientId")
	}

	connTypes := msg.SupportedConnectionTypes
	if len(connTypes) == 0 {
		connTypes = append([]string(nil), defaultConnectionTypes...)
	} else {
		connTypes = lowercaseAll(connTypes)
	}

	p.mu.Lock()
	p.clientID = msg.ClientID
	p.supportedConnectionTypes = connTypes
	p.advice = p.advice.Merge(msg.Advice)
	p.handshaken = true
	p.mu.Unlock()

	p.logger.WithField("clientId", msg.ClientID).Debug("handshake succeeded")
	return nil
}

// BuildConnect returns a /meta/connect request for the given negotiated
// connection type.
func (p *Protocol) BuildConnect(connType string) (Message, error) {
	if !p.IsHandshaken() {
		return Message{}, ErrClientNotConnected
	}
	if connType == "" {
		return Message{}, ErrMissingConnectionType
	}

	return Message{
		Channel:        MetaConnect,
		ID:             newMessageID(),
		ClientID:       p.ClientID(),
		ConnectionType: connType,
		Advice:         p.CurrentAdvice(),
	}, nil
}

// BuildSubscribe returns a /meta/subscribe request for channel, after
// validating it under the subscribe profile.
func (p *Protocol) BuildSubscribe(channel Channel) (Message, error) {
	if !p.IsHandshaken() {
		return Message{}, ErrClientNotConnected
	}
	if err := p.validator.ValidateForSubscribe(channel); err != nil {
		return Message{}, ValidationError{Op: "subscribe", Channel: channel, Err: err}
	}
	return Message{
		Channel:      MetaSubscribe,
		ID:           newMessageID(),
		ClientID:     p.ClientID(),
		Subscription: channel,
	}, nil
}

// BuildUnsubscribe returns a /meta/unsubscribe request for channel.
func (p *Protocol) BuildUnsubscribe(channel Channel) (Message, error) {
	if !p.IsHandshaken() {
		return Message{}, ErrClientNotConnected
	}
	if err := p.validator.ValidateForSubscribe(channel); err != nil {
		return Message{}, ValidationError{Op: "unsubscribe", Channel: channel, Err: err}
	}
	return Message{
		Channel:      MetaUnsubscribe,
		ID:           newMessageID(),
		ClientID:     p.ClientID(),
		Subscription: channel,
	}, nil
}

// BuildPublish returns a data-carrying request on channel, after validating
// it under the publish profile.
func (p *Protocol) BuildPublish(channel Channel, data json.RawMessage) (Message, error) {
	if !p.IsHandshaken() {
		return Message{}, ErrClientNotConnected
	}
	if err := p.validator.ValidateForPublish(channel); err != nil {
		return Message{}, ValidationError{Op: "publish", Channel: channel, Err: err}
	}
	return Message{
		Channel:  channel,
		ID:       newMessageID(),
		ClientID: p.ClientID(),
		Data:     data,
	}, nil
}

// BuildDisconnect returns a /meta/disconnect request.
func (p *Protocol) BuildDisconnect() (Message, error) {
	if !p.IsHandshaken() {
		return Message{}, ErrClientNotConnected
	}
	return Message{
		Channel:  MetaDisconnect,
		ID:       newMessageID(),
		ClientID: p.ClientID(),
	}, nil
}

// ProcessAdvice merges advice into the protocol's advice record. It is safe
// to call with nil, a no-op.
func (p *Protocol) ProcessAdvice(advice *Advice) {
	if advice == nil {
		return
	}
	p.mu.Lock()
	p.advice = p.advice.Merge(advice)
	p.mu.Unlock()
}

// Reset clears the session id, handshake flag, supported types, and
// advice, returning the protocol to its initial state.
func (p *Protocol) Reset() {
	p.mu.Lock()
	p.clientID = ""
	p.supportedConnectionTypes = nil
	p.advice = nil
	p.handshaken = false
	p.mu.Unlock()
}

func lowercaseAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
