package bayeux

import "encoding/json"

// Message is the atomic unit of the Bayeux protocol: a single entry in the
// JSON array that is always exchanged on the wire, even for a one-message
// batch.
//
// See also: https://docs.cometd.org/current/reference/#_messages
type Message struct {
	// Channel is the channel this message was sent on or is targeted at.
	// Required, absolute path, immutable once set.
	Channel Channel `json:"channel"`

	// ID is a client-assigned correlation identifier, unique per outbound
	// request. Every outbound request carries one; the matching response
	// echoes it back.
	ID string `json:"id,omitempty"`

	// ClientID identifies the server-issued session. Present on every
	// outbound message except handshake.
	ClientID string `json:"clientId,omitempty"`

	// Subscription names the channel targeted by a subscribe/unsubscribe
	// request or response.
	Subscription Channel `json:"subscription,omitempty"`

	// Data is the publish payload, an arbitrary JSON value. Kept as raw
	// JSON so extensions and callers can decode it into whatever shape
	// they expect without the library imposing a schema.
	Data json.RawMessage `json:"data,omitempty"`

	// Successful is the server's result indicator on meta responses.
	Successful bool `json:"successful,omitempty"`

	// Error is a Bayeux-formatted error string: "<code>:<args>:<reason>".
	Error string `json:"error,omitempty"`

	// Advice carries the server's reconnection guidance.
	Advice *Advice `json:"advice,omitempty"`

	// Ext is an extension-owned sub-document; extensions are free to add
	// and read arbitrary keys here.
	Ext map[string]interface{} `json:"ext,omitempty"`

	// Version and MinimumVersion are handshake protocol-version fields.
	Version        string `json:"version,omitempty"`
	MinimumVersion string `json:"minimumVersion,omitempty"`

	// SupportedConnectionTypes is the handshake connection-type
	// negotiation field.
	SupportedConnectionTypes []string `json:"supportedConnectionTypes,omitempty"`

	// ConnectionType is present on connect messages.
	ConnectionType string `json:"connectionType,omitempty"`

	// Timestamp, Timeout, and Interval are informational fields echoed in
	// advice or handshake/connect exchanges.
	Timestamp string `json:"timestamp,omitempty"`
	Timeout   int    `json:"timeout,omitempty"`
	Interval  int    `json:"interval,omitempty"`

	// AuthSuccessful is a de-facto extension field some Bayeux servers
	// (e.g. Salesforce) set on /meta/handshake responses.
	AuthSuccessful bool `json:"authSuccessful,omitempty"`
}

// GetExt returns the message's Ext map. If create is true and Ext is nil,
// a new map is allocated, stored on the message, and returned, so callers
// (typically extensions) can unconditionally write into the result.
func (m *Message) GetExt(create bool) map[string]interface{} {
	if m.Ext == nil && create {
		m.Ext = make(map[string]interface{})
	}
	return m.Ext
}

// IsMeta reports whether the message is on a /meta/* channel.
func (m Message) IsMeta() bool { return m.Channel.Type() == MetaChannel }

// IsService reports whether the message is on a /service/* channel.
func (m Message) IsService() bool { return m.Channel.Type() == ServiceChannel }

// IsHandshake reports whether the message is a /meta/handshake message.
func (m Message) IsHandshake() bool { return m.Channel == MetaHandshake }

// IsConnect reports whether the message is a /meta/connect message.
func (m Message) IsConnect() bool { return m.Channel == MetaConnect }

// IsSubscribe reports whether the message is a /meta/subscribe message.
func (m Message) IsSubscribe() bool { return m.Channel == MetaSubscribe }

// IsUnsubscribe reports whether the message is a /meta/unsubscribe message.
func (m Message) IsUnsubscribe() bool { return m.Channel == MetaUnsubscribe }

// IsDisconnect reports whether the message is a /meta/disconnect message.
func (m Message) IsDisconnect() bool { return m.Channel == MetaDisconnect }

// IsError reports whether the server attached an error string to m.
func (m Message) IsError() bool { return m.Error != "" }

// batch is the wire representation: always a JSON array, even for a single
// message. Bayeux servers are, however, permitted to reply with a bare
// JSON object for a single message, so unmarshalBatch accepts both shapes.
func unmarshalBatch(raw []byte) ([]Message, error) {
	var messages []Message
	if err := json.Unmarshal(raw, &messages); err == nil {
		return messages, nil
	}

	var single Message
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, ErrMessageUnparsable(err.Error())
	}
	return []Message{single}, nil
}

func marshalBatch(messages []Message) ([]byte, error) {
	return json.Marshal(messages)
}
