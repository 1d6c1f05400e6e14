package bayeux

// Extension is the interface implemented by interceptors in the outbound
// and inbound message pipeline. Both hooks are optional in spirit — an
// extension that doesn't care about one direction can return the message
// unchanged — but both must be implemented to satisfy the interface; embed
// NoopExtension to get pass-through defaults.
//
// Outgoing is called for every message a Client is about to send, in
// registration order. Incoming is called for every message a Client
// receives, in reverse registration order. Either may return a mutated
// message, or nil to halt the pipeline: an outbound nil aborts the send and
// surfaces an error to the caller; an inbound nil silently drops the
// message from subscription dispatch.
type Extension interface {
	Outgoing(msg *Message) *Message
	Incoming(msg *Message) *Message
	Registered(extensionName string, client *Client)
	Unregistered()
}

// NoopExtension can be embedded by extensions that only care about one
// direction or the registration lifecycle.
type NoopExtension struct{}

func (NoopExtension) Outgoing(msg *Message) *Message { return msg }
func (NoopExtension) Incoming(msg *Message) *Message { return msg }
func (NoopExtension) Registered(string, *Client)     {}
func (NoopExtension) Unregistered()                  {}
