package bayeux

import "context"

// InboundHandler is invoked by a Transport for every message it receives
// that isn't a correlated response to an in-flight Send — server-pushed
// publishes and, for PollingTransport, advice-bearing connect responses
// that arrive after Send has already returned to its caller.
type InboundHandler func([]Message)

// Transport carries Bayeux messages between a Client and a server. A
// Client owns exactly one Transport at a time; FramedTransport and
// PollingTransport are the two implementations spec'd for this package,
// selected from the connection types the server advertises at handshake.
//
// Implementations are safe for concurrent Send calls but expect Connect
// and Disconnect to be called by a single coordinator, per spec §5.
type Transport interface {
	// Connect establishes whatever persistent resource the transport
	// needs before any message can be sent (FramedTransport's socket;
	// PollingTransport has none). It performs no Bayeux handshake of its
	// own.
	Connect(ctx context.Context) error

	// Disconnect releases the transport's resources. It does not send
	// a /meta/disconnect message; the Client does that over Send before
	// calling Disconnect.
	Disconnect(ctx context.Context) error

	// Send delivers msgs to the server and returns the batch of
	// messages the server sent back as their direct response. Messages
	// that arrive out of band are instead handed to the registered
	// InboundHandler.
	Send(ctx context.Context, msgs []Message) ([]Message, error)

	// SetInboundCallback registers the handler for unsolicited inbound
	// messages. It must be called before Connect.
	SetInboundCallback(handler InboundHandler)

	// ConnectionType identifies the transport for BuildConnect and for
	// the handshake's supportedConnectionTypes negotiation.
	ConnectionType() string
}
