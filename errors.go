package bayeux

import (
	"fmt"
	"strings"
)

type sentinel string

func (s sentinel) Error() string { return string(s) }

// Client and protocol sentinel errors.
const (
	ErrClientNotConnected         = sentinel("client not connected to server")
	ErrTooManyMessages            = sentinel("more messages than expected in handshake response")
	ErrBadChannel                 = sentinel("handshake responses must come back via the /meta/handshake channel")
	ErrFailedToConnect            = sentinel("connect request was not successful")
	ErrNoSupportedConnectionTypes = sentinel("no supported connection types provided")
	ErrNoVersion                  = sentinel("no version specified")
	ErrMissingClientID            = sentinel("missing clientID value")
	ErrMissingConnectionType      = sentinel("missing connectionType value")
	ErrNoUsableTransport          = sentinel("server does not support either of the client's transports")
	ErrPayloadNotSerializable     = sentinel("publish payload is not JSON-serializable")
	ErrExtensionHalted            = sentinel("extension pipeline halted the message")
)

// Channel-validation sentinel errors (spec §8 invariant 4: the exact
// rejection set).
const (
	ErrEmptyChannel           = sentinel("channel is empty")
	ErrChannelNoLeadingSlash  = sentinel("channel must start with '/'")
	ErrChannelEmptySegment    = sentinel("channel has an empty segment")
	ErrChannelBadWildcard     = sentinel("wildcards may only appear as an entire segment, and '**' only as the last one")
	ErrCannotSubscribeMeta    = sentinel("cannot subscribe to meta channels")
	ErrCannotSubscribeService = sentinel("cannot subscribe to service channels")
	ErrCannotPublishMeta      = sentinel("cannot publish to meta channels")
	ErrCannotPublishService   = sentinel("cannot publish to service channels")
)

// ValidationError reports a channel or payload that failed validation
// before any I/O was attempted.
type ValidationError struct {
	Op      string
	Channel Channel
	Err     error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Op, e.Channel, e.Err)
}

func (e ValidationError) Unwrap() error { return e.Err }

// HandshakeError is returned when a handshake response arrives on the wrong
// channel, is missing a clientId, or is unsuccessful for a reason other than
// an authentication failure (which is an AuthenticationError instead).
type HandshakeError struct {
	Err error
}

func (e HandshakeError) Error() string { return fmt.Sprintf("handshake failed: %s", e.Err) }
func (e HandshakeError) Unwrap() error { return e.Err }

func newHandshakeError(msg string) *HandshakeError {
	if msg == "" {
		msg = "no error message provided"
	}
	return &HandshakeError{fmt.Errorf("handshake was not successful: %s", msg)}
}

// TransportError wraps a failure from the wire: open/close failures, write
// failures, receive failures, malformed frames, and request timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string { return fmt.Sprintf("transport %s: %s", e.Op, e.Err) }
func (e TransportError) Unwrap() error { return e.Err }

// AuthenticationError is surfaced when the server reports an authentication
// failure on an unsuccessful handshake — a Bayeux error code 401, or an
// auth_error field in the response's ext — or when an authenticating
// RoundTripper refuses a request.
type AuthenticationError struct {
	Reason string
}

func (e AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// FayeError pairs an operation name with a non-successful server response to
// Subscribe, Unsubscribe, or Publish, or with a transport failure during
// Publish. Subscribe and Unsubscribe return it, or a transport failure, inside
// a SubscriptionFailedError or UnsubscribeFailedError, without a FayeError
// around the transport failure; validation errors are returned unwrapped.
type FayeError struct {
	Op  string
	Err error
}

func (e FayeError) Error() string { return fmt.Sprintf("faye: %s: %s", e.Op, e.Err) }
func (e FayeError) Unwrap() error { return e.Err }

// SubscriptionFailedError is returned for any errors on Subscribe.
type SubscriptionFailedError struct {
	Channels []Channel
	Err      error
}

func (e SubscriptionFailedError) Error() string {
	return fmt.Sprintf("subscription failed (%s)", e.Err)
}
func (e SubscriptionFailedError) Unwrap() error { return e.Err }

// UnsubscribeFailedError is returned for any errors on Unsubscribe.
type UnsubscribeFailedError struct {
	Channels []Channel
	Err      error
}

func (e UnsubscribeFailedError) Error() string {
	return fmt.Sprintf("unsubscribe failed (%s)", e.Err)
}
func (e UnsubscribeFailedError) Unwrap() error { return e.Err }

// DisconnectFailedError is returned when the call to Disconnect fails.
type DisconnectFailedError struct {
	Err error
}

func (e DisconnectFailedError) Error() string {
	msg := "unable to disconnect from Bayeux server"
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s (%s)", msg, e.Err)
}
func (e DisconnectFailedError) Unwrap() error { return e.Err }

func newSubscribeError(msg string) *FayeError {
	return &FayeError{Op: "subscribe", Err: fmt.Errorf("%s", msg)}
}

func newUnsubscribeError(msg string) *FayeError {
	return &FayeError{Op: "unsubscribe", Err: fmt.Errorf("%s", msg)}
}

// AlreadyRegisteredError signifies that the given Extension is already
// registered with the pipeline.
type AlreadyRegisteredError struct {
	Extension
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("extension already registered: %v", e.Extension)
}

// BadResponseError is returned when we get an unexpected HTTP response from
// the server.
type BadResponseError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e BadResponseError) Error() string {
	return fmt.Sprintf(
		"expected 200 response from bayeux server, got %d with status %q and body %q",
		e.StatusCode, e.Status, e.Body,
	)
}

// BadConnectionTypeError is returned when we don't know how to handle the
// requested connection type.
type BadConnectionTypeError struct {
	ConnectionType string
}

func (e BadConnectionTypeError) Error() string {
	return fmt.Sprintf("%q is not a valid connection type", e.ConnectionType)
}

// BadConnectionVersionError is returned when we can't support the requested
// version number.
type BadConnectionVersionError struct {
	Version string
}

func (e BadConnectionVersionError) Error() string {
	return fmt.Sprintf("version %q is invalid for Bayeux protocol", e.Version)
}

// ErrMessageUnparsable is returned when we fail to parse a message.
type ErrMessageUnparsable string

func (e ErrMessageUnparsable) Error() string {
	return fmt.Sprintf("error message not parseable: %s", string(e))
}

// BadStateError is returned when a ClientStateMachine transition is not
// valid from its current state.
type BadStateError struct {
	CurrentState ClientState
	FromState    ClientState
	ToState      ClientState
	Message      string
}

func (e BadStateError) Error() string {
	return fmt.Sprintf("%s (current: %s, from: %s, to: %s)", e.Message, e.CurrentState, e.FromState, e.ToState)
}

// UnknownEventTypeError is returned when a state machine event is
// unrecognized.
type UnknownEventTypeError struct {
	Event string
}

func (e UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type (%q)", e.Event)
}

// errorKind classifies a Bayeux wire error string of the form
// "<code>:<arg1>:...:<reason>" (spec §6). The code table is intentionally
// partial — extend it as new codes are observed from a target server.
type errorKind string

const (
	errorKindUnauthorized     errorKind = "unauthorized"
	errorKindForbidden        errorKind = "forbidden"
	errorKindInvalidChannel   errorKind = "invalid_channel"
	errorKindConnectionFailed errorKind = "connection_failed"
	errorKindSessionExpired   errorKind = "session_expired"
	errorKindUnknown          errorKind = "unknown"
)

var errorCodeKinds = map[string]errorKind{
	"401": errorKindUnauthorized,
	"403": errorKindForbidden,
	"405": errorKindInvalidChannel,
	"409": errorKindConnectionFailed,
	"410": errorKindSessionExpired,
}

// classifyError parses a Bayeux error string's leading "<code>:" component
// and maps it to an errorKind, or errorKindUnknown if the code is
// unrecognized or absent.
func classifyError(wireError string) errorKind {
	code, _, found := strings.Cut(wireError, ":")
	if !found {
		return errorKindUnknown
	}
	if kind, ok := errorCodeKinds[code]; ok {
		return kind
	}
	return errorKindUnknown
}
