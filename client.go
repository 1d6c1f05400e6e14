package bayeux

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// IgnoreErrorFunc is a callback function that inspects an error and
// determines if it can be safely ignored when subscribing and
// unsubscribing: a true return updates the subscription registry as though
// the request had succeeded and lets the caller proceed.
type IgnoreErrorFunc func(error) bool

// Options stores the configuration a Client is built from.
type Options struct {
	Logger              Logger
	HTTPClient          *http.Client
	HTTPTransport       http.RoundTripper
	TransportPreference []string
	RequestTimeout      time.Duration
	IgnoreError         IgnoreErrorFunc
	Extensions          []Extension
}

// Option configures a Client at construction time.
type Option func(*Options)

// WithLogger sets the Logger implementation a Client reports through.
func WithLogger(logger Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithFieldLogger adapts a logrus.FieldLogger for use as a Client's Logger.
func WithFieldLogger(logger logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = &wrappedFieldLogger{logger} }
}

// WithHTTPClient supplies the *http.Client PollingTransport uses.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Options) { o.HTTPClient = client }
}

// WithHTTPTransport supplies the http.RoundTripper PollingTransport's
// client uses; a Salesforce-style authenticating transport is typically
// installed this way.
func WithHTTPTransport(transport http.RoundTripper) Option {
	return func(o *Options) { o.HTTPTransport = transport }
}

// WithTransportPreference sets the connection types a Client tries, in
// order, at handshake and whenever it must re-select a transport. It
// defaults to ["websocket", "long-polling"].
func WithTransportPreference(connectionTypes ...string) Option {
	return func(o *Options) { o.TransportPreference = connectionTypes }
}

// WithRequestTimeout bounds every individual request/response round trip.
// A zero value (the default) means no per-request timeout beyond the
// caller's context, except that a /meta/connect over long-polling is then
// bounded by the server's advised timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = d }
}

// WithIgnoreError takes a function called whenever Subscribe or
// Unsubscribe would otherwise fail. If it returns true, the error is not
// surfaced to the caller and the registry is updated anyway: Subscribe
// registers the callback, Unsubscribe removes the pattern. The default never
// ignores an error.
func WithIgnoreError(f IgnoreErrorFunc) Option {
	return func(o *Options) { o.IgnoreError = f }
}

// WithExtension registers ext on the Client at construction time, before
// Connect is called.
func WithExtension(ext Extension) Option {
	return func(o *Options) { o.Extensions = append(o.Extensions, ext) }
}

// Client is the coordinator described by spec §4.8: it owns the Bayeux
// session (via Protocol), the active Transport, the subscription
// registry, and the extension pipeline, and serializes every operation
// that touches session state through coordMu. A background goroutine
// keeps an outstanding /meta/connect in flight once Connect succeeds,
// driving reconnection and rehandshake from the server's advice.
type Client struct {
	logger Logger

	serverAddress       string
	httpClient          *http.Client
	httpTransport       http.RoundTripper
	transportPreference []string
	requestTimeout      time.Duration
	ignoreError         IgnoreErrorFunc

	protocol *Protocol
	registry *SubscriptionRegistry
	pipeline *ExtensionPipeline
	state    *ClientStateMachine

	coordMu   sync.Mutex
	transport Transport

	bgCancel context.CancelFunc
	bgDone   chan struct{}

	// adviceCh is signaled whenever handleInbound processes advice on an
	// unsolicited message, waking connectLoop early so it can act on a
	// reconnect directive without waiting out the current interval.
	adviceCh chan struct{}
}

// NewClient creates a Client targeting serverAddress. Connect must be
// called before any other operation.
func NewClient(serverAddress string, opts ...Option) (*Client, error) {
	options := &Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if options.Logger == nil {
		options.Logger = newNullLogger()
	}
	if options.IgnoreError == nil {
		options.IgnoreError = func(error) bool { return false }
	}
	if len(options.TransportPreference) == 0 {
		options.TransportPreference = append([]string(nil), defaultConnectionTypes...)
	}

	c := &Client{
		logger:              options.Logger,
		serverAddress:       serverAddress,
		httpClient:          options.HTTPClient,
		httpTransport:       options.HTTPTransport,
		transportPreference: options.TransportPreference,
		requestTimeout:      options.RequestTimeout,
		ignoreError:         options.IgnoreError,
		protocol:            NewProtocol(options.Logger),
		registry:            NewSubscriptionRegistry(options.Logger),
		pipeline:            NewExtensionPipeline(options.Logger),
		state:               NewClientStateMachine(),
		adviceCh:            make(chan struct{}, 1),
	}

	for _, ext := range options.Extensions {
		if err := c.UseExtension(ext); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// UseExtension registers ext on the Client's extension pipeline.
func (c *Client) UseExtension(ext Extension) error {
	if err := c.pipeline.Use(ext); err != nil {
		return err
	}
	ext.Registered(fmt.Sprintf("%T", ext), c)
	return nil
}

// State returns the Client's current lifecycle state.
func (c *Client) State() ClientState {
	return c.state.Current()
}

// Connect performs the handshake, negotiates and establishes a
// Transport, sends the first /meta/connect, and starts the background
// goroutine that keeps a connect in flight for the life of the session.
func (c *Client) Connect(ctx context.Context) error {
	c.coordMu.Lock()
	defer c.coordMu.Unlock()

	if c.state.IsConnected() {
		return nil
	}
	if _, err := c.state.process(eventHandshakeSent); err != nil {
		return err
	}

	if err := c.handshakeLocked(ctx); err != nil {
		c.teardownTransportLocked(ctx)
		c.state.process(eventFailure)
		return err
	}

	if _, err := c.connectOnceLocked(ctx); err != nil {
		c.teardownTransportLocked(ctx)
		c.state.process(eventFailure)
		return err
	}

	if _, err := c.state.process(eventSuccessfullyConnected); err != nil {
		return err
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	c.bgCancel = cancel
	c.bgDone = make(chan struct{})
	go c.connectLoop(bgCtx)

	return nil
}

// handshakeLocked performs the handshake and, once the server responds,
// resolves which Transport the session will actually use. Callers must
// hold coordMu.
func (c *Client) handshakeLocked(ctx context.Context) error {
	transport, err := c.establishTransportLocked(ctx, c.transportPreference)
	if err != nil {
		return err
	}
	c.transport = transport

	msg, err := c.protocol.BuildHandshake(nil, c.transportPreference)
	if err != nil {
		return err
	}

	reply, err := c.roundTripLocked(ctx, msg)
	if err != nil {
		return err
	}
	if err := c.protocol.ProcessHandshakeResponse(reply); err != nil {
		return err
	}

	return c.reconcileTransportLocked(ctx, c.protocol.SupportedConnectionTypes())
}

// connectOnceLocked sends a single /meta/connect and folds its advice
// into the protocol. Callers must hold coordMu.
//
// On PollingTransport, a connect is a long-poll held open by the server
// for up to the advised timeout; when the caller hasn't set an explicit
// WithRequestTimeout, the request is instead bounded by that advice (30s
// until the server says otherwise), so a held-open long-poll doesn't wait
// past the point the server itself would have responded by.
func (c *Client) connectOnceLocked(ctx context.Context) (Message, error) {
	msg, err := c.protocol.BuildConnect(c.transport.ConnectionType())
	if err != nil {
		return Message{}, err
	}

	if c.requestTimeout == 0 && c.transport.ConnectionType() == ConnectionTypeLongPolling {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.protocol.CurrentAdvice().TimeoutAsDuration())
		defer cancel()
	}

	reply, err := c.roundTripLocked(ctx, msg)
	if err != nil {
		return Message{}, err
	}
	c.protocol.ProcessAdvice(reply.Advice)
	return reply, nil
}

// connectLoop keeps a /meta/connect outstanding for the life of the
// session, per the two-connection operation model: each response's
// advice decides whether the next connect follows after the advised
// interval (sooner if new advice is signaled), after a rehandshake, or not
// at all.
func (c *Client) connectLoop(ctx context.Context) {
	defer close(c.bgDone)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Advice arriving on any inbound message (not just the correlated
		// /meta/connect reply below) is honored here, at the top of every
		// iteration, since this is the only point in the loop that holds
		// neither coordMu nor any lock handleInbound might be called under.
		advice := c.protocol.CurrentAdvice()
		switch {
		case advice.ShouldStop():
			if err := c.Disconnect(context.Background()); err != nil {
				c.logger.WithError(err).Warn("disconnect after reconnect:none advice failed")
			}
			return
		case advice.ShouldHandshake():
			if err := c.rehandshake(ctx); err != nil {
				c.logger.WithError(err).Error("rehandshake failed")
				return
			}
			continue
		}

		c.coordMu.Lock()
		if !c.state.IsConnected() {
			c.coordMu.Unlock()
			return
		}
		_, err := c.connectOnceLocked(ctx)
		c.coordMu.Unlock()

		if err != nil {
			c.logger.WithError(err).Warn("connect request failed")
			attempt++
			sleepCtx(ctx, DefaultBackoff(attempt))
			continue
		}
		attempt = 0

		c.waitForIntervalOrAdvice(ctx, c.protocol.CurrentAdvice().IntervalAsDuration())
	}
}

// signalAdvice wakes connectLoop's interval wait early, without blocking,
// so it can re-check CurrentAdvice() as soon as possible.
func (c *Client) signalAdvice() {
	select {
	case c.adviceCh <- struct{}{}:
	default:
	}
}

// waitForIntervalOrAdvice waits for d, returning early if ctx is done or
// new advice was signaled.
func (c *Client) waitForIntervalOrAdvice(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-c.adviceCh:
	}
}

// rehandshake re-establishes the session after the server advises
// "handshake": it resets the protocol, runs the handshake again, and
// replays every currently-registered subscription pattern so the server
// relearns interest without the caller having to Subscribe again.
func (c *Client) rehandshake(ctx context.Context) error {
	c.coordMu.Lock()
	defer c.coordMu.Unlock()

	if _, err := c.state.process(eventRehandshake); err != nil {
		return err
	}

	patterns := c.registry.Patterns()
	c.protocol.Reset()
	c.teardownTransportLocked(ctx)

	if err := c.handshakeLocked(ctx); err != nil {
		c.teardownTransportLocked(ctx)
		c.state.process(eventFailure)
		return err
	}
	if _, err := c.connectOnceLocked(ctx); err != nil {
		c.teardownTransportLocked(ctx)
		c.state.process(eventFailure)
		return err
	}

	for _, pattern := range patterns {
		msg, err := c.protocol.BuildSubscribe(pattern)
		if err != nil {
			c.logger.WithError(err).WithField("channel", pattern).Warn("failed to resubscribe after rehandshake")
			continue
		}
		if _, err := c.roundTripLocked(ctx, msg); err != nil {
			c.logger.WithError(err).WithField("channel", pattern).Warn("failed to resubscribe after rehandshake")
		}
	}

	_, err := c.state.process(eventSuccessfullyConnected)
	return err
}

// Disconnect sends /meta/disconnect, tears down the transport, and
// clears all session state. It is safe to call on an already-
// disconnected Client.
func (c *Client) Disconnect(ctx context.Context) error {
	c.coordMu.Lock()
	defer c.coordMu.Unlock()

	if c.state.Current() == StateUnconnected {
		return nil
	}
	if _, err := c.state.process(eventDisconnectSent); err != nil {
		return DisconnectFailedError{Err: err}
	}

	if c.bgCancel != nil {
		c.bgCancel()
	}

	var sendErr error
	if msg, err := c.protocol.BuildDisconnect(); err != nil {
		sendErr = err
	} else if _, err := c.roundTripLocked(ctx, msg); err != nil {
		sendErr = err
	}

	c.teardownTransportLocked(ctx)
	c.registry.Clear()
	c.protocol.Reset()
	c.state.process(eventDisconnected)

	if sendErr != nil {
		return DisconnectFailedError{Err: sendErr}
	}
	return nil
}

// Subscribe registers cb to be invoked for every inbound message whose
// channel matches pattern, after confirming the subscription with the
// server.
func (c *Client) Subscribe(ctx context.Context, pattern Channel, cb Callback) error {
	c.coordMu.Lock()
	defer c.coordMu.Unlock()

	if !c.state.IsConnected() {
		return ErrClientNotConnected
	}

	msg, err := c.protocol.BuildSubscribe(pattern)
	if err != nil {
		return c.maybeIgnore(err, func() { c.registry.Add(pattern, cb) })
	}

	reply, err := c.roundTripLocked(ctx, msg)
	if err == nil && !reply.Successful {
		err = newSubscribeError(reply.Error)
	}
	if err != nil {
		return c.maybeIgnore(SubscriptionFailedError{Channels: []Channel{pattern}, Err: err}, func() { c.registry.Add(pattern, cb) })
	}

	c.registry.Add(pattern, cb)
	return nil
}

// Unsubscribe withdraws pattern from the server and drops every callback
// registered against it.
func (c *Client) Unsubscribe(ctx context.Context, pattern Channel) error {
	c.coordMu.Lock()
	defer c.coordMu.Unlock()

	if !c.state.IsConnected() {
		return ErrClientNotConnected
	}

	msg, err := c.protocol.BuildUnsubscribe(pattern)
	if err != nil {
		return c.maybeIgnore(err, func() { c.registry.Remove(pattern) })
	}

	reply, err := c.roundTripLocked(ctx, msg)
	if err == nil && !reply.Successful {
		err = newUnsubscribeError(reply.Error)
	}
	if err != nil {
		return c.maybeIgnore(UnsubscribeFailedError{Channels: []Channel{pattern}, Err: err}, func() { c.registry.Remove(pattern) })
	}

	c.registry.Remove(pattern)
	return nil
}

// Publish serializes data as JSON and sends it on channel. data must
// marshal cleanly; a serialization failure is reported without
// performing any I/O.
func (c *Client) Publish(ctx context.Context, channel Channel, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return ErrPayloadNotSerializable
	}

	c.coordMu.Lock()
	defer c.coordMu.Unlock()

	if !c.state.IsConnected() {
		return ErrClientNotConnected
	}

	msg, err := c.protocol.BuildPublish(channel, raw)
	if err != nil {
		return err
	}
	reply, err := c.roundTripLocked(ctx, msg)
	if err != nil {
		return FayeError{Op: "publish", Err: err}
	}
	if !reply.Successful {
		return FayeError{Op: "publish", Err: fmt.Errorf("%s", reply.Error)}
	}
	return nil
}

// maybeIgnore applies the Client's IgnoreErrorFunc to err: if it reports
// the error ignorable, onIgnored runs and maybeIgnore returns nil;
// otherwise err is returned unchanged.
func (c *Client) maybeIgnore(err error, onIgnored func()) error {
	if c.ignoreError(err) {
		onIgnored()
		return nil
	}
	return err
}

// roundTripLocked runs msg through the outgoing extension pipeline,
// sends it, and runs the correlated reply through the incoming pipeline.
// Callers must hold coordMu and have an established c.transport.
func (c *Client) roundTripLocked(ctx context.Context, msg Message) (Message, error) {
	out := c.pipeline.Outgoing(&msg)
	if out == nil {
		return Message{}, ErrExtensionHalted
	}

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	reply, err := c.transport.Send(ctx, []Message{*out})
	if err != nil {
		return Message{}, TransportError{Op: "send", Err: err}
	}
	if len(reply) == 0 {
		return Message{}, ErrFailedToConnect
	}

	in := c.pipeline.Incoming(&reply[0])
	if in == nil {
		return Message{}, ErrExtensionHalted
	}
	return *in, nil
}

// handleInbound is the Transport's InboundHandler: it runs every
// unsolicited message through the incoming pipeline, folds any advice it
// carries into the protocol, and dispatches whatever survives to matching
// subscribers.
//
// handleInbound must never itself acquire coordMu, directly or through a
// locking method such as rehandshake or Disconnect: PollingTransport.Send
// invokes it synchronously from inside roundTripLocked, which always runs
// with coordMu already held by the caller, so taking the lock here would
// deadlock. Reacting to advice is instead left to connectLoop, which polls
// CurrentAdvice() at a point in its own iteration where it holds no lock;
// signalAdvice only wakes that check early.
func (c *Client) handleInbound(msgs []Message) {
	for i := range msgs {
		msg := msgs[i]
		in := c.pipeline.Incoming(&msg)
		if in == nil {
			continue
		}
		if in.Advice != nil {
			c.protocol.ProcessAdvice(in.Advice)
			c.signalAdvice()
		}
		c.registry.Dispatch(*in)
	}
}

// establishTransportLocked builds and connects a Transport from the
// first connection type in preference that succeeds.
func (c *Client) establishTransportLocked(ctx context.Context, preference []string) (Transport, error) {
	var lastErr error
	for _, connType := range preference {
		transport, err := c.newTransportFor(connType)
		if err != nil {
			lastErr = err
			continue
		}
		transport.SetInboundCallback(c.handleInbound)
		if err := transport.Connect(ctx); err != nil {
			c.logger.WithError(err).WithField("connectionType", connType).Warn("transport unavailable")
			lastErr = err
			continue
		}
		return transport, nil
	}
	if lastErr == nil {
		lastErr = ErrNoUsableTransport
	}
	return nil, TransportError{Op: "connect", Err: lastErr}
}

// reconcileTransportLocked switches to a different Transport if the
// currently connected one isn't in the server's negotiated
// supportedConnectionTypes, preferring whichever of the client's
// preference list the server also supports.
func (c *Client) reconcileTransportLocked(ctx context.Context, negotiated []string) error {
	if containsString(negotiated, c.transport.ConnectionType()) {
		return nil
	}

	var intersection []string
	for _, connType := range c.transportPreference {
		if containsString(negotiated, connType) {
			intersection = append(intersection, connType)
		}
	}
	if len(intersection) == 0 {
		return ErrNoUsableTransport
	}

	old := c.transport
	next, err := c.establishTransportLocked(ctx, intersection)
	if err != nil {
		return err
	}
	_ = old.Disconnect(ctx)
	c.transport = next
	return nil
}

func (c *Client) newTransportFor(connType string) (Transport, error) {
	switch connType {
	case ConnectionTypeWebsocket:
		return NewFramedTransport(c.serverAddress)
	case ConnectionTypeLongPolling:
		return NewPollingTransport(c.httpClient, c.httpTransport, c.serverAddress)
	default:
		return nil, BadConnectionTypeError{ConnectionType: connType}
	}
}

func (c *Client) teardownTransportLocked(ctx context.Context) {
	if c.transport == nil {
		return
	}
	_ = c.transport.Disconnect(ctx)
	c.transport = nil
}

// sleepCtx waits for d, returning early if ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
