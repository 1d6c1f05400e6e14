package bayeux

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// PollingTransport carries Bayeux messages over HTTP long-polling: every
// Send is a single POST whose response body is the correlated reply.
// Unlike FramedTransport there is no persistent connection to read
// server pushes off of, so a Client using PollingTransport must itself
// keep an outstanding /meta/connect in flight to receive them; this
// transport only implements the request/response half.
type PollingTransport struct {
	client        *http.Client
	serverAddress *url.URL

	mu      sync.Mutex
	handler InboundHandler
}

// NewPollingTransport creates a PollingTransport posting to serverAddress.
// A nil httpClient gets a cookie jar scoped by the public suffix list, as
// Bayeux sessions are carried in a cookie on many servers, and a nil
// roundTripper there defaults to http.DefaultTransport. A caller-supplied
// httpClient is used as-is unless roundTripper is explicitly non-nil, so a
// custom Transport the caller already configured (TLS, proxy, auth) isn't
// silently discarded.
func NewPollingTransport(httpClient *http.Client, roundTripper http.RoundTripper, serverAddress string) (*PollingTransport, error) {
	if httpClient == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		if roundTripper == nil {
			roundTripper = http.DefaultTransport
		}
		httpClient = &http.Client{
			Transport:     roundTripper,
			CheckRedirect: http.DefaultClient.CheckRedirect,
			Jar:           jar,
			Timeout:       http.DefaultClient.Timeout,
		}
	} else if roundTripper != nil {
		httpClient.Transport = roundTripper
	}

	parsed, err := url.Parse(serverAddress)
	if err != nil {
		return nil, err
	}

	return &PollingTransport{client: httpClient, serverAddress: parsed}, nil
}

// ConnectionType identifies this transport for handshake negotiation.
func (t *PollingTransport) ConnectionType() string {
	return ConnectionTypeLongPolling
}

// SetInboundCallback registers handler for messages arriving in a batch
// alongside, but not matching, the message a Send call was correlated to.
func (t *PollingTransport) SetInboundCallback(handler InboundHandler) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

// Connect is a no-op: PollingTransport has no persistent resource to
// establish, only the per-request HTTP round trip Send already does.
func (t *PollingTransport) Connect(ctx context.Context) error {
	return nil
}

// Disconnect is a no-op for the same reason Connect is.
func (t *PollingTransport) Disconnect(ctx context.Context) error {
	return nil
}

// Send POSTs msgs as a JSON batch and returns the server's response
// batch. A server may include unsolicited messages in the same batch as
// the correlated reply (e.g. publishes that arrived while a /meta/connect
// was held open); those are split out and handed to the InboundHandler,
// and only messages whose id matches one in msgs are returned directly.
func (t *PollingTransport) Send(ctx context.Context, msgs []Message) ([]Message, error) {
	body, err := marshalBatch(msgs)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverAddress.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, TransportError{Op: "send", Err: err}
	}
	reply, err := t.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			wanted[m.ID] = true
		}
	}

	var correlated, unsolicited []Message
	for _, m := range reply {
		if wanted[m.ID] {
			correlated = append(correlated, m)
		} else {
			unsolicited = append(unsolicited, m)
		}
	}

	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if len(unsolicited) > 0 && handler != nil {
		handler(unsolicited)
	}
	return correlated, nil
}

func (t *PollingTransport) parseResponse(resp *http.Response) ([]Message, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, BadResponseError{resp.StatusCode, resp.Status, nil}
		}
		return nil, BadResponseError{resp.StatusCode, resp.Status, body}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return unmarshalBatch(raw)
}
