// Package gobayeuxtest provides a fake Bayeux server implemented as an
// http.RoundTripper, for exercising PollingTransport and Client without a
// real network connection.
package gobayeuxtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/faye-go/bayeux"
)

var (
	chars    = []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmonpqrstuvwxyz0123456789")
	numChars = len(chars)

	defaultAdvice = &bayeux.Advice{
		Reconnect: bayeux.ReconnectRetry,
		Timeout:   int(30 * time.Second / time.Millisecond),
		Interval:  int(time.Second / time.Millisecond),
	}
)

// Logger is the subset of testing.T the Server logs unhandled messages
// through.
type Logger interface {
	Logf(format string, args ...any)
}

// Server is a fake Bayeux server: an http.RoundTripper that tracks
// per-client subscriptions in memory and can be configured to fail
// handshakes or authentication, or to advise a rehandshake after a given
// number of connects.
type Server struct {
	log Logger

	mu                sync.Mutex
	subs              map[string][]bayeux.Channel
	handshakeError    bool
	authError         bool
	rehandshakeAfter  int
	stopAfter         int
	connectsPerClient map[string]int
}

// NewServer creates a Server with no configured failures.
func NewServer(logger Logger, opts ...ServerOpt) *Server {
	s := &Server{
		log:               logger,
		subs:              make(map[string][]bayeux.Channel),
		connectsPerClient: make(map[string]int),
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// RoundTrip implements http.RoundTripper, servicing a single batch of
// Bayeux messages the way a long-polling server would.
func (s *Server) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	var msgs []*bayeux.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return &http.Response{
			StatusCode: http.StatusUnprocessableEntity,
			Status:     http.StatusText(http.StatusUnprocessableEntity),
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	}

	var replies []*bayeux.Message
	statusCode := http.StatusOK

	for _, msg := range msgs {
		switch msg.Channel {
		case bayeux.MetaHandshake:
			if s.handshakeError {
				return &http.Response{
					StatusCode: http.StatusBadRequest,
					Status:     http.StatusText(http.StatusBadRequest),
					Body:       io.NopCloser(bytes.NewReader([]byte(`{"error":"invalid handshake"}`))),
				}, nil
			}
			if s.authError {
				replies = append(replies, &bayeux.Message{
					Channel:        bayeux.MetaHandshake,
					ID:             msg.ID,
					Successful:     false,
					AuthSuccessful: false,
					Error:          "401::authentication failed",
				})
				continue
			}
			clientID := generateID(10)
			s.connectsPerClient[clientID] = 0
			replies = append(replies, &bayeux.Message{
				Channel:                  bayeux.MetaHandshake,
				ID:                       msg.ID,
				Version:                  msg.Version,
				SupportedConnectionTypes: msg.SupportedConnectionTypes,
				ClientID:                 clientID,
				Successful:               true,
				AuthSuccessful:           true,
				Advice:                   defaultAdvice,
			})

		case bayeux.MetaConnect:
			for _, ch := range s.subs[msg.ClientID] {
				replies = append(replies, &bayeux.Message{
					Channel:    ch,
					ID:         generateID(5),
					ClientID:   msg.ClientID,
					Data:       json.RawMessage(`{}`),
					Successful: true,
				})
			}

			advice := defaultAdvice
			s.connectsPerClient[msg.ClientID]++
			switch {
			case s.stopAfter > 0 && s.connectsPerClient[msg.ClientID] >= s.stopAfter:
				advice = &bayeux.Advice{Reconnect: bayeux.ReconnectNone}
				delete(s.connectsPerClient, msg.ClientID)
			case s.rehandshakeAfter > 0 && s.connectsPerClient[msg.ClientID] >= s.rehandshakeAfter:
				advice = &bayeux.Advice{Reconnect: bayeux.ReconnectHandshake}
				delete(s.connectsPerClient, msg.ClientID)
			}

			replies = append(replies, &bayeux.Message{
				Channel:    bayeux.MetaConnect,
				ID:         msg.ID,
				ClientID:   msg.ClientID,
				Successful: true,
				Advice:     advice,
			})

		case bayeux.MetaSubscribe:
			reply := &bayeux.Message{
				Channel:      bayeux.MetaSubscribe,
				ID:           msg.ID,
				ClientID:     msg.ClientID,
				Successful:   true,
				Subscription: msg.Subscription,
			}
			for _, ch := range s.subs[msg.ClientID] {
				if ch == msg.Subscription {
					statusCode = http.StatusBadRequest
					reply.Successful = false
					reply.Error = "403::already subscribed"
				}
			}
			if reply.Successful {
				s.subs[msg.ClientID] = append(s.subs[msg.ClientID], msg.Subscription)
			}
			replies = append(replies, reply)

		case bayeux.MetaUnsubscribe:
			reply := &bayeux.Message{
				Channel:      bayeux.MetaUnsubscribe,
				ID:           msg.ID,
				ClientID:     msg.ClientID,
				Successful:   true,
				Subscription: msg.Subscription,
			}
			found := false
			var remaining []bayeux.Channel
			for _, ch := range s.subs[msg.ClientID] {
				if ch == msg.Subscription {
					found = true
					continue
				}
				remaining = append(remaining, ch)
			}
			s.subs[msg.ClientID] = remaining
			if !found {
				statusCode = http.StatusBadRequest
				reply.Successful = false
				reply.Error = "403::not subscribed"
			}
			replies = append(replies, reply)

		case bayeux.MetaDisconnect:
			delete(s.subs, msg.ClientID)
			delete(s.connectsPerClient, msg.ClientID)
			replies = append(replies, &bayeux.Message{
				Channel:    bayeux.MetaDisconnect,
				ID:         msg.ID,
				ClientID:   msg.ClientID,
				Successful: true,
			})

		default:
			reply := &bayeux.Message{
				Channel:    msg.Channel,
				ID:         msg.ID,
				ClientID:   msg.ClientID,
				Successful: true,
			}
			replies = append(replies, reply)
		}
	}

	body, err = json.Marshal(replies)
	if err != nil {
		return nil, fmt.Errorf("marshaling reply body: %w", err)
	}

	return &http.Response{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}, nil
}

func generateID(length int) string {
	ret := make([]rune, length)
	for i := range ret {
		ret[i] = chars[rand.Intn(numChars)]
	}
	return string(ret)
}
