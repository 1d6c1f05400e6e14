// Package replay implements the Bayeux replay extension: it advertises
// replay support at handshake, tracks the last replay id seen on each
// channel, and sends the stored ids back to the server with every
// subscribe request once the server has confirmed support, so a supporting
// server (for
// example Salesforce's Streaming API) can redeliver events missed while
// disconnected.
//
// See also: https://docs.cometd.org/current/reference/#_extensions
package replay

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/faye-go/bayeux"
)

const (
	// ExtensionName is the ext key both the client and server use to
	// negotiate and carry replay ids.
	ExtensionName string = "replay"
	eventKey      string = "event"
	replayIDKey   string = "replayId"

	unsupported int32 = iota
	supported
)

// Extension tracks replay ids per channel and advertises/consumes the
// replay ext field on handshake, subscribe, and incoming broadcasts.
type Extension struct {
	bayeux.NoopExtension

	supportedByServer *int32
	replayStore       IDStore
}

// IDStore stores the last known replay id per channel.
type IDStore interface {
	Set(channel string, replayID int)
	Get(channel string) (int, bool)
	Delete(channel string)
	AsMap() map[string]int
}

// New creates an Extension backed by store. A nil store defaults to an
// in-memory MapStorage.
func New(store IDStore) *Extension {
	if store == nil {
		store = NewMapStorage()
	}
	defaultVal := unsupported
	return &Extension{supportedByServer: &defaultVal, replayStore: store}
}

// Outgoing advertises replay support at handshake and attaches the
// current replay-id map to every subscribe request once the server has
// confirmed it supports the extension.
func (e *Extension) Outgoing(msg *bayeux.Message) *bayeux.Message {
	switch msg.Channel {
	case bayeux.MetaHandshake:
		msg.GetExt(true)[ExtensionName] = true
	case bayeux.MetaSubscribe:
		if e.isSupported() {
			msg.GetExt(true)[ExtensionName] = e.replayStore.AsMap()
		}
	}
	return msg
}

// Incoming records the server's replay-extension support at handshake,
// forgets a channel's replay id on unsubscribe, and updates the stored
// replay id for every broadcast message that carries one.
func (e *Extension) Incoming(msg *bayeux.Message) *bayeux.Message {
	switch {
	case msg.IsHandshake():
		if ext := msg.GetExt(false); ext != nil {
			if isSupported, ok := ext[ExtensionName].(bool); ok && isSupported {
				atomic.CompareAndSwapInt32(e.supportedByServer, unsupported, supported)
			}
		}
	case msg.IsUnsubscribe():
		e.replayStore.Delete(string(msg.Subscription))
	case msg.Channel.Type() == bayeux.BroadcastChannel:
		e.updateReplayID(msg)
	}
	return msg
}

func (e *Extension) updateReplayID(msg *bayeux.Message) {
	var chunk MessageData
	if err := json.Unmarshal(msg.Data, &chunk); err != nil {
		return
	}

	data := make(map[string]interface{})
	if err := json.Unmarshal([]byte(chunk.Data), &data); err != nil {
		return
	}

	event, ok := data[eventKey].(map[string]interface{})
	if !ok {
		return
	}
	replayID, ok := event[replayIDKey].(float64)
	if !ok {
		return
	}
	e.replayStore.Set(string(msg.Channel), int(replayID))
}

func (e *Extension) isSupported() bool {
	return atomic.LoadInt32(e.supportedByServer) == supported
}

// MessageData represents the JSON envelope some Bayeux servers (notably
// Salesforce) wrap binary/chunked event data in.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_binary_data
type MessageData struct {
	Data string            `json:"data,omitempty"`
	Last bool              `json:"last,omitempty"`
	Meta map[string]string `json:"meta,omitempty"`
}

// MapStorage is an in-memory IDStore guarded by a RWMutex.
type MapStorage struct {
	mu    sync.RWMutex
	store map[string]int
}

// NewMapStorage creates an empty MapStorage.
func NewMapStorage() *MapStorage {
	return &MapStorage{store: make(map[string]int)}
}

// Set implements IDStore.
func (s *MapStorage) Set(channel string, replayID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[channel] = replayID
}

// Get implements IDStore.
func (s *MapStorage) Get(channel string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	replayID, ok := s.store[channel]
	return replayID, ok
}

// Delete implements IDStore.
func (s *MapStorage) Delete(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, channel)
}

// AsMap implements IDStore.
func (s *MapStorage) AsMap() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	replay := make(map[string]int, len(s.store))
	for k, v := range s.store {
		replay[k] = v
	}
	return replay
}
