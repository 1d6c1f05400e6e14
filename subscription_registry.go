package bayeux

import (
	"fmt"
	"sync"
)

// Callback is invoked for every inbound message whose channel matches a
// pattern the caller Subscribed to.
type Callback func(Message)

// SubscriptionRegistry maps a channel pattern to the set of callbacks
// registered against it. A pattern may match multiple messages; a message
// may match multiple patterns, in which case every matching callback is
// invoked. The Client exclusively owns the registry: entries are mutated
// on Subscribe/Unsubscribe success and cleared on Disconnect.
type SubscriptionRegistry struct {
	logger Logger

	mu   sync.RWMutex
	subs map[Channel][]Callback
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry(logger Logger) *SubscriptionRegistry {
	if logger == nil {
		logger = newNullLogger()
	}
	return &SubscriptionRegistry{logger: logger, subs: make(map[Channel][]Callback)}
}

// Add registers cb against pattern.
func (r *SubscriptionRegistry) Add(pattern Channel, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[pattern] = append(r.subs[pattern], cb)
}

// Remove drops every callback registered against pattern.
func (r *SubscriptionRegistry) Remove(pattern Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, pattern)
}

// Has reports whether pattern has at least one registered callback.
func (r *SubscriptionRegistry) Has(pattern Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[pattern]) > 0
}

// Patterns returns every registered pattern, in no particular order. Used
// to replay subscriptions across a rehandshake.
func (r *SubscriptionRegistry) Patterns() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	patterns := make([]Channel, 0, len(r.subs))
	for p := range r.subs {
		patterns = append(patterns, p)
	}
	return patterns
}

// Clear removes every registered pattern and callback, as happens on
// Disconnect.
func (r *SubscriptionRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[Channel][]Callback)
}

// Dispatch invokes every callback whose pattern matches msg.Channel.
// Callbacks registered against the same pattern run in the order they were
// added; the order across different patterns is not defined, since the
// patterns are held in a Go map. A callback panic is caught and
// logged; it never prevents other subscribers from receiving the message.
func (r *SubscriptionRegistry) Dispatch(msg Message) {
	r.mu.RLock()
	var matched []Callback
	for pattern, callbacks := range r.subs {
		if pattern.Match(msg.Channel) {
			matched = append(matched, callbacks...)
		}
	}
	r.mu.RUnlock()

	for _, cb := range matched {
		r.invoke(cb, msg)
	}
}

func (r *SubscriptionRegistry) invoke(cb Callback, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithError(fmt.Errorf("%v", rec)).Warn("subscription callback panicked")
		}
	}()
	cb(msg)
}
