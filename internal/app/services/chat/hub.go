package chat

import (
	"context"
	"sync"

	"github.com/jive-live/jive-server/pkg/logger"
)

// subscriptionBuffer is the per-subscriber backlog. A subscriber that cannot
// keep up loses messages instead of stalling the channel.
const subscriptionBuffer = 32

// Subscription is one listener on a channel. Messages arrive on C until the
// subscription is removed from the hub.
type Subscription struct {
	C         chan []byte
	channelID string
}

// Hub fans chat payloads out to channel subscribers. Channels come into
// existence the first time anything touches them and are never removed; an
// id nobody has used yet is simply a channel with no subscribers.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscription]struct{}
	log      *logger.Logger
	closed   bool
}

// NewHub constructs an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("chat-hub")
	}
	return &Hub{
		channels: make(map[string]map[*Subscription]struct{}),
		log:      log,
	}
}

func (h *Hub) channelLocked(channelID string) map[*Subscription]struct{} {
	subs, ok := h.channels[channelID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.channels[channelID] = subs
	}
	return subs
}

// Subscribe attaches a new listener to the channel.
func (h *Hub) Subscribe(channelID string) *Subscription {
	sub := &Subscription{
		C:         make(chan []byte, subscriptionBuffer),
		channelID: channelID,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.C)
		return sub
	}
	h.channelLocked(channelID)[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches the listener and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[sub.channelID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.C)
}

// Broadcast relays payload to every current subscriber of the channel. Full
// subscribers are skipped.
func (h *Hub) Broadcast(channelID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	for sub := range h.channels[channelID] {
		select {
		case sub.C <- payload:
		default:
			h.log.WithField("channel_id", channelID).Warn("dropping message for slow subscriber")
		}
	}
}

// SubscriberCount reports how many listeners a channel currently has.
func (h *Hub) SubscriberCount(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channelID])
}

// Name implements the lifecycle service interface.
func (h *Hub) Name() string { return "chat-hub" }

// Start implements the lifecycle service interface.
func (h *Hub) Start(context.Context) error { return nil }

// Stop closes every subscription and rejects new ones.
func (h *Hub) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, subs := range h.channels {
		for sub := range subs {
			delete(subs, sub)
			close(sub.C)
		}
	}
	return nil
}
