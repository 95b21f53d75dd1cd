// Package bus implements the Message Bus (C7): an optional pub/sub channel
// for inter-module coordination, separate from the Event/Dispatch flow.
// Grounded on original_source/spiderfoot/module_comms.py.
package bus

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// Priority is carried on each Message for the caller's use. The bus does not
// reorder delivery by it, and it does not affect the scan queue's priority
// lanes.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// ErrRequestTimeout is returned by Request when no reply arrives in time.
var ErrRequestTimeout = errors.New("bus: request timed out waiting for reply")

// Message is a single published payload.
type Message struct {
	Channel       string
	Payload       any
	Sender        string
	Priority      Priority
	Timestamp     time.Time
	ReplyTo       string
	CorrelationID string
}

// Filter can veto a message before it reaches any subscriber. Returning
// false drops the message silently from that channel's delivery.
type Filter func(Message) bool

// Handler receives messages delivered to a subscription.
type Handler func(Message)

// ChannelStats tracks simple channel-level counters.
type ChannelStats struct {
	Published    int64
	Delivered    int64
	Filtered     int64
	Subscribers  int
}

type subscriber struct {
	id      int
	handler Handler
}

// Bus is a process-local publish/subscribe message bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber
	stats       map[string]*ChannelStats
	filters     []Filter
	log         []Message
	maxLog      int
	enabled     bool
	nextSubID   int
}

// New constructs an enabled Bus with the given message-log capacity.
func New(maxLog int) *Bus {
	if maxLog <= 0 {
		maxLog = 10000
	}
	return &Bus{
		subscribers: make(map[string][]subscriber),
		stats:       make(map[string]*ChannelStats),
		maxLog:      maxLog,
		enabled:     true,
	}
}

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the process-wide singleton bus, lazily constructed.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = New(10000)
	})
	return defaultBus
}

func (b *Bus) statsLocked(channel string) *ChannelStats {
	s, ok := b.stats[channel]
	if !ok {
		s = &ChannelStats{}
		b.stats[channel] = s
	}
	return s
}

// Subscribe registers handler on channel and returns an unsubscribe token.
func (b *Bus) Subscribe(channel string, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	b.subscribers[channel] = append(b.subscribers[channel], subscriber{id: id, handler: handler})
	b.statsLocked(channel).Subscribers = len(b.subscribers[channel])
	return id
}

// Unsubscribe removes the subscription identified by the token Subscribe
// returned. It is a no-op if the token is unknown.
func (b *Bus) Unsubscribe(channel string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[channel]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	b.statsLocked(channel).Subscribers = len(b.subscribers[channel])
}

// AddFilter registers a filter applied to every published message on every
// channel, in registration order; the first filter to reject a message
// stops evaluation.
func (b *Bus) AddFilter(f Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = append(b.filters, f)
}

// Enable and Disable toggle delivery without clearing subscriptions.
// Publish on a disabled bus still records the message log but delivers to
// no one.
func (b *Bus) Enable()  { b.mu.Lock(); b.enabled = true; b.mu.Unlock() }
func (b *Bus) Disable() { b.mu.Lock(); b.enabled = false; b.mu.Unlock() }

func (b *Bus) passesFiltersLocked(msg Message) bool {
	for _, f := range b.filters {
		if !f(msg) {
			return false
		}
	}
	return true
}

func (b *Bus) appendLogLocked(msg Message) {
	b.log = append(b.log, msg)
	if len(b.log) > b.maxLog {
		b.log = b.log[len(b.log)-b.maxLog:]
	}
}

// Publish delivers msg to every current subscriber of msg.Channel in
// subscription order; msg.Priority does not change that order. Handlers run synchronously on the caller's goroutine and are isolated
// with recover so one panicking subscriber cannot break delivery to others.
func (b *Bus) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Time{}
	}

	b.mu.Lock()
	stats := b.statsLocked(msg.Channel)
	stats.Published++

	if !b.passesFiltersLocked(msg) {
		stats.Filtered++
		b.mu.Unlock()
		return
	}
	b.appendLogLocked(msg)

	if !b.enabled {
		b.mu.Unlock()
		return
	}

	subs := make([]subscriber, len(b.subscribers[msg.Channel]))
	copy(subs, b.subscribers[msg.Channel])
	b.mu.Unlock()

	for _, s := range orderedByPriority(subs, msg.Priority) {
		b.safeDeliver(s.handler, msg)
		b.mu.Lock()
		stats.Delivered++
		b.mu.Unlock()
	}
}

// orderedByPriority is currently identity: subscriber order is preserved.
// Priority affects cross-message ordering at the caller (e.g. a dispatch
// engine draining high-priority publishes first), not intra-channel fan-out.
func orderedByPriority(subs []subscriber, _ Priority) []subscriber {
	return subs
}

func (b *Bus) safeDeliver(h Handler, msg Message) {
	defer func() { recover() }()
	h(msg)
}

// Broadcast publishes msg to every channel that currently has at least one
// subscriber.
func (b *Bus) Broadcast(msg Message) {
	b.mu.RLock()
	channels := make([]string, 0, len(b.subscribers))
	for ch, subs := range b.subscribers {
		if len(subs) > 0 {
			channels = append(channels, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range channels {
		m := msg
		m.Channel = ch
		b.Publish(m)
	}
}

// Request publishes msg on channel and blocks for a single reply delivered
// to a private reply channel named by a per-request correlation id, or
// returns ErrRequestTimeout.
func (b *Bus) Request(channel string, payload any, sender string, timeout time.Duration) (Message, error) {
	b.mu.Lock()
	b.nextSubID++
	correlationID := strconv.Itoa(b.nextSubID)
	b.mu.Unlock()
	replyChan := channel + ".reply." + correlationID
	replies := make(chan Message, 1)

	id := b.Subscribe(replyChan, func(m Message) {
		select {
		case replies <- m:
		default:
		}
	})
	defer b.Unsubscribe(replyChan, id)

	b.Publish(Message{Channel: channel, Payload: payload, Sender: sender, ReplyTo: replyChan, CorrelationID: correlationID})

	select {
	case m := <-replies:
		return m, nil
	case <-time.After(timeout):
		return Message{}, ErrRequestTimeout
	}
}

// Reply is a convenience for a subscriber responding to a Request message.
func (b *Bus) Reply(original Message, payload any, sender string) {
	if original.ReplyTo == "" {
		return
	}
	b.Publish(Message{Channel: original.ReplyTo, Payload: payload, Sender: sender, CorrelationID: original.CorrelationID})
}

// GetChannels returns every channel name with at least one subscriber.
func (b *Bus) GetChannels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.subscribers))
	for ch, subs := range b.subscribers {
		if len(subs) > 0 {
			out = append(out, ch)
		}
	}
	return out
}

// GetChannelStats returns a snapshot of one channel's counters.
func (b *Bus) GetChannelStats(channel string) ChannelStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.stats[channel]; ok {
		return *s
	}
	return ChannelStats{}
}

// GetAllStats returns a snapshot of every channel's counters.
func (b *Bus) GetAllStats() map[string]ChannelStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]ChannelStats, len(b.stats))
	for ch, s := range b.stats {
		out[ch] = *s
	}
	return out
}

// GetMessageLog returns the most recent limit messages across all channels
// (or all logged messages if limit <= 0).
func (b *Bus) GetMessageLog(limit int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit >= len(b.log) {
		out := make([]Message, len(b.log))
		copy(out, b.log)
		return out
	}
	out := make([]Message, limit)
	copy(out, b.log[len(b.log)-limit:])
	return out
}

// ClearChannel removes all subscribers and stats for channel.
func (b *Bus) ClearChannel(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, channel)
	delete(b.stats, channel)
}

// Reset removes every subscriber, stat, filter, and log entry.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string][]subscriber)
	b.stats = make(map[string]*ChannelStats)
	b.filters = nil
	b.log = nil
}
