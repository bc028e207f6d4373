package entitlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	DefaultSubscriberBuffer = 8
	DefaultReplayRetention  = 10 * time.Minute
)

type EventType string

const (
	EventActivated EventType = "activated"
	EventRefreshed EventType = "refreshed"
	EventCleared   EventType = "cleared"
)

// Event announces that a user's entitlement changed. Receivers re-read state;
// a missed event only delays that.
type Event struct {
	ID          string       `json:"id,omitempty"`
	UserID      snowflake.ID `json:"user_id"`
	Type        EventType    `json:"type"`
	ActiveUntil *time.Time   `json:"active_until,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
	Origin      string       `json:"origin,omitempty"`
}

// Broadcaster publishes entitlement changes. Publish never blocks on slow receivers.
type Broadcaster interface {
	Publish(ctx context.Context, event Event)
}

// Hub fans events out to in-process subscribers, one topic per user. A topic
// keeps its last event for the replay window after its subscribers leave, so
// a reconnecting client still sees a change it missed.
type Hub struct {
	mu               sync.RWMutex
	topics           map[snowflake.ID]*topic
	subscriberBuffer int
	retention        time.Duration
	now              func() time.Time
	lastSweep        time.Time
}

type topic struct {
	mu     sync.Mutex
	last   *Event
	lastAt time.Time
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	userID snowflake.ID
	id     uint64
	ch     chan Event
	once   sync.Once
}

type HubOption func(*Hub)

// WithReplayRetention bounds how long a topic without subscribers keeps its last event.
func WithReplayRetention(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.retention = d
		}
	}
}

func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		topics:           make(map[snowflake.ID]*topic),
		subscriberBuffer: DefaultSubscriberBuffer,
		retention:        DefaultReplayRetention,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Publish(_ context.Context, event Event) {
	if h == nil || event.UserID == 0 {
		return
	}

	h.mu.Lock()
	now := h.now()
	t := h.topicLocked(event.UserID)
	t.mu.Lock()
	last := event
	t.last = &last
	t.lastAt = now
	subs := make([]chan Event, 0, len(t.subs))
	for _, ch := range t.subs {
		subs = append(subs, ch)
	}
	t.mu.Unlock()
	h.sweepLocked(now)
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a subscription for userID and the last event seen on its
// topic within the replay window, if any.
func (h *Hub) Subscribe(userID snowflake.ID) (*Subscription, *Event, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	if userID == 0 {
		return nil, nil, errors.New("invalid_user_id")
	}

	h.mu.Lock()
	now := h.now()
	t := h.topicLocked(userID)
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	t.subs[id] = ch
	var last *Event
	if t.replayable(now, h.retention) {
		cp := *t.last
		last = &cp
	}
	t.mu.Unlock()
	h.mu.Unlock()

	return &Subscription{hub: h, userID: userID, id: id, ch: ch}, last, nil
}

// Subscribers reports how many subscriptions are open for userID.
func (h *Hub) Subscribers(userID snowflake.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t := h.topics[userID]
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Topics reports how many user topics the hub currently holds.
func (h *Hub) Topics() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// topicLocked returns the topic for userID, creating it. h.mu must be held.
func (h *Hub) topicLocked(userID snowflake.ID) *topic {
	current := h.topics[userID]
	if current == nil {
		current = &topic{subs: make(map[uint64]chan Event)}
		h.topics[userID] = current
	}
	return current
}

// sweepLocked drops idle topics whose last event left the replay window.
// It runs at most once per window. h.mu must be held.
func (h *Hub) sweepLocked(now time.Time) {
	if now.Sub(h.lastSweep) < h.retention {
		return
	}
	h.lastSweep = now
	for userID, t := range h.topics {
		t.mu.Lock()
		idle := len(t.subs) == 0 && !t.replayable(now, h.retention)
		t.mu.Unlock()
		if idle {
			delete(h.topics, userID)
		}
	}
}

func (h *Hub) unsubscribe(userID snowflake.ID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[userID]
	if t == nil {
		return
	}

	t.mu.Lock()
	delete(t.subs, id)
	idle := len(t.subs) == 0 && !t.replayable(h.now(), h.retention)
	t.mu.Unlock()
	if idle {
		delete(h.topics, userID)
	}
}

func (t *topic) replayable(now time.Time, retention time.Duration) bool {
	return t.last != nil && now.Sub(t.lastAt) < retention
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.userID, s.id)
	})
}
