// Package events carries view-visible state changes out of a session.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type names a state change.
type Type string

const (
	StageChanged          Type = "stage.changed"
	UserRegistered        Type = "auth.registered"
	EmailVerified         Type = "auth.verified"
	LoggedIn              Type = "auth.login"
	LoggedOut             Type = "auth.logout"
	PasswordReset         Type = "auth.password_reset"
	ChatStatusChanged     Type = "chat.status"
	MessageAppended       Type = "chat.message"
	TypingChanged         Type = "chat.typing"
	VoiceChanged          Type = "chat.voice"
	NoMatch               Type = "chat.no_match"
	UpgradePrompt         Type = "upgrade.prompt"
	UserBlocked           Type = "social.blocked"
	UserUnblocked         Type = "social.unblocked"
	ProfileViewed         Type = "social.profile_view"
	ProfileUpdated        Type = "profile.updated"
	SubscriptionActivated Type = "subscription.activated"
	SessionClosed         Type = "session.closed"
)

// Event is one state change of one session.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// Sink receives every event a Bus dispatches, e.g. a Kafka producer.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard drops everything.
var Discard Publisher = discard{}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]Type, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

// Bus fans events out to subscriber channels and sinks from one
// dispatcher goroutine. A full queue or a slow subscriber drops events.
type Bus struct {
	queue  chan Event
	sinks  []Sink
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool

	done chan struct{}
}

// NewBus starts the dispatcher.
func NewBus(buffer int, logger *zap.Logger, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		queue:  make(chan Event, buffer),
		sinks:  sinks,
		logger: logger,
		subs:   make(map[uint64]chan Event),
		done:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- e:
	default:
		b.logger.Warn("event queue full, dropping event",
			zap.String("type", string(e.Type)), zap.String("session_id", e.SessionID))
	}
}

// Subscribe returns a channel of future events and a cancel func that
// closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for e := range b.queue {
		b.mu.Lock()
		for _, sub := range b.subs {
			select {
			case sub <- e:
			default:
				b.logger.Debug("subscriber lagging, dropping event", zap.String("type", string(e.Type)))
			}
		}
		b.mu.Unlock()

		for _, sink := range b.sinks {
			if err := sink.Send(context.Background(), e); err != nil {
				b.logger.Warn("event sink failed", zap.String("type", string(e.Type)), zap.Error(err))
			}
		}
	}
}

// Close drains queued events, then closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
