// Package events provides the typed publish/subscribe bus of the editor.
//
// Dispatch is synchronous: Emit returns after every subscriber ran. A
// panicking subscriber does not affect the others; the panic is reported on
// the error.occurred topic instead.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/domain"
)

// Event is the untyped envelope seen by OnAny subscribers and streams.
type Event struct {
	Type    domain.EventType `json:"type"`
	Payload any              `json:"payload"`
	At      time.Time        `json:"at"`
}

// Topic binds an event name to its payload type.
type Topic[T any] struct {
	Name domain.EventType
}

type subscription struct {
	id    uint64
	fn    func(Event)
	once  bool
	fired atomic.Bool
}

// Bus is a synchronous event dispatcher. The zero value is not usable; call NewBus.
type Bus struct {
	mu     sync.RWMutex
	topics map[domain.EventType][]*subscription
	any    []*subscription
	nextID uint64

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		topics: make(map[domain.EventType][]*subscription),
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On subscribes fn to a topic and returns the unsubscribe func.
func On[T any](b *Bus, t Topic[T], fn func(T)) func() {
	return b.subscribe(t.Name, wrap(fn), false)
}

// Once subscribes fn for a single delivery.
func Once[T any](b *Bus, t Topic[T], fn func(T)) func() {
	return b.subscribe(t.Name, wrap(fn), true)
}

// Emit delivers payload to the topic's subscribers, then to OnAny subscribers.
func Emit[T any](b *Bus, t Topic[T], payload T) {
	b.publish(Event{Type: t.Name, Payload: payload, At: b.now()})
}

// OnAny subscribes fn to every event.
func (b *Bus) OnAny(fn func(Event)) func() {
	return b.subscribe("", fn, false)
}

// Count returns the number of subscribers of a topic name.
func (b *Bus) Count(name domain.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[name])
}

func wrap[T any](fn func(T)) func(Event) {
	return func(e Event) {
		payload, _ := e.Payload.(T)
		fn(payload)
	}
}

func (b *Bus) subscribe(name domain.EventType, fn func(Event), once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{id: b.nextID, fn: fn, once: once}
	if name == "" {
		b.any = append(b.any, sub)
	} else {
		b.topics[name] = append(b.topics[name], sub)
	}
	return func() { b.unsubscribe(name, sub.id) }
}

func (b *Bus) unsubscribe(name domain.EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remove := func(subs []*subscription) []*subscription {
		out := subs[:0:0]
		for _, s := range subs {
			if s.id != id {
				out = append(out, s)
			}
		}
		return out
	}
	if name == "" {
		b.any = remove(b.any)
		return
	}
	b.topics[name] = remove(b.topics[name])
	if len(b.topics[name]) == 0 {
		delete(b.topics, name)
	}
}

func (b *Bus) publish(e Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.topics[e.Type])+len(b.any))
	subs = append(subs, b.topics[e.Type]...)
	subs = append(subs, b.any...)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.once {
			if !s.fired.CompareAndSwap(false, true) {
				continue
			}
			b.unsubscribe(e.Type, s.id)
		}
		b.invoke(s, e)
	}
}

func (b *Bus) invoke(s *subscription, e Event) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("handler for %s panicked: %v", e.Type, r)
		if e.Type == domain.EventErrorOccurred {
			// Failures while handling errors are not re-published.
			b.logger.Error("error handler failed", "error", err)
			return
		}
		b.logger.Warn("event handler failed", "event", e.Type, "error", err)
		Emit(b, ErrorOccurred, domain.ErrorEvent{
			Source:  "events",
			Err:     err,
			Error:   err.Error(),
			Context: map[string]any{"event": string(e.Type)},
		})
	}()
	s.fn(e)
}
