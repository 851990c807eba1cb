package events

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/aretw0/formtree/internal/logging"
)

// DefaultStreamBuffer is the per-subscriber channel capacity.
const DefaultStreamBuffer = 16

// Stream fans bus events out to channel subscribers (SSE clients).
// A subscriber whose buffer is full misses the event; the bus never blocks.
type Stream struct {
	mu     sync.RWMutex
	subs   map[chan Event][]string
	buffer int
	cancel func()
	logger *slog.Logger
}

// NewStream attaches a stream to the bus. Buffer values below 1 use DefaultStreamBuffer.
func NewStream(b *Bus, buffer int, logger *slog.Logger) *Stream {
	if buffer < 1 {
		buffer = DefaultStreamBuffer
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Stream{
		subs:   make(map[chan Event][]string),
		buffer: buffer,
		logger: logger,
	}
	s.cancel = b.OnAny(s.broadcast)
	return s
}

// Subscribe returns a channel receiving events whose name starts with one of
// the prefixes (all events when none is given) and its cancel func.
func (s *Stream) Subscribe(prefixes ...string) (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, s.buffer)
	s.subs[ch] = prefixes
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

// Subscribers returns the number of attached subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close detaches from the bus and closes every subscriber channel.
func (s *Stream) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		close(ch)
	}
	s.subs = make(map[chan Event][]string)
}

func (s *Stream) broadcast(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch, prefixes := range s.subs {
		if !matches(string(e.Type), prefixes) {
			continue
		}
		select {
		case ch <- e:
		default:
			s.logger.Warn("stream subscriber buffer full, dropping event", "event", e.Type)
		}
	}
}

func matches(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
