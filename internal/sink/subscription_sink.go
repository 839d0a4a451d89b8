package sink

import (
	"context"
	"sync"

	"github.com/phuonganhcorn/media-fetch/internal/domain"
)

// SubscriptionSink fans terminal jobs out to in-process subscribers over
// buffered channels. A chat-bot adapter consumes this to push completion
// messages without the core knowing about the bot transport.
type SubscriptionSink struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan domain.Job
	buffer int
}

func NewSubscriptionSink(buffer int) *SubscriptionSink {
	if buffer <= 0 {
		buffer = 16
	}
	return &SubscriptionSink{
		subs:   make(map[int]chan domain.Job),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel function removes
// the subscription and closes its channel.
func (s *SubscriptionSink) Subscribe() (<-chan domain.Job, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan domain.Job, s.buffer)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ch, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// OnTerminal delivers the snapshot to every subscriber without blocking.
// A subscriber that has fallen behind misses the event; it can recover the
// state through a status query.
func (s *SubscriptionSink) OnTerminal(_ context.Context, job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- job:
		default:
		}
	}
}
