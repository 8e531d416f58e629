package bus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
)

const subscriberBuffer = 64

// Memory is an in-process Bus. Slow subscribers do not block publishers:
// once a subscriber's buffer is full, events for it are dropped and counted.
type Memory struct {
	mu          sync.Mutex
	subscribers map[*memorySubscription]struct{}
	closed      bool
	logger      pslog.Logger
}

// NewMemory builds an in-process bus.
func NewMemory(logger pslog.Logger) *Memory {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Memory{
		subscribers: make(map[*memorySubscription]struct{}),
		logger:      logger,
	}
}

type memorySubscription struct {
	bus     *Memory
	ch      chan Event
	dropped int
	once    sync.Once
}

func (s *memorySubscription) Events() <-chan Event { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// Publish fans the event out to every subscriber without blocking.
func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	for sub := range m.subscribers {
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
			m.logger.Debug("bus.drop",
				"event_type", string(event.Type),
				"unit", event.UnitID,
				"dropped_total", sub.dropped,
			)
		}
	}
	return nil
}

// Subscribe attaches a new observer.
func (m *Memory) Subscribe(_ context.Context) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &memorySubscription{bus: m, ch: make(chan Event, subscriberBuffer)}
	if !m.closed {
		m.subscribers[sub] = struct{}{}
	} else {
		close(sub.ch)
	}
	return sub, nil
}

// Close detaches all subscribers and closes their channels.
func (m *Memory) Close() error {
	m.mu.Lock()
	subs := make([]*memorySubscription, 0, len(m.subscribers))
	for sub := range m.subscribers {
		subs = append(subs, sub)
	}
	m.closed = true
	m.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

var _ Bus = (*Memory)(nil)
