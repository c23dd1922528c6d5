package sync

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// MemoryService is a Service holding all states and topics in process memory.
// It serves a single sync server and is what tests run against.
type MemoryService struct {
	log *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	states map[string]int64
	topics map[string][]json.RawMessage
	// changed is closed and replaced on every mutation, waking up all
	// barriers and subscriptions waiting on it.
	changed chan struct{}
}

var _ Service = (*MemoryService)(nil)

func NewMemoryService(log *zap.SugaredLogger) *MemoryService {
	return &MemoryService{
		log:     log,
		states:  make(map[string]int64),
		topics:  make(map[string][]json.RawMessage),
		changed: make(chan struct{}),
	}
}

func (s *MemoryService) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *MemoryService) Publish(ctx context.Context, topic string, payload json.RawMessage) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	item := make(json.RawMessage, len(payload))
	copy(item, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrServiceClosed
	}
	s.topics[topic] = append(s.topics[topic], item)
	seq := int64(len(s.topics[topic]))
	s.notifyLocked()

	s.log.Debugw("published item", "topic", topic, "seq", seq)
	return seq, nil
}

func (s *MemoryService) SignalEntry(ctx context.Context, state string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrServiceClosed
	}
	s.states[state]++
	seq := s.states[state]
	s.notifyLocked()

	s.log.Debugw("new value of state", "key", state, "value", seq)
	return seq, nil
}

func (s *MemoryService) Barrier(ctx context.Context, state string, target int64) error {
	if target <= 0 {
		s.log.Warnw("requested a barrier with target zero; satisfying immediately", "state", state)
		return nil
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrServiceClosed
		}
		curr, ch := s.states[state], s.changed
		s.mu.Unlock()

		if curr >= target {
			s.log.Debugw("barrier was hit", "key", state, "target", target, "curr", curr)
			return nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *MemoryService) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrServiceClosed
	}

	sub := newSubscription()
	go s.feed(ctx, topic, sub)
	return sub, nil
}

// feed delivers the items of topic to sub, from the first one onwards.
func (s *MemoryService) feed(ctx context.Context, topic string, sub *Subscription) {
	next := 0
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			sub.doneCh <- ErrServiceClosed
			return
		}
		// items published later never modify this window.
		items, ch := s.topics[topic][next:], s.changed
		s.mu.Unlock()

		for _, item := range items {
			select {
			case sub.outCh <- item:
				next++
			case <-ctx.Done():
				sub.doneCh <- ctx.Err()
				return
			}
		}
		if len(items) > 0 {
			continue
		}

		select {
		case <-ch:
		case <-ctx.Done():
			sub.doneCh <- ctx.Err()
			return
		}
	}
}

// Close fails every pending barrier and subscription with ErrServiceClosed.
func (s *MemoryService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.notifyLocked()
	}
	return nil
}
