package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed while serializing payload: %w", err)
	}
	return b, nil
}

// Publish publishes an item on the supplied topic. A json.RawMessage payload
// is sent verbatim; anything else is marshalled to JSON.
//
// It returns the sequence number of the item in the topic, starting with 1.
func (c *Client) Publish(ctx context.Context, topic string, payload interface{}) (int64, error) {
	return c.publish(ctx, c.keys.TopicKey(topic), payload)
}

func (c *Client) publish(ctx context.Context, key string, payload interface{}) (int64, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return 0, err
	}

	resp, err := c.roundTrip(ctx, "publish", &request{
		Publish: &publishRequest{Topic: key, Payload: raw},
	})
	if err != nil {
		return 0, err
	}
	if resp.Publish == nil {
		return 0, &ResponseError{Verb: "publish", ID: resp.ID, Message: "response carries no sequence number"}
	}

	c.log.Debugw("published item", "key", key, "seq", resp.Publish.Seq)
	return resp.Publish.Seq, nil
}

// Subscription is the consumer end of a topic. Items are queued by the
// client's receive loop as they arrive and handed out by Next in that order.
type Subscription struct {
	c     *Client
	id    string
	topic string

	mu     sync.Mutex
	items  []json.RawMessage
	err    error
	notify chan struct{}
}

func (s *Subscription) deliver(resp *response) bool {
	if resp.Error != "" {
		s.fail(&ResponseError{Verb: "subscribe", ID: resp.ID, Message: resp.Error})
		return false
	}
	item, ok := resp.item()
	if !ok {
		s.c.log.Warnw("dropping malformed subscription item", "topic", s.topic)
		return true
	}

	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	s.wake()
	return true
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next item of the topic, blocking until one arrives. Items
// already queued are still returned after the subscription failed.
func (s *Subscription) Next(ctx context.Context) (json.RawMessage, error) {
	for {
		s.mu.Lock()
		if len(s.items) > 0 {
			item := s.items[0]
			s.items[0] = nil
			s.items = s.items[1:]
			s.mu.Unlock()
			return item, nil
		}
		err := s.err
		s.mu.Unlock()

		if err != nil {
			return nil, err
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops the subscription on the service.
func (s *Subscription) Close() {
	if s.c.unregister(s.id) {
		s.c.sendCancel(s.id)
	}
	s.fail(ErrSubscriptionClosed)
}

// Subscribe subscribes to topic. Every item ever published on it is
// delivered, in publish order, starting with the first one.
func (c *Client) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return c.subscribe(ctx, c.keys.TopicKey(topic))
}

func (c *Client) subscribe(ctx context.Context, key string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		c:      c,
		id:     c.newID(),
		topic:  key,
		notify: make(chan struct{}, 1),
	}
	if err := c.register(sub.id, sub); err != nil {
		return nil, err
	}
	if err := c.send(&request{ID: sub.id, Subscribe: &subscribeRequest{Topic: key}}); err != nil {
		c.unregister(sub.id)
		return nil, err
	}

	c.log.Debugw("subscribed", "key", key, "id", sub.id)
	return sub, nil
}

// SubscribeN subscribes to topic and returns its first n items.
func (c *Client) SubscribeN(ctx context.Context, topic string, n int) ([]json.RawMessage, error) {
	sub, err := c.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	defer sub.Close()
	return sub.take(ctx, n)
}

// take returns the next n items of the subscription.
func (s *Subscription) take(ctx context.Context, n int) ([]json.RawMessage, error) {
	items := make([]json.RawMessage, 0, n)
	for len(items) < n {
		item, err := s.Next(ctx)
		if err != nil {
			return items, fmt.Errorf("received %d of %d items on %s: %w", len(items), n, s.topic, err)
		}
		items = append(items, item)
	}
	return items, nil
}
