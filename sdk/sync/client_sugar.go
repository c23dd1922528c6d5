package sync

import (
	"context"
	"encoding/json"
	"fmt"
)

// PublishAndWait composes Publish and a Barrier. It first publishes the
// provided payload to the specified topic, then awaits for a barrier on the
// supplied state to reach the indicated target.
//
// If Publish succeeds but the Barrier fails, the seq number is still
// returned alongside the error.
func (c *Client) PublishAndWait(ctx context.Context, topic string, payload interface{}, state string, target int) (int64, error) {
	seq, err := c.Publish(ctx, topic, payload)
	if err != nil {
		return 0, err
	}
	return seq, c.Barrier(ctx, state, target)
}

// SignalAndWait composes SignalEntry and Barrier, signalling entry on the
// supplied state, and then awaiting until the required value has been reached.
func (c *Client) SignalAndWait(ctx context.Context, state string, target int) (int64, error) {
	seq, err := c.SignalEntry(ctx, state)
	if err != nil {
		return 0, fmt.Errorf("failed while signalling entry to state %s: %w", state, err)
	}
	return seq, c.Barrier(ctx, state, target)
}

// PublishSubscribe publishes the payload on the supplied topic, then
// subscribes to it.
func (c *Client) PublishSubscribe(ctx context.Context, topic string, payload interface{}) (int64, *Subscription, error) {
	seq, err := c.Publish(ctx, topic, payload)
	if err != nil {
		return 0, nil, err
	}
	sub, err := c.Subscribe(ctx, topic)
	if err != nil {
		return seq, nil, err
	}
	return seq, sub, nil
}

// PublishSubscribeN publishes payload on topic and returns the first n items
// of the topic, this one included. When n participants call it with distinct
// payloads, every one of them gets the same n items in the same order.
func (c *Client) PublishSubscribeN(ctx context.Context, topic string, payload interface{}, n int) ([]json.RawMessage, error) {
	_, sub, err := c.PublishSubscribe(ctx, topic, payload)
	if err != nil {
		return nil, err
	}
	defer sub.Close()
	return sub.take(ctx, n)
}
