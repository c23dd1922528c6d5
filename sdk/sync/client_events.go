package sync

import (
	"context"
)

// SignalEvent publishes event on the run events topic without waiting for
// the service to acknowledge it.
func (c *Client) SignalEvent(ctx context.Context, event interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := marshalPayload(event)
	if err != nil {
		return err
	}
	// no waiter is registered; the acknowledgement is dropped on arrival.
	return c.send(&request{
		ID:      c.newID(),
		Publish: &publishRequest{Topic: c.keys.EventsKey(), Payload: raw},
	})
}

// SubscribeEvents subscribes to the run events topic.
func (c *Client) SubscribeEvents(ctx context.Context) (*Subscription, error) {
	return c.subscribe(ctx, c.keys.EventsKey())
}
