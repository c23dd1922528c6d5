package sync

import (
	"context"
)

// Barrier blocks until target participants have signalled entry on state.
// There is no timeout: it returns early only if ctx fires, the service
// reports an error, or the client is closed.
func (c *Client) Barrier(ctx context.Context, state string, target int) error {
	key := c.keys.StateKey(state)
	c.log.Debugw("waiting on barrier", "key", key, "target", target)

	_, err := c.roundTrip(ctx, "barrier", &request{
		Barrier: &barrierRequest{State: key, Target: int64(target)},
	})
	return err
}

// SignalEntry increments the counter of state and returns its new value.
// Concurrent participants obtain distinct values, starting with 1, in the
// order the service receives their signals.
func (c *Client) SignalEntry(ctx context.Context, state string) (int64, error) {
	key := c.keys.StateKey(state)

	resp, err := c.roundTrip(ctx, "signal_entry", &request{
		SignalEntry: &signalEntryRequest{State: key},
	})
	if err != nil {
		return 0, err
	}
	if resp.SignalEntry == nil {
		return 0, &ResponseError{Verb: "signal_entry", ID: resp.ID, Message: "response carries no sequence number"}
	}

	c.log.Debugw("signalled entry", "key", key, "seq", resp.SignalEntry.Seq)
	return resp.SignalEntry.Seq, nil
}
