package sync

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrServiceClosed is returned to every waiter when the service shuts down.
var ErrServiceClosed = errors.New("sync service closed")

// Service is the implementation of a sync service. This service must support
// synchronization actions such as pub-sub and barriers. Keys are opaque to
// the service; scoping them to a run is the client's business.
type Service interface {
	Publish(ctx context.Context, topic string, payload json.RawMessage) (seq int64, err error)
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Barrier(ctx context.Context, state string, target int64) error
	SignalEntry(ctx context.Context, state string) (after int64, err error)
	Close() error
}

// Subscription delivers every item of a topic, starting from the first one,
// in publish order. Exactly one error is sent on doneCh when the delivery
// stops, either because the subscription context fired or the service closed.
type Subscription struct {
	outCh  chan json.RawMessage
	doneCh chan error
}

func newSubscription() *Subscription {
	return &Subscription{
		outCh:  make(chan json.RawMessage),
		doneCh: make(chan error, 1),
	}
}

// C returns the channel items are delivered on.
func (s *Subscription) C() <-chan json.RawMessage {
	return s.outCh
}

// Done returns the channel the terminal error is delivered on.
func (s *Subscription) Done() <-chan error {
	return s.doneCh
}

// PublishRequest represents a publish request.
type PublishRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// PublishResponse represents a publish response.
type PublishResponse struct {
	Seq int64 `json:"seq"`
}

// SubscribeRequest represents a subscribe request.
type SubscribeRequest struct {
	Topic string `json:"topic"`
}

// BarrierRequest represents a barrier request.
type BarrierRequest struct {
	State  string `json:"state"`
	Target int64  `json:"target"`
}

// SignalEntryRequest represents a signal entry request.
type SignalEntryRequest struct {
	State string `json:"state"`
}

// SignalEntryResponse represents a signal entry response.
type SignalEntryResponse struct {
	Seq int64 `json:"seq"`
}

// Request represents a request from the test instance to the sync service.
// The request ID must be present and, unless IsCancel is set, one of the
// requests must be non-nil. The ID will be used on further responses.
type Request struct {
	ID                 string              `json:"id"`
	IsCancel           bool                `json:"is_cancel"`
	PublishRequest     *PublishRequest     `json:"publish,omitempty"`
	SubscribeRequest   *SubscribeRequest   `json:"subscribe,omitempty"`
	BarrierRequest     *BarrierRequest     `json:"barrier,omitempty"`
	SignalEntryRequest *SignalEntryRequest `json:"signal_entry,omitempty"`
}

// Response represents a response from the sync service to a test instance.
// The ID is the same as the request ID. Subscription items are pushed as
// responses carrying the ID of the subscribe request, with the published
// JSON document encoded as a string in SubscribeResponse.
type Response struct {
	ID                  string               `json:"id"`
	Error               string               `json:"error"`
	PublishResponse     *PublishResponse     `json:"publish"`
	SubscribeResponse   interface{}          `json:"subscribe"`
	SignalEntryResponse *SignalEntryResponse `json:"signal_entry"`
}
