package sync

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned to every pending operation when the connection to
	// the sync service is closed, locally or by the remote end.
	ErrClosed = errors.New("sync client closed")

	// ErrSubscriptionClosed is returned by Next once a subscription has been
	// closed by its owner.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Keyspace scopes topic and state names to one run. runtime.RunParams
// implements it.
type Keyspace interface {
	TopicKey(topic string) string
	StateKey(name string) string
	EventsKey() string
}

// ResponseError is a failure reported by the sync service for one request.
type ResponseError struct {
	Verb    string
	ID      string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("sync service rejected %s request %s: %s", e.Verb, e.ID, e.Message)
}

type publishRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type subscribeRequest struct {
	Topic string `json:"topic"`
}

type barrierRequest struct {
	State  string `json:"state"`
	Target int64  `json:"target"`
}

type signalEntryRequest struct {
	State string `json:"state"`
}

type request struct {
	ID          string              `json:"id"`
	IsCancel    bool                `json:"is_cancel,omitempty"`
	Publish     *publishRequest     `json:"publish,omitempty"`
	Subscribe   *subscribeRequest   `json:"subscribe,omitempty"`
	Barrier     *barrierRequest     `json:"barrier,omitempty"`
	SignalEntry *signalEntryRequest `json:"signal_entry,omitempty"`
}

type seqResponse struct {
	Seq int64 `json:"seq"`
}

type response struct {
	ID          string          `json:"id"`
	Error       string          `json:"error"`
	Publish     *seqResponse    `json:"publish"`
	Subscribe   json.RawMessage `json:"subscribe"`
	SignalEntry *seqResponse    `json:"signal_entry"`
}

// item extracts a subscription payload. The service carries it as a JSON
// string holding the published document; anything else is taken as is.
func (r *response) item() (json.RawMessage, bool) {
	raw := r.Subscribe
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	if raw[0] != '"' {
		return raw, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}
