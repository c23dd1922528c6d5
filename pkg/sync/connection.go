package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// operationTimeout bounds the non-blocking verbs, publish and signal_entry.
const operationTimeout = 10 * time.Second

type connection struct {
	*websocket.Conn
	service   Service
	ctx       context.Context
	log       *zap.SugaredLogger
	responses chan *Response

	lk          sync.Mutex
	cancelFuncs map[string]context.CancelFunc
}

func (c *connection) consumeRequests() error {
	for {
		var req *Request
		if err := wsjson.Read(c.ctx, c.Conn, &req); err != nil {
			return err
		}
		if req == nil {
			continue
		}

		c.handle(req)
	}
}

// handle dispatches req to its handler. Cancellable requests are tracked
// before the handler starts, so an is_cancel read right after them is never
// lost.
func (c *connection) handle(req *Request) {
	if req.IsCancel {
		c.cancel(req.ID)
		return
	}

	switch {
	case req.PublishRequest != nil:
		go c.publishHandler(req.ID, req.PublishRequest)
	case req.SubscribeRequest != nil:
		ctx, done := c.track(req.ID)
		go c.subscribeHandler(ctx, done, req.ID, req.SubscribeRequest)
	case req.BarrierRequest != nil:
		ctx, done := c.track(req.ID)
		go c.barrierHandler(ctx, done, req.ID, req.BarrierRequest)
	case req.SignalEntryRequest != nil:
		go c.signalEntryHandler(req.ID, req.SignalEntryRequest)
	default:
		c.log.Warnw("request without operation", "id", req.ID)
		go c.respond(&Response{ID: req.ID, Error: "request carries no operation"})
	}
}

// track derives a context for request id that an is_cancel request with the
// same id fires. The returned func releases it.
func (c *connection) track(id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(c.ctx)

	c.lk.Lock()
	c.cancelFuncs[id] = cancel
	c.lk.Unlock()

	return ctx, func() {
		c.lk.Lock()
		delete(c.cancelFuncs, id)
		c.lk.Unlock()
		cancel()
	}
}

func (c *connection) cancel(id string) {
	c.lk.Lock()
	cancel, ok := c.cancelFuncs[id]
	c.lk.Unlock()

	if ok {
		c.log.Debugw("cancelling request", "id", id)
		cancel()
	}
}

func (c *connection) respond(resp *Response) {
	select {
	case c.responses <- resp:
	case <-c.ctx.Done():
	}
}

func (c *connection) publishHandler(id string, req *PublishRequest) {
	ctx, cancel := context.WithTimeout(c.ctx, operationTimeout)
	defer cancel()

	resp := &Response{ID: id}
	seq, err := c.service.Publish(ctx, req.Topic, req.Payload)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.PublishResponse = &PublishResponse{Seq: seq}
	}
	c.respond(resp)
}

func (c *connection) subscribeHandler(ctx context.Context, done func(), id string, req *SubscribeRequest) {
	defer done()

	sub, err := c.service.Subscribe(ctx, req.Topic)
	if err != nil {
		c.respond(&Response{ID: id, Error: err.Error()})
		return
	}

	for {
		select {
		case data := <-sub.outCh:
			c.respond(&Response{ID: id, SubscribeResponse: string(data)})
		case err = <-sub.doneCh:
			if errors.Is(err, context.Canceled) {
				// Cancelled by the user.
				return
			}
			c.respond(&Response{ID: id, Error: err.Error()})
			return
		}
	}
}

func (c *connection) barrierHandler(ctx context.Context, done func(), id string, req *BarrierRequest) {
	defer done()

	err := c.service.Barrier(ctx, req.State, req.Target)
	if errors.Is(err, context.Canceled) {
		return
	}

	resp := &Response{ID: id}
	if err != nil {
		resp.Error = fmt.Sprintf("barrier %s: %s", req.State, err)
	}
	c.respond(resp)
}

func (c *connection) signalEntryHandler(id string, req *SignalEntryRequest) {
	ctx, cancel := context.WithTimeout(c.ctx, operationTimeout)
	defer cancel()

	resp := &Response{ID: id}
	seq, err := c.service.SignalEntry(ctx, req.State)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.SignalEntryResponse = &SignalEntryResponse{Seq: seq}
	}
	c.respond(resp)
}

func (c *connection) consumeResponses() error {
	for {
		select {
		case resp := <-c.responses:
			if err := c.writeTimeout(operationTimeout, resp); err != nil {
				c.log.Debugw("failed to write response", "id", resp.ID, "error", err)
				return err
			}
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

func (c *connection) writeTimeout(timeout time.Duration, resp *Response) error {
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	return wsjson.Write(ctx, c.Conn, resp)
}
