package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// MaxMessageSize bounds a single frame received from the sync service.
const MaxMessageSize = 64 << 20

// sink receives the frames correlated to one request id.
type sink interface {
	// deliver hands over a frame and reports whether the sink expects more.
	deliver(resp *response) (more bool)
	// fail terminates the sink.
	fail(err error)
}

// Client talks to the sync service over a single websocket. Any number of
// goroutines may use it concurrently: requests are tagged with a fresh
// correlation id and a single receive loop routes every incoming frame to
// the waiter registered under that id.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log  *zap.SugaredLogger
	keys Keyspace
	conn *websocket.Conn

	lastID uint64 // atomic

	wlk sync.Mutex // serializes writes on conn

	lk      sync.Mutex
	pending map[string]sink
	closed  bool
}

// NewClient dials the sync service at url. All topic and state names are
// scoped with keys.
//
// The context passed in here governs the lifecycle of the client. Cancelling
// it fails all ongoing operations; for a clean closure, call Close.
func NewClient(ctx context.Context, log *zap.SugaredLogger, url string, keys Keyspace) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sync service at %s: %w", url, err)
	}
	conn.SetReadLimit(MaxMessageSize)

	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
		keys:    keys,
		conn:    conn,
		pending: make(map[string]sink),
	}

	c.wg.Add(1)
	go c.receiveLoop()

	log.Debugw("connected to sync service", "url", url)
	return c, nil
}

// Close closes the connection. Every pending operation returns ErrClosed.
func (c *Client) Close() error {
	c.lk.Lock()
	closed := c.closed
	c.lk.Unlock()

	var err error
	if !closed {
		err = c.conn.Close(websocket.StatusNormalClosure, "")
	}
	c.cancel()
	c.wg.Wait()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()

	var err error
	for {
		var resp response
		if err = wsjson.Read(c.ctx, c.conn, &resp); err != nil {
			break
		}
		c.dispatch(&resp)
	}

	status := websocket.CloseStatus(err)
	if c.ctx.Err() == nil && status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		c.log.Warnw("sync service connection lost", "error", err)
	}
	c.shutdown()
}

func (c *Client) dispatch(resp *response) {
	c.lk.Lock()
	s, ok := c.pending[resp.ID]
	c.lk.Unlock()

	if !ok {
		// replies to fire-and-forget and cancelled requests land here.
		return
	}
	if !s.deliver(resp) {
		c.unregister(resp.ID)
	}
}

// shutdown marks the client closed and releases every pending waiter.
func (c *Client) shutdown() {
	c.lk.Lock()
	pending := c.pending
	c.pending = nil
	c.closed = true
	c.lk.Unlock()

	c.cancel()

	for _, s := range pending {
		s.fail(ErrClosed)
	}
}

func (c *Client) newID() string {
	return strconv.FormatUint(atomic.AddUint64(&c.lastID, 1), 10)
}

// register makes id routable. It must happen before the request is sent, so
// the receive loop can never observe a reply it cannot route.
func (c *Client) register(id string, s sink) error {
	c.lk.Lock()
	defer c.lk.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.pending[id] = s
	return nil
}

// unregister reports whether id was still pending.
func (c *Client) unregister(id string) bool {
	c.lk.Lock()
	defer c.lk.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Client) send(req *request) error {
	c.wlk.Lock()
	defer c.wlk.Unlock()

	// a write aborted by its context tears the whole connection down, so
	// writes only ever observe the client's own lifetime.
	if err := wsjson.Write(c.ctx, c.conn, req); err != nil {
		if c.ctx.Err() != nil {
			return ErrClosed
		}
		return fmt.Errorf("failed to send request %s: %w", req.ID, err)
	}
	return nil
}

// sendCancel asks the service to stop working on request id.
func (c *Client) sendCancel(id string) {
	if err := c.send(&request{ID: id, IsCancel: true}); err != nil {
		c.log.Debugw("failed to cancel request", "id", id, "error", err)
	}
}

// call is a sink for a request answered by exactly one frame.
type call struct {
	ch chan callResult
}

type callResult struct {
	resp *response
	err  error
}

func (c *call) deliver(resp *response) bool {
	c.ch <- callResult{resp: resp}
	return false
}

func (c *call) fail(err error) {
	c.ch <- callResult{err: err}
}

// roundTrip sends req and waits for its single reply. If ctx fires first,
// the request is cancelled on the service.
func (c *Client) roundTrip(ctx context.Context, verb string, req *request) (*response, error) {
	req.ID = c.newID()
	cl := &call{ch: make(chan callResult, 1)}

	if err := c.register(req.ID, cl); err != nil {
		return nil, err
	}
	if err := c.send(req); err != nil {
		c.unregister(req.ID)
		return nil, err
	}

	select {
	case res := <-cl.ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != "" {
			return nil, &ResponseError{Verb: verb, ID: req.ID, Message: res.resp.Error}
		}
		return res.resp, nil
	case <-ctx.Done():
		if c.unregister(req.ID) {
			c.sendCancel(req.ID)
		}
		return nil, ctx.Err()
	}
}
