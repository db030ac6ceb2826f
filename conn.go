package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is the rejection every pending call receives when the connection
// closes underneath it, and the immediate failure of any Send issued after.
var ErrClosed = errors.New("connection closed")

// NewConn creates a Conn on top of an established transport and starts the
// receiver goroutine that classifies inbound traffic. The logger defaults to
// slog.Default() when nil.
//
// The Conn owns the transport from this point on: closing the Conn closes the
// transport, and a transport failure closes the Conn.
func NewConn(t Transport, log *slog.Logger, opts ...ConnOpt) *Conn {
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		transport: t,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[int64]*pendingCall),
		handlers:  make(map[string][]*handlerEntry),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.receiver()

	return c
}

// Conn multiplexes many concurrent command invocations and unsolicited event
// notifications over one shared duplex transport. Commands get a monotonically
// increasing correlation id and a pending entry that is settled exactly once;
// events fan out to every handler registered for their method name, in
// registration order. Method names are opaque keys: the Conn never
// special-cases any of them.
type Conn struct {
	transport   Transport
	log         *slog.Logger
	callTimeout time.Duration // default deadline for Call when the ctx has none; zero means wait forever
	metrics     *Metrics

	verbose atomic.Bool // mirrors raw frames to the log when set

	sendLock sync.Mutex // serializes id allocation and writes so wire order matches call order
	nextID   int64

	pendingLock sync.Mutex
	pending     map[int64]*pendingCall
	closed      bool // set once under pendingLock; Send fails fast after

	handlersLock sync.RWMutex
	handlers     map[string][]*handlerEntry

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutOnce sync.Once
}

// handlerEntry wraps a registered EventHandler so that a specific registration
// instance can be removed even though func values are not comparable.
type handlerEntry struct {
	fn EventHandler
}

// pendingCall is the bookkeeping record for one in-flight command. Its
// respChan is 1-buffered and settled exactly once, by the matching response or
// by shutdown.
type pendingCall struct {
	respChan chan Result
	method   string
	issuedAt time.Time
}

// Send issues one command and returns a 1-buffered channel that settles
// exactly once with the command's result. The returned channel is closed after
// settlement. Callers that discard the channel still cost one pending entry
// until the matching response retires it; that is symmetric with awaited calls
// and keeps the pending table honest.
//
// Send fails immediately with ErrClosed once the connection is closed.
func (c *Conn) Send(ctx context.Context, method string, params any) (<-chan Result, error) {
	respChan, _, err := c.send(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return respChan, nil
}

func (c *Conn) send(ctx context.Context, method string, params any) (chan Result, int64, error) {
	if method == "" {
		return nil, 0, errors.New("empty method")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rawParams json.RawMessage
	if params != nil {
		var err error
		rawParams, err = json.Marshal(params)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal params for %s: %w", method, err)
		}
	}

	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	c.pendingLock.Lock()
	if c.closed {
		c.pendingLock.Unlock()
		return nil, 0, ErrClosed
	}
	c.nextID++
	id := c.nextID
	pc := &pendingCall{
		respChan: make(chan Result, 1),
		method:   method,
		issuedAt: time.Now(),
	}
	c.pending[id] = pc
	c.pendingLock.Unlock()

	raw, err := json.Marshal(&message{ID: &id, Method: method, Params: rawParams})
	if err != nil {
		c.forgetPending(id)
		return nil, 0, fmt.Errorf("marshal command %s: %w", method, err)
	}

	if err := c.transport.Send(ctx, raw); err != nil {
		c.forgetPending(id)
		return nil, 0, fmt.Errorf("send %s: %w", method, err)
	}

	c.metrics.commandSent(method)
	c.trace("send", raw)
	c.log.Debug("sent command",
		slog.Int64("id", id),
		slog.String("method", method))

	return pc.respChan, id, nil
}

// Call issues one command and waits for its result. When the ctx carries no
// deadline and the Conn was built with WithCallTimeout, that timeout applies;
// otherwise Call waits until the response arrives or the connection closes.
// On ctx expiry the pending entry is dropped so a late response is discarded.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	respChan, id, err := c.send(ctx, method, params)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-respChan:
		return res.Value, res.Err
	case <-ctx.Done():
		c.forgetPending(id)
		return nil, ctx.Err()
	}
}

// On registers a handler for the named event. Handlers for one method fire in
// registration order; registering the same function twice makes it fire twice.
// The returned closure removes that one registration and is safe to call more
// than once.
func (c *Conn) On(method string, h EventHandler) (off func()) {
	entry := &handlerEntry{fn: h}

	c.handlersLock.Lock()
	c.handlers[method] = append(c.handlers[method], entry)
	c.handlersLock.Unlock()

	return func() {
		c.handlersLock.Lock()
		defer c.handlersLock.Unlock()
		seq := c.handlers[method]
		for i, e := range seq {
			if e == entry {
				c.handlers[method] = append(seq[:i:i], seq[i+1:]...)
				return
			}
		}
	}
}

// SetVerbose toggles mirroring of raw wire traffic to the log. The toggle has
// no effect on correlation, ordering, or delivery; it may be flipped at any
// time, including while calls are pending.
func (c *Conn) SetVerbose(enabled bool) {
	c.verbose.Store(enabled)
}

// Verbose reports whether wire tracing is enabled.
func (c *Conn) Verbose() bool {
	return c.verbose.Load()
}

// Done is closed once the connection is closed, whether by Close or by a
// transport failure.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close severs the transport, rejects every pending call with ErrClosed and
// waits for the receiver to drain. There is no reopening a closed Conn.
func (c *Conn) Close() error {
	c.shutdown(nil)
	c.wg.Wait()
	return nil
}

// shutdown transitions the Conn to its terminal state exactly once.
func (c *Conn) shutdown(cause error) {
	c.shutOnce.Do(func() {
		c.cancel()
		if err := c.transport.Close(); err != nil {
			c.log.Debug("transport close", slog.String("error", err.Error()))
		}

		c.pendingLock.Lock()
		c.closed = true
		orphans := c.pending
		c.pending = make(map[int64]*pendingCall)
		c.pendingLock.Unlock()

		rejection := ErrClosed
		if cause != nil {
			rejection = fmt.Errorf("%w: %w", ErrClosed, cause)
		}
		for id, pc := range orphans {
			c.log.Debug("rejecting pending call",
				slog.Int64("id", id),
				slog.String("method", pc.method),
				slog.Duration("age", time.Since(pc.issuedAt)))
			pc.respChan <- Result{Err: rejection}
			close(pc.respChan)
		}

		c.log.Debug("connection closed")
	})
}

// forgetPending removes one pending entry without settling it. Used when a
// write failed or a caller abandoned the call; a late response for the id is
// then discarded as unmatched.
func (c *Conn) forgetPending(id int64) {
	c.pendingLock.Lock()
	defer c.pendingLock.Unlock()
	if pc, ok := c.pending[id]; ok {
		delete(c.pending, id)
		close(pc.respChan)
	}
}

// trace mirrors one raw frame to the log when verbose mode is on.
func (c *Conn) trace(dir string, raw []byte) {
	if !c.verbose.Load() {
		return
	}
	c.log.Info("wire",
		slog.String("dir", dir),
		slog.String("frame", string(raw)))
}
