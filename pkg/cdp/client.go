// Package cdp implements the command/event channel to a browser's remote
// debugging endpoint: target discovery, a correlating command sender over one
// persistent websocket stream, and ordered dispatch of asynchronous
// notifications.
package cdp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odvcencio/chauffeur/pkg/logging"
)

// State is the lifecycle of a connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// DefaultDomains is the fixed set of protocol domains enabled at handshake,
// in order.
var DefaultDomains = []string{"Runtime", "Page", "Network", "Console", "DOM"}

// Options configures a channel.
type Options struct {
	// Addr is the host:port of the debugging endpoint.
	Addr string

	ConnectTimeout time.Duration
	// DefaultTimeout bounds Send calls that pass no explicit timeout.
	DefaultTimeout time.Duration
	// EnableTimeout bounds each per-domain enable command at handshake.
	EnableTimeout time.Duration
	// Domains overrides DefaultDomains when non-nil.
	Domains []string

	ConsoleLogCap  int
	NetworkLogCap  int
	EventQueueSize int
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.EnableTimeout <= 0 {
		o.EnableTimeout = 5 * time.Second
	}
	if o.Domains == nil {
		o.Domains = DefaultDomains
	}
	return o
}

type outboundFrame struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type inboundFrame struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type outcome struct {
	result json.RawMessage
	err    error
}

type pendingRequest struct {
	method      string
	submittedAt time.Time
	done        chan outcome
}

// Channel is one persistent stream to a debugging target plus the
// correlator/dispatcher pair that owns it.
type Channel struct {
	conn   *websocket.Conn
	events *Dispatcher
	log    *logging.Logger
	opts   Options

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest

	state     atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial discovers a debugging target at opts.Addr, opens the stream, starts
// the read loop, and runs the domain handshake. On any establishment failure
// no partial channel is returned.
func Dial(ctx context.Context, opts Options, log *logging.Logger) (*Channel, error) {
	opts = opts.withDefaults()
	start := time.Now()

	targets, err := DiscoverTargets(ctx, opts.Addr, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	wsURL, err := SelectTarget(targets)
	if err != nil {
		return nil, &DiscoveryError{Endpoint: opts.Addr, Err: err}
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.ConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &ConnectError{URL: wsURL, Err: err}
	}

	c := Attach(conn, opts, log)
	c.EnableDomains(ctx)
	c.state.Store(int32(StateOpen))
	if log != nil {
		log.ChannelConnected(wsURL, time.Since(start))
	}
	return c, nil
}

// Attach wraps an already-open websocket stream in a channel and starts its
// read loop. The caller is responsible for the domain handshake; Dial does
// both. Ownership of conn passes to the channel.
func Attach(conn *websocket.Conn, opts Options, log *logging.Logger) *Channel {
	opts = opts.withDefaults()
	c := &Channel{
		conn:    conn,
		events:  NewDispatcher(log, opts.ConsoleLogCap, opts.NetworkLogCap, opts.EventQueueSize),
		log:     log,
		opts:    opts,
		pending: make(map[int64]*pendingRequest),
		closed:  make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.events.Start()
	go c.readLoop()
	return c
}

// State returns the connection lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Events returns the channel's notification dispatcher.
func (c *Channel) Events() *Dispatcher {
	return c.events
}

// On registers a notification handler. See Dispatcher.On.
func (c *Channel) On(method string, fn Handler) string {
	return c.events.On(method, fn)
}

// ConsoleLogs returns the bounded console log.
func (c *Channel) ConsoleLogs() []string {
	return c.events.ConsoleLogs()
}

// NetworkEvents returns the bounded network log.
func (c *Channel) NetworkEvents() []NetworkEntry {
	return c.events.NetworkEvents()
}

// EnableDomains runs the fixed handshake: one enable command per domain, in
// order. Individual failures are logged and tolerated; readiness does not
// depend on every domain succeeding.
func (c *Channel) EnableDomains(ctx context.Context) {
	for _, domain := range c.opts.Domains {
		if _, err := c.Send(ctx, domain+".enable", nil, c.opts.EnableTimeout); err != nil {
			if IsConnectionError(err) {
				return
			}
			if c.log != nil {
				c.log.DomainEnableFailed(domain, &DomainEnableError{Domain: domain, Err: err})
			}
		}
	}
}

// Send issues one command frame and waits for its correlated response, up to
// timeout (the channel default when timeout <= 0). Callers may send
// concurrently; only id allocation and the frame write are serialized.
func (c *Channel) Send(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if c.State() == StateClosed {
		return nil, ErrConnectionClosed
	}
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	if params == nil {
		params = struct{}{}
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	req := &pendingRequest{
		method:      method,
		submittedAt: time.Now(),
		done:        make(chan outcome, 1),
	}
	c.pending[id] = req
	c.mu.Unlock()
	metricPendingRequests.Inc()

	frame := outboundFrame{ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.unregister(id)
		terr := &TransportError{Op: "write", Err: err}
		c.teardown(terr)
		return nil, terr
	}
	metricCommandsSent.Inc()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-req.done:
		return out.result, out.err

	case <-timer.C:
		if c.unregister(id) {
			metricCommandsResolved.WithLabelValues(outcomeTimeout).Inc()
			if c.log != nil {
				c.log.CommandTimeout(method, timeout)
			}
			return nil, &TimeoutError{Method: method, Timeout: timeout}
		}
		// The read loop resolved this request between the timer firing
		// and the unregister; honor that resolution.
		out := <-req.done
		return out.result, out.err

	case <-ctx.Done():
		if c.unregister(id) {
			metricCommandsResolved.WithLabelValues(outcomeCanceled).Inc()
			return nil, ctx.Err()
		}
		out := <-req.done
		return out.result, out.err

	case <-c.closed:
		return nil, ErrConnectionClosed
	}
}

// Close tears the channel down: the connection transitions to Closed, every
// pending request fails with ErrConnectionClosed, and the read loop stops.
func (c *Channel) Close() error {
	c.teardown(nil)
	return nil
}

func (c *Channel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.teardown(&TransportError{Op: "read", Err: err})
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if c.log != nil {
				c.log.Warn("discarding malformed frame", "error", err.Error())
			}
			continue
		}

		switch {
		case frame.ID != nil:
			c.resolve(*frame.ID, frame)
		case frame.Method != "":
			c.events.Dispatch(Notification{Method: frame.Method, Params: frame.Params})
		}
	}
}

// resolve delivers a response to its pending request. Requests already
// discarded by timeout or cancellation are ignored.
func (c *Channel) resolve(id int64, frame inboundFrame) {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	metricPendingRequests.Dec()

	if frame.Error != nil {
		metricCommandsResolved.WithLabelValues(outcomeError).Inc()
		req.done <- outcome{err: &ProtocolError{Method: req.method, Message: frame.Error.Message}}
		return
	}
	metricCommandsResolved.WithLabelValues(outcomeResult).Inc()
	req.done <- outcome{result: frame.Result}
}

// unregister removes a pending request, reporting whether it was still
// registered. Exactly one of unregister/resolve wins for any request.
func (c *Channel) unregister(id int64) bool {
	c.mu.Lock()
	_, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		metricPendingRequests.Dec()
	}
	return ok
}

func (c *Channel) teardown(cause error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.closed)
		c.conn.Close()

		c.mu.Lock()
		stranded := make([]*pendingRequest, 0, len(c.pending))
		for id, req := range c.pending {
			stranded = append(stranded, req)
			delete(c.pending, id)
		}
		c.mu.Unlock()

		for _, req := range stranded {
			metricPendingRequests.Dec()
			metricCommandsResolved.WithLabelValues(outcomeClosed).Inc()
			req.done <- outcome{err: ErrConnectionClosed}
		}

		c.events.Close()
		if c.log != nil {
			c.log.ChannelClosed(len(stranded), cause)
		}
	})
}
