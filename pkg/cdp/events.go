package cdp

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/chauffeur/pkg/logging"
)

// Notification is an inbound frame not tied to any command.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Handler receives the params of one notification.
type Handler func(params json.RawMessage)

// NetworkEntry is one captured network occurrence.
type NetworkEntry struct {
	Kind   string `json:"type"`
	URL    string `json:"url"`
	Status int    `json:"status,omitempty"`
}

type subscription struct {
	id string
	fn Handler
}

// Dispatcher classifies inbound notifications, keeps bounded console and
// network logs, and fans notifications out to registered handlers. Handlers
// run on a single worker goroutine in arrival order, so the read loop is
// never blocked by a slow callback and ordering is preserved.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	console  *ringLog[string]
	network  *ringLog[NetworkEntry]

	queue     chan Notification
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	log       *logging.Logger
}

// NewDispatcher creates a dispatcher with the given log capacities and
// notification queue size.
func NewDispatcher(log *logging.Logger, consoleCap, networkCap, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		handlers: make(map[string][]subscription),
		console:  newRingLog[string](consoleCap),
		network:  newRingLog[NetworkEntry](networkCap),
		queue:    make(chan Notification, queueSize),
		done:     make(chan struct{}),
		log:      log,
	}
}

// Start launches the worker goroutine. Idempotent.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Close stops the worker after the queue drains.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
}

// On registers a handler for a notification method and returns the
// subscription id. Handlers for one method run in registration order.
func (d *Dispatcher) On(method string, fn Handler) string {
	if fn == nil {
		return ""
	}
	id := ulid.Make().String()
	d.mu.Lock()
	d.handlers[method] = append(d.handlers[method], subscription{id: id, fn: fn})
	d.mu.Unlock()
	return id
}

// Off removes a subscription by id.
func (d *Dispatcher) Off(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for method, subs := range d.handlers {
		for i, sub := range subs {
			if sub.id == id {
				d.handlers[method] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Dispatch ingests one notification from the read loop. Log classification
// happens inline; handler invocation is queued to the worker. Enqueueing
// blocks when the queue is full so arrival order is never violated.
func (d *Dispatcher) Dispatch(n Notification) {
	d.classify(n)
	metricNotificationsReceived.Inc()

	select {
	case d.queue <- n:
	case <-d.done:
	}
}

// ConsoleLogs returns the captured console lines, oldest first.
func (d *Dispatcher) ConsoleLogs() []string {
	return d.console.Entries()
}

// NetworkEvents returns the captured network entries, oldest first.
func (d *Dispatcher) NetworkEvents() []NetworkEntry {
	return d.network.Entries()
}

func (d *Dispatcher) run() {
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.done:
			// Drain what already arrived before stopping.
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n Notification) {
	d.mu.RLock()
	subs := make([]subscription, len(d.handlers[n.Method]))
	copy(subs, d.handlers[n.Method])
	d.mu.RUnlock()

	for _, sub := range subs {
		d.invoke(n.Method, sub.fn, n.Params)
	}
	metricNotificationsDispatched.Inc()
}

func (d *Dispatcher) invoke(method string, fn Handler, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			if d.log != nil {
				d.log.CallbackPanicked(method, r)
			}
		}
	}()
	fn(params)
}

func (d *Dispatcher) classify(n Notification) {
	switch n.Method {
	case "Console.messageAdded":
		var p struct {
			Message struct {
				Level string `json:"level"`
				Text  string `json:"text"`
			} `json:"message"`
		}
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return
		}
		level := p.Message.Level
		if level == "" {
			level = "log"
		}
		d.console.Append(fmt.Sprintf("[%s] %s", level, p.Message.Text))

	case "Runtime.consoleAPICalled":
		var p struct {
			Type string `json:"type"`
			Args []struct {
				Value       any    `json:"value"`
				Description string `json:"description"`
			} `json:"args"`
		}
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return
		}
		parts := make([]string, 0, len(p.Args))
		for _, a := range p.Args {
			if a.Value != nil {
				parts = append(parts, fmt.Sprint(a.Value))
			} else {
				parts = append(parts, a.Description)
			}
		}
		kind := p.Type
		if kind == "" {
			kind = "log"
		}
		d.console.Append(fmt.Sprintf("[%s] %s", kind, strings.Join(parts, " ")))

	case "Network.requestWillBeSent":
		var p struct {
			Request struct {
				URL string `json:"url"`
			} `json:"request"`
		}
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return
		}
		d.network.Append(NetworkEntry{Kind: "request", URL: p.Request.URL})

	case "Network.responseReceived":
		var p struct {
			Response struct {
				Status int    `json:"status"`
				URL    string `json:"url"`
			} `json:"response"`
		}
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return
		}
		d.network.Append(NetworkEntry{
			Kind:   "response",
			Status: p.Response.Status,
			URL:    truncate(p.Response.URL, 100),
		})
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// ringLog is an append-only, capacity-bounded log. Oldest entries are
// evicted first.
type ringLog[T any] struct {
	mu      sync.Mutex
	entries []T
	cap     int
}

func newRingLog[T any](capacity int) *ringLog[T] {
	if capacity <= 0 {
		capacity = 500
	}
	return &ringLog[T]{cap: capacity}
}

func (r *ringLog[T]) Append(entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.cap {
		evicted := len(r.entries) - r.cap
		r.entries = append(r.entries[:0:0], r.entries[evicted:]...)
		metricLogEntriesEvicted.Add(float64(evicted))
	}
}

func (r *ringLog[T]) Entries() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.entries))
	copy(out, r.entries)
	return out
}
