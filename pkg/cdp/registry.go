package cdp

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks live channels for whatever hosts them. It replaces any
// notion of a global "current connection": holders address channels through
// an explicit registry reference.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Add registers a channel and returns its connection id.
func (r *Registry) Add(ch *Channel) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.channels[id] = ch
	r.mu.Unlock()
	return id
}

// Get returns a channel by connection id.
func (r *Registry) Get(id string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Remove closes and removes a channel.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	ch, ok := r.channels[id]
	if ok {
		delete(r.channels, id)
	}
	r.mu.Unlock()
	if !ok || ch == nil {
		return ErrConnectionClosed
	}
	return ch.Close()
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Close closes every registered channel.
func (r *Registry) Close() error {
	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	var lastErr error
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		if err := ch.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
