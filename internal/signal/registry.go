package signal

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/conference-signal/internal/store"
)

// Registry tracks which server events have a forwarding listener on the
// current connection. Each name is registered at most once per connection.
type Registry struct {
	logger *slog.Logger

	mu    sync.Mutex
	conn  Connection
	names map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		names:  make(map[string]struct{}),
	}
}

// Subscribe forwards every occurrence of name on conn as EventOccurred.
// Returns false if name is already forwarded on conn.
func (r *Registry) Subscribe(conn Connection, name string, dispatch func(store.Action)) bool {
	r.mu.Lock()
	if r.conn != conn {
		// A different connection starts with an empty set.
		r.conn = conn
		r.names = make(map[string]struct{})
	}
	if _, ok := r.names[name]; ok {
		r.mu.Unlock()
		r.logger.Debug("event already subscribed", "event", name)
		return false
	}
	r.names[name] = struct{}{}
	r.mu.Unlock()

	conn.On(name, func(payload json.RawMessage) {
		if !r.holds(conn) {
			return
		}
		dispatch(EventOccurred{Name: name, Payload: payload})
	})

	r.logger.Debug("subscribed event", "event", name)
	return true
}

// holds reports whether conn is the connection the registry tracks. Events
// from a connection that was reset or replaced are dropped.
func (r *Registry) holds(conn Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn == conn
}

// Reset forgets the current connection and its subscriptions.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.conn = nil
	r.names = make(map[string]struct{})
	r.mu.Unlock()
}

// Names returns the subscribed event names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
