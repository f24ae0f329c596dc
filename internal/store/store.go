package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStoreClosed is returned by Run when the store was closed explicitly.
var ErrStoreClosed = errors.New("store closed")

// Action is a tagged message flowing through the dispatch pipeline.
type Action interface {
	// Type returns the stable name of the action kind.
	Type() string
}

// API is what middleware sees of the store.
type API[S any] struct {
	// Dispatch enqueues an action at the tail of the pipeline.
	Dispatch func(Action)

	// GetState returns the current state.
	GetState func() S
}

// Next passes an action to the following pipeline stage.
type Next func(Action)

// Middleware wraps the next stage of the pipeline.
type Middleware[S any] func(api API[S]) func(next Next) Next

// Reducer computes the next state from the current state and an action.
type Reducer[S any] func(state S, action Action) S

// Listener observes every action after it has been reduced.
type Listener[S any] func(action Action, state S)

// Config configures a Store.
type Config struct {
	QueueSize int // Initial capacity of the action queue
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize: 256,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Dispatched int64
	Processed  int64
	Rejected   int64
	Queue      QueueStats
}

// Store runs actions through a middleware chain and a reducer, one at a
// time and in dispatch order.
type Store[S any] struct {
	cfg    Config
	logger *slog.Logger

	reducer Reducer[S]
	chain   Next
	queue   *Queue[Action]

	stateMu sync.RWMutex
	state   S

	listenersMu sync.RWMutex
	listeners   []Listener[S]

	statsMu    sync.Mutex
	dispatched int64
	processed  int64
	rejected   int64
}

// New creates a store. Middlewares run in the order given, before the reducer.
func New[S any](cfg Config, initial S, reducer Reducer[S], logger *slog.Logger, middlewares ...Middleware[S]) *Store[S] {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store[S]{
		cfg:     cfg,
		logger:  logger,
		reducer: reducer,
		queue:   NewQueue[Action](cfg.QueueSize),
		state:   initial,
	}

	api := API[S]{
		Dispatch: func(a Action) { s.Dispatch(a) },
		GetState: s.State,
	}

	next := Next(s.reduce)
	for i := len(middlewares) - 1; i >= 0; i-- {
		next = middlewares[i](api)(next)
	}
	s.chain = next

	return s
}

// Dispatch enqueues an action. It never blocks and is safe to call from any
// goroutine, including from inside middleware. Returns false once the store
// is closed.
func (s *Store[S]) Dispatch(action Action) bool {
	if action == nil {
		return false
	}

	ok := s.queue.Push(action)

	s.statsMu.Lock()
	if ok {
		s.dispatched++
	} else {
		s.rejected++
	}
	s.statsMu.Unlock()

	if !ok {
		s.logger.Debug("dispatch after close, dropping", "action", action.Type())
	}
	return ok
}

// State returns the current state.
func (s *Store[S]) State() S {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Subscribe registers a listener called after each action is reduced.
func (s *Store[S]) Subscribe(l Listener[S]) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// Run processes queued actions until ctx is cancelled or Close is called.
// Actions already queued when shutdown begins are still processed.
func (s *Store[S]) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.queue.Close)
	defer stop()

	s.logger.Info("dispatch loop started", "queue_size", s.cfg.QueueSize)

	for {
		action, ok := s.queue.Pop()
		if !ok {
			s.logger.Info("dispatch loop stopped")
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrStoreClosed
		}
		s.process(action)
	}
}

// Close stops accepting new actions. Run returns after draining the queue.
func (s *Store[S]) Close() {
	s.queue.Close()
}

// Stats returns current statistics.
func (s *Store[S]) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Stats{
		Dispatched: s.dispatched,
		Processed:  s.processed,
		Rejected:   s.rejected,
		Queue:      s.queue.Stats(),
	}
}

// process runs a single action through the chain.
func (s *Store[S]) process(action Action) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing action",
				"action", action.Type(),
				"panic", r,
			)
		}
	}()

	s.chain(action)

	s.statsMu.Lock()
	s.processed++
	s.statsMu.Unlock()
}

// reduce is the final stage of the chain.
func (s *Store[S]) reduce(action Action) {
	s.stateMu.Lock()
	if s.reducer != nil {
		s.state = s.reducer(s.state, action)
	}
	state := s.state
	s.stateMu.Unlock()

	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(action, state)
	}
}
