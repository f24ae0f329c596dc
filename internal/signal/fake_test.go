package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/conference-signal/internal/store"
)

// call records a Send or Invoke on fakeConn.
type call struct {
	method string
	args   []any
}

// fakeConn is an in-memory Connection.
type fakeConn struct {
	target string
	opts   ConnectionOptions

	mu             sync.Mutex
	handlers       map[string][]func(json.RawMessage)
	onClosed       []func(error)
	onReconnecting []func(error)
	onReconnected  []func(string)
	sends          []call
	invokes        []call
	starts         int
	stops          int

	startErr  error
	stopErr   error
	startGate chan struct{} // Start blocks on it when set
	invokeFn  func(ctx context.Context, method string, args []any) (json.RawMessage, error)
}

func newFakeConn(target string, opts ConnectionOptions) *fakeConn {
	return &fakeConn{
		target:   target,
		opts:     opts,
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

func (c *fakeConn) Start(ctx context.Context) error {
	c.mu.Lock()
	c.starts++
	gate, err := c.startGate, c.startErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *fakeConn) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stops++
	closed := append([]func(error){}, c.onClosed...)
	err := c.stopErr
	c.mu.Unlock()

	for _, fn := range closed {
		fn(nil)
	}
	return err
}

func (c *fakeConn) On(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

func (c *fakeConn) OnClosed(fn func(error)) {
	c.mu.Lock()
	c.onClosed = append(c.onClosed, fn)
	c.mu.Unlock()
}

func (c *fakeConn) OnReconnecting(fn func(error)) {
	c.mu.Lock()
	c.onReconnecting = append(c.onReconnecting, fn)
	c.mu.Unlock()
}

func (c *fakeConn) OnReconnected(fn func(string)) {
	c.mu.Lock()
	c.onReconnected = append(c.onReconnected, fn)
	c.mu.Unlock()
}

func (c *fakeConn) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	c.invokes = append(c.invokes, call{method, args})
	fn := c.invokeFn
	c.mu.Unlock()

	if fn == nil {
		return json.RawMessage(`null`), nil
	}
	return fn(ctx, method, args)
}

func (c *fakeConn) Send(ctx context.Context, method string, args ...any) error {
	c.mu.Lock()
	c.sends = append(c.sends, call{method, args})
	c.mu.Unlock()
	return nil
}

// emit delivers a server event to the registered handlers.
func (c *fakeConn) emit(event string, payload string) {
	c.mu.Lock()
	handlers := append([]func(json.RawMessage){}, c.handlers[event]...)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(json.RawMessage(payload))
	}
}

func (c *fakeConn) handlerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

func (c *fakeConn) lifecycleCounts() (closed, reconnecting, reconnected int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.onClosed), len(c.onReconnecting), len(c.onReconnected)
}

func (c *fakeConn) fireReconnecting(err error) {
	c.mu.Lock()
	fns := append([]func(error){}, c.onReconnecting...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *fakeConn) fireReconnected(id string) {
	c.mu.Lock()
	fns := append([]func(string){}, c.onReconnected...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func (c *fakeConn) fireClosed(err error) {
	c.mu.Lock()
	fns := append([]func(error){}, c.onClosed...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *fakeConn) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// fakeFactory builds fakeConns and remembers them.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	setup func(*fakeConn)
}

func (f *fakeFactory) build(target string, opts ConnectionOptions) Connection {
	c := newFakeConn(target, opts)
	if f.setup != nil {
		f.setup(c)
	}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// dispatchRecorder captures dispatched actions.
type dispatchRecorder struct {
	ch chan store.Action
}

func newDispatchRecorder() *dispatchRecorder {
	return &dispatchRecorder{ch: make(chan store.Action, 100)}
}

func (r *dispatchRecorder) dispatch(a store.Action) {
	r.ch <- a
}

func (r *dispatchRecorder) next(t *testing.T) store.Action {
	t.Helper()
	select {
	case a := <-r.ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched action")
		return nil
	}
}

func (r *dispatchRecorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case a := <-r.ch:
		t.Fatalf("unexpected dispatched action %s: %+v", a.Type(), a)
	case <-time.After(50 * time.Millisecond):
	}
}
