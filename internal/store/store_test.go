package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testAction struct {
	name string
}

func (a testAction) Type() string { return a.name }

type counterState struct {
	Count int
	Last  string
}

func countingReducer(state counterState, action Action) counterState {
	state.Count++
	state.Last = action.Type()
	return state
}

// recorder collects actions seen by a listener.
type recorder struct {
	mu      sync.Mutex
	actions []string
	ch      chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 100)}
}

func (r *recorder) listen(action Action, _ counterState) {
	r.mu.Lock()
	r.actions = append(r.actions, action.Type())
	r.mu.Unlock()
	r.ch <- action.Type()
}

func (r *recorder) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %d actions, got %d", n, i)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}

func runStore[S any](t *testing.T, s *Store[S]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.QueueSize != 256 {
		t.Errorf("QueueSize = %d, want 256", cfg.QueueSize)
	}
}

func TestStore_DispatchOrder(t *testing.T) {
	s := New(DefaultConfig(), counterState{}, countingReducer, nil)
	rec := newRecorder()
	s.Subscribe(rec.listen)
	runStore(t, s)

	s.Dispatch(testAction{"a"})
	s.Dispatch(testAction{"b"})
	s.Dispatch(testAction{"c"})

	got := rec.waitFor(t, 3)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("actions[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	state := s.State()
	if state.Count != 3 {
		t.Errorf("Count = %d, want 3", state.Count)
	}
	if state.Last != "c" {
		t.Errorf("Last = %s, want c", state.Last)
	}
}

func TestStore_MiddlewareOrder(t *testing.T) {
	var mu sync.Mutex
	var trace []string

	tracing := func(name string) Middleware[counterState] {
		return func(api API[counterState]) func(Next) Next {
			return func(next Next) Next {
				return func(action Action) {
					mu.Lock()
					trace = append(trace, name)
					mu.Unlock()
					next(action)
				}
			}
		}
	}

	s := New(DefaultConfig(), counterState{}, countingReducer, nil, tracing("first"), tracing("second"))
	rec := newRecorder()
	s.Subscribe(rec.listen)
	runStore(t, s)

	s.Dispatch(testAction{"x"})
	rec.waitFor(t, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(trace) != 2 || trace[0] != "first" || trace[1] != "second" {
		t.Errorf("trace = %v, want [first second]", trace)
	}
}

func TestStore_DispatchFromMiddlewareRunsAfterCurrent(t *testing.T) {
	followUp := func(api API[counterState]) func(Next) Next {
		return func(next Next) Next {
			return func(action Action) {
				if action.Type() == "ping" {
					api.Dispatch(testAction{"pong"})
				}
				next(action)
			}
		}
	}

	s := New(DefaultConfig(), counterState{}, countingReducer, nil, followUp)
	rec := newRecorder()
	s.Subscribe(rec.listen)
	runStore(t, s)

	s.Dispatch(testAction{"ping"})

	got := rec.waitFor(t, 2)
	if got[0] != "ping" || got[1] != "pong" {
		t.Errorf("actions = %v, want [ping pong]", got)
	}
}

func TestStore_MiddlewareReadsState(t *testing.T) {
	seen := make(chan int, 10)
	reader := func(api API[counterState]) func(Next) Next {
		return func(next Next) Next {
			return func(action Action) {
				seen <- api.GetState().Count
				next(action)
			}
		}
	}

	s := New(DefaultConfig(), counterState{Count: 10}, countingReducer, nil, reader)
	rec := newRecorder()
	s.Subscribe(rec.listen)
	runStore(t, s)

	s.Dispatch(testAction{"a"})
	s.Dispatch(testAction{"b"})
	rec.waitFor(t, 2)

	if got := <-seen; got != 10 {
		t.Errorf("state before first action = %d, want 10", got)
	}
	if got := <-seen; got != 11 {
		t.Errorf("state before second action = %d, want 11", got)
	}
}

func TestStore_PanicDoesNotStopLoop(t *testing.T) {
	boom := func(api API[counterState]) func(Next) Next {
		return func(next Next) Next {
			return func(action Action) {
				if action.Type() == "boom" {
					panic("boom")
				}
				next(action)
			}
		}
	}

	s := New(DefaultConfig(), counterState{}, countingReducer, nil, boom)
	rec := newRecorder()
	s.Subscribe(rec.listen)
	runStore(t, s)

	s.Dispatch(testAction{"boom"})
	s.Dispatch(testAction{"ok"})

	got := rec.waitFor(t, 1)
	if got[0] != "ok" {
		t.Errorf("actions = %v, want [ok]", got)
	}
}

func TestStore_CloseDrainsAndRejects(t *testing.T) {
	s := New(DefaultConfig(), counterState{}, countingReducer, nil)

	s.Dispatch(testAction{"a"})
	s.Dispatch(testAction{"b"})
	s.Close()

	if s.Dispatch(testAction{"c"}) {
		t.Error("Dispatch after Close returned true")
	}

	err := s.Run(context.Background())
	if !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Run() error = %v, want ErrStoreClosed", err)
	}

	if s.State().Count != 2 {
		t.Errorf("Count = %d, want 2", s.State().Count)
	}

	stats := s.Stats()
	if stats.Dispatched != 2 {
		t.Errorf("Dispatched = %d, want 2", stats.Dispatched)
	}
	if stats.Processed != 2 {
		t.Errorf("Processed = %d, want 2", stats.Processed)
	}
	if stats.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", stats.Rejected)
	}
}

func TestStore_RunStopsOnContextCancel(t *testing.T) {
	s := New(DefaultConfig(), counterState{}, countingReducer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
