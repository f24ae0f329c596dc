package signal

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(f *fakeFactory) *Manager {
	return NewManager(ManagerConfig{
		BaseURL: "wss://x",
		Factory: f.build,
	}, nil, nil)
}

func TestBuildTarget(t *testing.T) {
	tests := []struct {
		name         string
		baseURL      string
		token        string
		conferenceID string
		want         string
	}{
		{"simple", "wss://x", "tok", "c1", "wss://x?access_token=tok&conferenceId=c1"},
		{"escaped", "https://host/signalr", "a+b/c", "id 1", "https://host/signalr?access_token=a%2Bb%2Fc&conferenceId=id+1"},
		{"empty token", "wss://x", "", "c1", "wss://x?access_token=&conferenceId=c1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildTarget(tt.baseURL, tt.token, tt.conferenceID)
			if got != tt.want {
				t.Errorf("BuildTarget() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseUnestablished, "unestablished"},
		{PhaseStarting, "starting"},
		{PhaseActive, "active"},
		{PhaseReconnecting, "reconnecting"},
		{PhaseClosed, "closed"},
		{Phase(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestManager_JoinSuccess(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	if m.Phase() != PhaseUnestablished {
		t.Errorf("initial Phase = %s, want unestablished", m.Phase())
	}

	if err := m.Join(rec.dispatch, "c1", "tok"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	joined, ok := rec.next(t).(ConferenceJoined)
	if !ok {
		t.Fatal("expected ConferenceJoined")
	}
	if joined.ConferenceID != "c1" {
		t.Errorf("ConferenceID = %s, want c1", joined.ConferenceID)
	}
	rec.expectNone(t)

	conn := f.last()
	if conn.target != "wss://x?access_token=tok&conferenceId=c1" {
		t.Errorf("target = %s", conn.target)
	}
	if !conn.opts.AutomaticReconnect {
		t.Error("expected automatic reconnect to be enabled")
	}
	if conn.handlerCount(JoinErrorEvent) != 1 {
		t.Errorf("join error handlers = %d, want 1", conn.handlerCount(JoinErrorEvent))
	}
	for _, name := range DefaultEvents {
		if conn.handlerCount(name) != 1 {
			t.Errorf("handlers for %s = %d, want 1", name, conn.handlerCount(name))
		}
	}

	closed, reconnecting, reconnected := conn.lifecycleCounts()
	if closed != 1 || reconnecting != 1 || reconnected != 1 {
		t.Errorf("lifecycle callbacks = (%d, %d, %d), want (1, 1, 1)", closed, reconnecting, reconnected)
	}

	if m.Phase() != PhaseActive {
		t.Errorf("Phase = %s, want active", m.Phase())
	}
	if m.Connection() != Connection(conn) {
		t.Error("Connection() does not return the created connection")
	}
	if m.ConferenceID() != "c1" {
		t.Errorf("ConferenceID() = %s, want c1", m.ConferenceID())
	}
}

func TestManager_JoinStartFails(t *testing.T) {
	f := &fakeFactory{setup: func(c *fakeConn) {
		c.startErr = errors.New("dial refused")
	}}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	if err := m.Join(rec.dispatch, "c1", "tok"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	joinErr, ok := rec.next(t).(ConferenceJoinError)
	if !ok {
		t.Fatal("expected ConferenceJoinError")
	}
	if joinErr.Error.Code != CodeConnectionFailed {
		t.Errorf("Code = %s, want %s", joinErr.Error.Code, CodeConnectionFailed)
	}
	if joinErr.Error.Type != ErrorTypeSignalR {
		t.Errorf("Type = %s, want %s", joinErr.Error.Type, ErrorTypeSignalR)
	}
	if joinErr.Error.Message != "dial refused" {
		t.Errorf("Message = %s, want dial refused", joinErr.Error.Message)
	}
	rec.expectNone(t)

	if m.Connection() != nil {
		t.Error("expected no connection after failed start")
	}
	closed, reconnecting, reconnected := f.last().lifecycleCounts()
	if closed+reconnecting+reconnected != 0 {
		t.Error("lifecycle callbacks registered after failed start")
	}

	// A failed start leaves the manager free to join again.
	if err := m.Join(rec.dispatch, "c1", "tok"); err != nil {
		t.Fatalf("second Join failed: %v", err)
	}
	rec.next(t)
	if f.count() != 2 {
		t.Errorf("connections = %d, want 2", f.count())
	}
}

func TestManager_JoinIsIdempotent(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	m.Join(rec.dispatch, "c1", "tok")
	rec.next(t)

	if err := m.Join(rec.dispatch, "c2", "tok"); err != nil {
		t.Fatalf("second Join failed: %v", err)
	}
	rec.expectNone(t)

	if f.count() != 1 {
		t.Errorf("connections = %d, want 1", f.count())
	}
	if m.ConferenceID() != "c1" {
		t.Errorf("ConferenceID() = %s, want c1", m.ConferenceID())
	}
}

func TestManager_JoinEmptyConferenceID(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	err := m.Join(rec.dispatch, "", "tok")
	if !errors.Is(err, ErrEmptyConferenceID) {
		t.Errorf("Join() error = %v, want ErrEmptyConferenceID", err)
	}
	if f.count() != 0 {
		t.Errorf("connections = %d, want 0", f.count())
	}
	rec.expectNone(t)
}

func TestManager_CloseThenJoin(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	m.Join(rec.dispatch, "c1", "tok")
	rec.next(t)
	first := f.last()

	done := m.Close(context.Background())
	if m.Connection() != nil {
		t.Error("Connection() should be nil right after Close")
	}
	if m.Phase() != PhaseUnestablished {
		t.Errorf("Phase = %s, want unestablished", m.Phase())
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not finish")
	}
	if first.stopCount() != 1 {
		t.Errorf("stops = %d, want 1", first.stopCount())
	}

	// Stop fires the closed callback on the old connection.
	closed, ok := rec.next(t).(ConnectionClosed)
	if !ok {
		t.Fatal("expected ConnectionClosed from stop")
	}
	if closed.ConferenceID != "c1" || closed.Err != nil {
		t.Errorf("ConnectionClosed = %+v", closed)
	}

	if err := m.Join(rec.dispatch, "c1", "tok"); err != nil {
		t.Fatalf("Join after Close failed: %v", err)
	}
	if _, ok := rec.next(t).(ConferenceJoined); !ok {
		t.Fatal("expected ConferenceJoined after rejoin")
	}
	if f.count() != 2 {
		t.Errorf("connections = %d, want 2", f.count())
	}
}

func TestManager_DetachedConnectionIsIgnored(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	m.Join(rec.dispatch, "c1", "tok")
	rec.next(t)
	first := f.last()

	<-m.Close(context.Background())
	if _, ok := rec.next(t).(ConnectionClosed); !ok {
		t.Fatal("expected ConnectionClosed from stop")
	}

	m.Join(rec.dispatch, "c2", "tok")
	if _, ok := rec.next(t).(ConferenceJoined); !ok {
		t.Fatal("expected ConferenceJoined for c2")
	}
	second := f.last()

	// The old read loop may still deliver frames after Close.
	first.emit(JoinErrorEvent, `{"code":"ConferenceNotFound"}`)
	first.emit(DefaultEvents[0], `{"version":1}`)
	rec.expectNone(t)

	if m.Connection() != Connection(second) || m.ConferenceID() != "c2" {
		t.Error("late frames on the detached connection disturbed c2")
	}
	if second.stopCount() != 0 {
		t.Errorf("stops on c2 = %d, want 0", second.stopCount())
	}

	// The live connection still forwards.
	second.emit(DefaultEvents[0], `{"version":2}`)
	if ev, ok := rec.next(t).(EventOccurred); !ok || string(ev.Payload) != `{"version":2}` {
		t.Errorf("expected EventOccurred from c2, got %+v", ev)
	}
}

func TestManager_CloseReportsStopError(t *testing.T) {
	stopErr := errors.New("socket already gone")
	f := &fakeFactory{setup: func(c *fakeConn) { c.stopErr = stopErr }}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	m.Join(rec.dispatch, "c1", "tok")
	rec.next(t)

	select {
	case err := <-m.Close(context.Background()):
		if !errors.Is(err, stopErr) {
			t.Errorf("Close error = %v, want %v", err, stopErr)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not report")
	}
}

func TestManager_CloseWithoutConnection(t *testing.T) {
	m := newTestManager(&fakeFactory{})

	select {
	case _, ok := <-m.Close(context.Background()):
		if ok {
			t.Error("expected closed channel without value")
		}
	case <-time.After(time.Second):
		t.Fatal("Close without connection did not return")
	}
}

func TestManager_CloseDuringStart(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeFactory{setup: func(c *fakeConn) {
		c.startGate = gate
	}}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	m.Join(rec.dispatch, "c1", "tok")
	if m.Phase() != PhaseStarting {
		t.Errorf("Phase = %s, want starting", m.Phase())
	}

	<-m.Close(context.Background())

	// The cancelled start reports exactly one join error.
	joinErr, ok := rec.next(t).(ConferenceJoinError)
	if !ok {
		t.Fatal("expected ConferenceJoinError")
	}
	if joinErr.Error.Code != CodeConnectionFailed {
		t.Errorf("Code = %s, want %s", joinErr.Error.Code, CodeConnectionFailed)
	}
	rec.expectNone(t)

	closed, reconnecting, reconnected := f.last().lifecycleCounts()
	if closed+reconnecting+reconnected != 0 {
		t.Error("lifecycle callbacks registered on a closed connection")
	}
	close(gate)
}

func TestManager_StartCompletesAfterClose(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeFactory{setup: func(c *fakeConn) {
		c.startGate = gate
	}}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	m.Join(rec.dispatch, "c1", "tok")
	conn := f.last()

	// Detach without cancelling the start: the start then succeeds on a
	// connection the manager no longer owns.
	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
	close(gate)

	joinErr, ok := rec.next(t).(ConferenceJoinError)
	if !ok {
		t.Fatal("expected ConferenceJoinError")
	}
	if joinErr.Error.Message != ErrJoinCanceled.Error() {
		t.Errorf("Message = %s, want %s", joinErr.Error.Message, ErrJoinCanceled)
	}
	closed, _, _ := conn.lifecycleCounts()
	if closed != 0 {
		t.Error("lifecycle callbacks registered on a stale connection")
	}
}

func TestManager_ServerJoinError(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	m.Join(rec.dispatch, "c1", "tok")
	rec.next(t)

	f.last().emit(JoinErrorEvent, `{"code":"Conference_NotFound","message":"conference not found","type":"NotFound"}`)

	joinErr, ok := rec.next(t).(ConferenceJoinError)
	if !ok {
		t.Fatal("expected ConferenceJoinError")
	}
	if joinErr.Error.Code != "Conference_NotFound" {
		t.Errorf("Code = %s, want Conference_NotFound", joinErr.Error.Code)
	}
	if string(joinErr.Raw) == "" {
		t.Error("expected raw server payload")
	}
	if _, ok := rec.next(t).(Close); !ok {
		t.Fatal("expected Close after server join error")
	}
}

func TestManager_DefaultEventsForwarded(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	m.Join(rec.dispatch, "c1", "tok")
	rec.next(t)

	for _, name := range DefaultEvents {
		f.last().emit(name, `{"v":1}`)

		ev, ok := rec.next(t).(EventOccurred)
		if !ok {
			t.Fatalf("expected EventOccurred for %s", name)
		}
		if ev.Name != name {
			t.Errorf("Name = %s, want %s", ev.Name, name)
		}
		if string(ev.Payload) != `{"v":1}` {
			t.Errorf("Payload = %s", ev.Payload)
		}
	}
}

func TestManager_LifecycleCallbacks(t *testing.T) {
	f := &fakeFactory{}
	m := newTestManager(f)
	rec := newDispatchRecorder()

	m.Join(rec.dispatch, "c1", "tok")
	rec.next(t)
	conn := f.last()

	lost := errors.New("socket reset")
	conn.fireReconnecting(lost)
	reconnecting, ok := rec.next(t).(Reconnecting)
	if !ok {
		t.Fatal("expected Reconnecting")
	}
	if reconnecting.ConferenceID != "c1" || !errors.Is(reconnecting.Err, lost) {
		t.Errorf("Reconnecting = %+v", reconnecting)
	}
	if m.Phase() != PhaseReconnecting {
		t.Errorf("Phase = %s, want reconnecting", m.Phase())
	}

	conn.fireReconnected("abc")
	if r, ok := rec.next(t).(Reconnected); !ok || r.ConferenceID != "c1" {
		t.Fatal("expected Reconnected for c1")
	}
	if m.Phase() != PhaseActive {
		t.Errorf("Phase = %s, want active", m.Phase())
	}

	gone := errors.New("retries exhausted")
	conn.fireClosed(gone)
	closed, ok := rec.next(t).(ConnectionClosed)
	if !ok {
		t.Fatal("expected ConnectionClosed")
	}
	if !errors.Is(closed.Err, gone) {
		t.Errorf("Err = %v, want %v", closed.Err, gone)
	}
	if m.Phase() != PhaseClosed {
		t.Errorf("Phase = %s, want closed", m.Phase())
	}

	// The connection stays owned until an explicit Close.
	if m.Connection() == nil {
		t.Error("transport close should not clear the connection")
	}
}
