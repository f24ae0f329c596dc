package signal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/rickgao/conference-signal/internal/store"
)

// Phase is the lifecycle phase of the managed connection.
type Phase int

const (
	PhaseUnestablished Phase = iota // No connection is held
	PhaseStarting                   // Connection created, start in flight
	PhaseActive                     // Start succeeded
	PhaseReconnecting               // Transport is restoring a lost connection
	PhaseClosed                     // Transport gave up; the connection is held until Close
)

func (p Phase) String() string {
	switch p {
	case PhaseUnestablished:
		return "unestablished"
	case PhaseStarting:
		return "starting"
	case PhaseActive:
		return "active"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	BaseURL string            // Hub URL without query string
	Factory ConnectionFactory // Builds connections
}

// Manager owns the single hub connection of a session.
type Manager struct {
	cfg      ManagerConfig
	logger   *slog.Logger
	registry *Registry

	mu           sync.Mutex
	conn         Connection
	conferenceID string
	phase        Phase

	// Scoped to conn; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a connection manager.
func NewManager(cfg ManagerConfig, registry *Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
	}
}

// Join creates and starts the connection for conferenceID. It returns once
// the start is in flight; the outcome is dispatched as ConferenceJoined or
// ConferenceJoinError. Join is a no-op while a connection exists.
func (m *Manager) Join(dispatch func(store.Action), conferenceID, accessToken string) error {
	if conferenceID == "" {
		return ErrEmptyConferenceID
	}

	m.mu.Lock()
	if m.conn != nil {
		existing := m.conferenceID
		m.mu.Unlock()
		m.logger.Debug("join ignored, connection exists",
			"conference_id", conferenceID,
			"current_conference_id", existing,
		)
		return nil
	}

	target := BuildTarget(m.cfg.BaseURL, accessToken, conferenceID)
	conn := m.cfg.Factory(target, ConnectionOptions{AutomaticReconnect: true})
	ctx, cancel := context.WithCancel(context.Background())

	m.conn = conn
	m.conferenceID = conferenceID
	m.phase = PhaseStarting
	m.ctx, m.cancel = ctx, cancel
	m.mu.Unlock()

	logger := m.logger.With("conference_id", conferenceID)

	conn.On(JoinErrorEvent, func(payload json.RawMessage) {
		if !m.isCurrent(conn) {
			logger.Debug("join error from detached connection, ignoring")
			return
		}
		logger.Warn("server rejected join", "payload", string(payload))
		dispatch(ConferenceJoinError{Error: decodeServerError(payload), Raw: payload})
		dispatch(Close{})
	})

	for _, name := range DefaultEvents {
		m.registry.Subscribe(conn, name, dispatch)
	}

	logger.Info("starting connection", "url", m.cfg.BaseURL)
	go m.start(ctx, conn, conferenceID, dispatch, logger)

	return nil
}

// start runs the connection start and reports its outcome.
func (m *Manager) start(ctx context.Context, conn Connection, conferenceID string, dispatch func(store.Action), logger *slog.Logger) {
	err := conn.Start(ctx)

	m.mu.Lock()
	current := m.conn == conn

	if err != nil {
		if current {
			m.detachLocked()
		}
		m.mu.Unlock()

		logger.Warn("connection start failed", "error", err)
		dispatch(ConferenceJoinError{Error: connectionFailed(err)})
		return
	}

	if !current {
		// Close ran while the start was in flight; it already stopped conn.
		m.mu.Unlock()

		logger.Info("connection started after close, discarding")
		dispatch(ConferenceJoinError{Error: connectionFailed(ErrJoinCanceled)})
		return
	}

	m.phase = PhaseActive

	// Registered under the lock so Close cannot interleave.
	conn.OnClosed(func(err error) {
		m.setPhase(conn, PhaseClosed)
		logger.Info("connection closed", "error", err)
		dispatch(ConnectionClosed{ConferenceID: conferenceID, Err: err})
	})
	conn.OnReconnected(func(connectionID string) {
		m.setPhase(conn, PhaseActive)
		logger.Info("connection restored", "connection_id", connectionID)
		dispatch(Reconnected{ConferenceID: conferenceID})
	})
	conn.OnReconnecting(func(err error) {
		m.setPhase(conn, PhaseReconnecting)
		logger.Warn("connection lost, reconnecting", "error", err)
		dispatch(Reconnecting{ConferenceID: conferenceID, Err: err})
	})
	m.mu.Unlock()

	logger.Info("conference joined")
	dispatch(ConferenceJoined{ConferenceID: conferenceID})
}

// Close detaches the current connection and stops it in the background.
// An in-flight start is cancelled. The returned channel receives the stop
// error, if any, and is then closed; it is closed immediately when there is
// no connection. Logging the error is left to the caller.
func (m *Manager) Close(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	m.mu.Lock()
	conn, conferenceID := m.conn, m.conferenceID
	if conn == nil {
		m.mu.Unlock()
		close(done)
		return done
	}
	m.detachLocked()
	m.mu.Unlock()

	logger := m.logger.With("conference_id", conferenceID)
	logger.Info("closing connection")

	go func() {
		defer close(done)
		if err := conn.Stop(ctx); err != nil {
			done <- err
		}
	}()

	return done
}

// Connection returns the current connection, or nil.
func (m *Manager) Connection() Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// ConferenceID returns the conference of the current connection, or "".
func (m *Manager) ConferenceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conferenceID
}

// Phase returns the lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Registry returns the event registry of the manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// current returns the connection and the context scoped to it.
func (m *Manager) current() (Connection, context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn, m.ctx
}

// isCurrent reports whether conn is the connection held by the manager.
func (m *Manager) isCurrent(conn Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn == conn
}

// setPhase updates the phase if conn is still current.
func (m *Manager) setPhase(conn Connection, phase Phase) {
	m.mu.Lock()
	if m.conn == conn {
		m.phase = phase
	}
	m.mu.Unlock()
}

// detachLocked clears the connection and returns the manager to
// PhaseUnestablished. Must be called with mu held.
func (m *Manager) detachLocked() {
	if m.cancel != nil {
		m.cancel()
	}
	m.conn = nil
	m.conferenceID = ""
	m.phase = PhaseUnestablished
	m.ctx, m.cancel = nil, nil
	m.registry.Reset()
}
