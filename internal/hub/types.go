package hub

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrAlreadyStarted  = errors.New("connection already started")
	ErrStopped         = errors.New("connection stopped")
	ErrConnectionLost  = errors.New("connection lost")
	ErrHandshake       = errors.New("handshake failed")
	ErrServerClosed    = errors.New("server closed the connection")
	ErrReconnectFailed = errors.New("reconnect failed")
)

// InvocationError is returned by Invoke when the hub method failed.
type InvocationError struct {
	Method  string
	Message string
}

func (e *InvocationError) Error() string {
	return "invoke " + e.Method + ": " + e.Message
}

// State is the state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Config configures a hub Client.
type Config struct {
	HandshakeTimeout     time.Duration // Dial plus handshake
	KeepAliveInterval    time.Duration // Ping period, 0 disables
	ServerTimeout        time.Duration // Max time without any frame from the server, 0 disables
	WriteTimeout         time.Duration // Write deadline for frames
	AutomaticReconnect   bool          // Restore lost connections
	ReconnectBaseWait    time.Duration // First reconnect delay
	ReconnectMaxWait     time.Duration // Cap on the doubling delay
	ReconnectMaxAttempts int           // 0 = retry until stopped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     15 * time.Second,
		KeepAliveInterval:    15 * time.Second,
		ServerTimeout:        30 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     30 * time.Second,
		ReconnectMaxAttempts: 4,
	}
}
