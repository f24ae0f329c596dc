package signal

import (
	"context"
	"encoding/json"
	"net/url"
)

// Server events.
const (
	// JoinErrorEvent is sent by the server when it rejects the join.
	JoinErrorEvent = "OnConferenceJoinError"
)

// DefaultEvents are forwarded on every new connection without an explicit
// SubscribeEvent.
var DefaultEvents = []string{
	"OnSynchronizeObjectState",
	"OnSynchronizedObjectUpdated",
	"OnError",
	"OnPermissionsUpdated",
}

// Connection is the hub connection capability the bridge depends on.
type Connection interface {
	// Start connects to the hub. Handlers registered with On before Start
	// receive events from the first frame on.
	Start(ctx context.Context) error

	// Stop closes the connection and fires the closed callbacks with a nil error.
	Stop(ctx context.Context) error

	// On registers a handler for a server event.
	On(event string, fn func(payload json.RawMessage))

	// OnClosed registers a callback for when the connection is closed for good.
	OnClosed(fn func(err error))

	// OnReconnecting registers a callback for when the transport starts
	// restoring a lost connection.
	OnReconnecting(fn func(err error))

	// OnReconnected registers a callback for when the connection is restored.
	OnReconnected(fn func(connectionID string))

	// Invoke calls a hub method and waits for its completion.
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error)

	// Send calls a hub method without waiting for a result.
	Send(ctx context.Context, method string, args ...any) error
}

// ConnectionOptions are applied when a connection is built.
type ConnectionOptions struct {
	AutomaticReconnect bool
}

// ConnectionFactory builds an unstarted connection to target.
type ConnectionFactory func(target string, opts ConnectionOptions) Connection

// BuildTarget returns the hub address for a conference.
func BuildTarget(baseURL, accessToken, conferenceID string) string {
	return baseURL +
		"?access_token=" + url.QueryEscape(accessToken) +
		"&conferenceId=" + url.QueryEscape(conferenceID)
}
