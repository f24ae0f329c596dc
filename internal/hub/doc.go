// Package hub implements a hub connection over websockets using the JSON
// hub protocol.
//
// A Client performs the protocol handshake, correlates invocations with
// their completions and routes server invocations to registered event
// handlers. Lost connections are restored with exponential backoff when
// automatic reconnect is enabled.
//
// Client satisfies signal.Connection; Factory plugs it into a signal.Bridge.
package hub
