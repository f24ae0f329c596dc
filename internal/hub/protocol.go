package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// recordSeparator terminates every JSON frame.
const recordSeparator = 0x1e

// Message types of the JSON hub protocol.
const (
	typeInvocation       = 1
	typeStreamItem       = 2
	typeCompletion       = 3
	typeStreamInvocation = 4
	typeCancelInvocation = 5
	typePing             = 6
	typeClose            = 7
)

// handshakeRequest is the first frame sent by the client.
type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// handshakeResponse is the first frame sent by the server.
type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// envelope is used for fast type extraction.
type envelope struct {
	Type int `json:"type"`
}

// invocationMessage calls a method on the other side. Without an
// invocation id no completion is expected.
type invocationMessage struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId,omitempty"`
	Target       string `json:"target"`
	Arguments    []any  `json:"arguments"`
}

// serverInvocation is an invocationMessage as received from the server.
type serverInvocation struct {
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target"`
	Arguments    []json.RawMessage `json:"arguments"`
}

// completionMessage ends an invocation.
type completionMessage struct {
	InvocationID string          `json:"invocationId"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// pingMessage keeps the connection alive.
type pingMessage struct {
	Type int `json:"type"`
}

// closeMessage is sent by the server before it closes the connection.
type closeMessage struct {
	Error          string `json:"error,omitempty"`
	AllowReconnect bool   `json:"allowReconnect,omitempty"`
}

// encodeFrame marshals v and appends the record separator.
func encodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

// splitFrames splits a websocket message into JSON frames.
func splitFrames(data []byte) [][]byte {
	parts := bytes.Split(data, []byte{recordSeparator})
	frames := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) == 0 {
			continue
		}
		frames = append(frames, p)
	}
	return frames
}

// parseHandshake reads the server handshake response.
func parseHandshake(frame []byte) error {
	var resp handshakeResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", ErrHandshake, resp.Error)
	}
	return nil
}

// closeError converts a server close message to the error reported to
// closed and reconnecting callbacks.
func closeError(msg closeMessage) error {
	if msg.Error == "" {
		return ErrServerClosed
	}
	return fmt.Errorf("%w: %s", ErrServerClosed, msg.Error)
}

// websocketURL rewrites http(s) targets to ws(s).
func websocketURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("unsupported target scheme: " + u.Scheme)
	}
	return u.String(), nil
}
