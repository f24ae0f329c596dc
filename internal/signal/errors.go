package signal

import (
	"encoding/json"
	"errors"
)

// Errors
var (
	ErrEmptyConferenceID = errors.New("conference id is required")
	ErrEmptyName         = errors.New("name is required")
	ErrJoinCanceled      = errors.New("join canceled by close")
	ErrHandlerPanic      = errors.New("handler panicked")
)

// Error codes and origin tags carried by Error.
const (
	CodeConnectionFailed = "SignalRConnectionFailed"
	ErrorTypeSignalR     = "SignalR"
)

// Error is the structured error carried by ConferenceJoinError. Server join
// rejections use the same shape.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// connectionFailed wraps a start failure.
func connectionFailed(err error) *Error {
	return &Error{
		Code:    CodeConnectionFailed,
		Message: err.Error(),
		Type:    ErrorTypeSignalR,
	}
}

// decodeServerError reads a server join rejection. Payloads that are not an
// error object become the message verbatim.
func decodeServerError(payload json.RawMessage) *Error {
	var e Error
	if err := json.Unmarshal(payload, &e); err == nil && (e.Code != "" || e.Message != "") {
		return &e
	}

	var msg string
	if err := json.Unmarshal(payload, &msg); err == nil {
		return &Error{Message: msg}
	}
	return &Error{Message: string(payload)}
}
