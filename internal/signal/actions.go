package signal

import (
	"encoding/json"
)

// Action types. Incoming actions are handled by the bridge middleware;
// the rest are produced by it.
const (
	TypeJoinConference = "signalr/joinConference"
	TypeSubscribeEvent = "signalr/subscribeEvent"
	TypeSend           = "signalr/send"
	TypeInvoke         = "signalr/invoke"
	TypeClose          = "signalr/close"

	TypeConferenceJoined    = "signalr/onConferenceJoined"
	TypeConferenceJoinError = "signalr/onConferenceJoinError"
	TypeConnectionClosed    = "signalr/onConferenceConnectionClosed"
	TypeReconnected         = "signalr/onConferenceReconnected"
	TypeReconnecting        = "signalr/onConferenceReconnecting"
	TypeEventOccurred       = "signalr/onEventOccurred"
	TypeInvokeReturned      = "signalr/onInvokeReturn"
	TypeInvokeFailed        = "signalr/onInvokeFailed"
)

// JoinConference opens the connection for a conference.
type JoinConference struct {
	ConferenceID string `json:"conferenceId"`
}

func (JoinConference) Type() string         { return TypeJoinConference }
func (a JoinConference) Conference() string { return a.ConferenceID }

// SubscribeEvent forwards every occurrence of a server event as EventOccurred.
type SubscribeEvent struct {
	Name string `json:"name"`
}

func (SubscribeEvent) Type() string { return TypeSubscribeEvent }

// Send transmits a hub method call without waiting for a result.
// A nil Payload sends no arguments.
type Send struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

func (Send) Type() string { return TypeSend }

// Invoke calls a hub method and reports the outcome as InvokeReturned or
// InvokeFailed. A nil Payload sends no arguments.
type Invoke struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

func (Invoke) Type() string { return TypeInvoke }

// Close stops the connection.
type Close struct{}

func (Close) Type() string { return TypeClose }

// ConferenceJoined is dispatched once the connection has started.
type ConferenceJoined struct {
	ConferenceID string `json:"conferenceId"`
}

func (ConferenceJoined) Type() string         { return TypeConferenceJoined }
func (a ConferenceJoined) Conference() string { return a.ConferenceID }

// ConferenceJoinError is dispatched when the connection failed to start or
// the server rejected the join. Raw holds the server payload, if any.
type ConferenceJoinError struct {
	Error *Error          `json:"error"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

func (ConferenceJoinError) Type() string { return TypeConferenceJoinError }

// ConnectionClosed is dispatched when the transport closed the connection.
// Err is nil for a requested stop.
type ConnectionClosed struct {
	ConferenceID string `json:"conferenceId"`
	Err          error  `json:"-"`
}

func (ConnectionClosed) Type() string         { return TypeConnectionClosed }
func (a ConnectionClosed) Conference() string { return a.ConferenceID }

func (a ConnectionClosed) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ConferenceID string `json:"conferenceId"`
		Error        string `json:"error,omitempty"`
	}{a.ConferenceID, errString(a.Err)})
}

// Reconnected is dispatched when the transport restored the connection.
type Reconnected struct {
	ConferenceID string `json:"conferenceId"`
}

func (Reconnected) Type() string         { return TypeReconnected }
func (a Reconnected) Conference() string { return a.ConferenceID }

// Reconnecting is dispatched when the transport lost the connection and is
// trying to restore it.
type Reconnecting struct {
	ConferenceID string `json:"conferenceId"`
	Err          error  `json:"-"`
}

func (Reconnecting) Type() string         { return TypeReconnecting }
func (a Reconnecting) Conference() string { return a.ConferenceID }

func (a Reconnecting) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ConferenceID string `json:"conferenceId"`
		Error        string `json:"error,omitempty"`
	}{a.ConferenceID, errString(a.Err)})
}

// EventOccurred carries one occurrence of a server event.
type EventOccurred struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (EventOccurred) Type() string { return TypeEventOccurred }

// InvokeReturned carries the result of a successful Invoke.
type InvokeReturned struct {
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (InvokeReturned) Type() string { return TypeInvokeReturned }

// InvokeFailed carries the error of a failed Invoke.
type InvokeFailed struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

func (InvokeFailed) Type() string { return TypeInvokeFailed }

func (a InvokeFailed) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string `json:"name"`
		Error string `json:"error,omitempty"`
	}{a.Name, errString(a.Err)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
