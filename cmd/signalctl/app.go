package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/rickgao/conference-signal/internal/config"
	"github.com/rickgao/conference-signal/internal/hub"
	"github.com/rickgao/conference-signal/internal/signal"
	"github.com/rickgao/conference-signal/internal/store"
)

// Conference phases tracked in appState.
const (
	phaseIdle         = "idle"
	phaseJoining      = "joining"
	phaseJoined       = "joined"
	phaseReconnecting = "reconnecting"
	phaseClosed       = "closed"
	phaseFailed       = "failed"
)

var errJoinFailed = errors.New("conference join failed")

// appState is the application state held by the store.
type appState struct {
	AccessToken  string
	ConferenceID string
	Phase        string
	Events       int    // Server events received
	LastError    string // Most recent join or connection error
}

// reduce tracks the conference lifecycle.
func reduce(s appState, action store.Action) appState {
	switch a := action.(type) {
	case signal.JoinConference:
		s.ConferenceID = a.ConferenceID
		s.Phase = phaseJoining
		s.LastError = ""

	case signal.ConferenceJoined:
		s.Phase = phaseJoined

	case signal.ConferenceJoinError:
		s.Phase = phaseFailed
		if a.Error != nil {
			s.LastError = a.Error.Error()
		}

	case signal.Reconnecting:
		s.Phase = phaseReconnecting

	case signal.Reconnected:
		s.Phase = phaseJoined

	case signal.ConnectionClosed:
		s.Phase = phaseClosed
		if a.Err != nil {
			s.LastError = a.Err.Error()
		}

	case signal.Close:
		if s.Phase != phaseIdle && s.Phase != phaseFailed {
			s.Phase = phaseClosed
		}

	case signal.EventOccurred:
		s.Events++
	}
	return s
}

// joinPlan is what to do once the conference is joined.
type joinPlan struct {
	Events  []string        // Extra server events to subscribe
	Invoke  string          // Hub method to invoke, if any
	Payload json.RawMessage // Argument for Invoke
}

// followUp subscribes the planned events and performs the planned
// invocation every time a ConferenceJoined action passes.
func followUp(plan joinPlan) store.Middleware[appState] {
	return func(api store.API[appState]) func(next store.Next) store.Next {
		return func(next store.Next) store.Next {
			return func(a store.Action) {
				next(a)

				if _, ok := a.(signal.ConferenceJoined); !ok {
					return
				}
				for _, name := range plan.Events {
					api.Dispatch(signal.SubscribeEvent{Name: name})
				}
				if plan.Invoke != "" {
					inv := signal.Invoke{Name: plan.Invoke}
					if len(plan.Payload) > 0 {
						inv.Payload = plan.Payload
					}
					api.Dispatch(inv)
				}
			}
		}
	}
}

// logActions logs every action with its JSON encoding.
func logActions(logger *slog.Logger) store.Middleware[appState] {
	return func(api store.API[appState]) func(next store.Next) store.Next {
		return func(next store.Next) store.Next {
			return func(a store.Action) {
				level := slog.LevelDebug
				if isOutcome(a) {
					level = slog.LevelInfo
				}
				if logger.Enabled(context.Background(), level) {
					data, err := json.Marshal(a)
					if err != nil {
						data = []byte(`"<unencodable>"`)
					}
					logger.Log(context.Background(), level, "action", "type", a.Type(), "payload", string(data))
				}
				next(a)
			}
		}
	}
}

// isOutcome reports whether a was dispatched by the bridge rather than
// by the application.
func isOutcome(a store.Action) bool {
	return strings.HasPrefix(a.Type(), "signalr/on")
}

// hubConfig converts the hub section of the config file.
func hubConfig(c config.HubConfig) hub.Config {
	cfg := hub.DefaultConfig()
	cfg.HandshakeTimeout = c.HandshakeTimeout
	cfg.KeepAliveInterval = c.KeepAliveInterval
	cfg.ServerTimeout = c.ServerTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.ReconnectBaseWait = c.ReconnectBaseDelay
	cfg.ReconnectMaxWait = c.ReconnectMaxDelay
	cfg.ReconnectMaxAttempts = c.ReconnectMaxAttempts
	if c.ReconnectMaxAttempts == config.UnlimitedReconnectAttempts {
		cfg.ReconnectMaxAttempts = 0
	}
	return cfg
}

// runOutcome reports whether action ends the run, and with which error.
func runOutcome(action store.Action) (done bool, err error) {
	switch a := action.(type) {
	case signal.ConferenceJoinError:
		if a.Error != nil {
			return true, a.Error
		}
		return true, errJoinFailed
	case signal.ConnectionClosed:
		return true, a.Err
	}
	return false, nil
}
