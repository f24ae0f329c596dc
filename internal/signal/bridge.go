package signal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/conference-signal/internal/store"
)

// Options configures a Bridge.
type Options[S any] struct {
	// BaseURL is the hub address; the access token and conference id are
	// appended as query parameters.
	BaseURL string

	// AccessToken reads the token from the current application state.
	AccessToken func(state S) string

	// Factory builds hub connections.
	Factory ConnectionFactory

	Logger *slog.Logger
}

// Bridge turns store actions into hub operations and hub activity back
// into store actions.
type Bridge[S any] struct {
	opts    Options[S]
	logger  *slog.Logger
	manager *Manager
	invoker *Invoker
}

// NewBridge creates a Bridge.
func NewBridge[S any](opts Options[S]) *Bridge[S] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "signal")

	registry := NewRegistry(logger)
	manager := NewManager(ManagerConfig{
		BaseURL: opts.BaseURL,
		Factory: opts.Factory,
	}, registry, logger)

	return &Bridge[S]{
		opts:    opts,
		logger:  logger,
		manager: manager,
		invoker: NewInvoker(logger),
	}
}

// Manager returns the connection manager.
func (b *Bridge[S]) Manager() *Manager {
	return b.manager
}

// Connection returns the live connection, or nil.
func (b *Bridge[S]) Connection() Connection {
	return b.manager.Connection()
}

// Middleware returns the store middleware that routes bridge actions. Every
// action is passed on unchanged exactly once, whatever its handler did.
func (b *Bridge[S]) Middleware() store.Middleware[S] {
	return func(api store.API[S]) func(store.Next) store.Next {
		return func(next store.Next) store.Next {
			return func(action store.Action) {
				if err := b.route(api, action); err != nil {
					b.logger.Error("action handler failed",
						"action", action.Type(),
						"error", err,
					)
				}
				next(action)
			}
		}
	}
}

// route runs the handler for action, if any.
func (b *Bridge[S]) route(api store.API[S], action store.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	switch a := action.(type) {
	case JoinConference:
		return b.join(api, a)
	case SubscribeEvent:
		return b.subscribe(api, a)
	case Send:
		return b.send(a)
	case Invoke:
		return b.invoke(api, a)
	case Close:
		b.close()
	}
	return nil
}

// close detaches the connection and logs the stop result once it arrives.
func (b *Bridge[S]) close() {
	done := b.manager.Close(context.Background())
	go func() {
		if err := <-done; err != nil {
			b.logger.Warn("connection stop failed", "error", err)
		}
	}()
}

func (b *Bridge[S]) join(api store.API[S], a JoinConference) error {
	var token string
	if b.opts.AccessToken != nil {
		token = b.opts.AccessToken(api.GetState())
	}
	return b.manager.Join(api.Dispatch, a.ConferenceID, token)
}

func (b *Bridge[S]) subscribe(api store.API[S], a SubscribeEvent) error {
	if a.Name == "" {
		return fmt.Errorf("subscribe: %w", ErrEmptyName)
	}
	conn := b.manager.Connection()
	if conn == nil {
		b.logger.Debug("subscribe without connection, ignoring", "event", a.Name)
		return nil
	}
	b.manager.Registry().Subscribe(conn, a.Name, api.Dispatch)
	return nil
}

func (b *Bridge[S]) send(a Send) error {
	if a.Name == "" {
		return fmt.Errorf("send: %w", ErrEmptyName)
	}
	conn, ctx := b.manager.current()
	if conn == nil {
		b.logger.Debug("send without connection, dropping", "method", a.Name)
		return nil
	}
	b.invoker.Send(ctx, conn, a.Name, a.Payload)
	return nil
}

func (b *Bridge[S]) invoke(api store.API[S], a Invoke) error {
	if a.Name == "" {
		return fmt.Errorf("invoke: %w", ErrEmptyName)
	}
	conn, ctx := b.manager.current()
	if conn == nil {
		b.logger.Debug("invoke without connection, dropping", "method", a.Name)
		return nil
	}
	b.invoker.Invoke(ctx, conn, a.Name, a.Payload, api.Dispatch)
	return nil
}
