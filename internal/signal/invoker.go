package signal

import (
	"context"
	"log/slog"

	"github.com/rickgao/conference-signal/internal/store"
)

// Invoker issues sends and invocations against a live connection.
type Invoker struct {
	logger *slog.Logger
}

// NewInvoker creates an Invoker.
func NewInvoker(logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{logger: logger}
}

// Send transmits a method call without waiting for a result. Transport
// errors are logged and otherwise dropped.
func (i *Invoker) Send(ctx context.Context, conn Connection, name string, payload any) {
	if err := conn.Send(ctx, name, arguments(payload)...); err != nil {
		i.logger.Warn("send failed", "method", name, "error", err)
	}
}

// Invoke calls a method in the background. Exactly one of InvokeReturned
// or InvokeFailed is dispatched, tagged with name. The returned channel is
// closed once the outcome has been dispatched.
func (i *Invoker) Invoke(ctx context.Context, conn Connection, name string, payload any, dispatch func(store.Action)) <-chan struct{} {
	done := make(chan struct{})
	args := arguments(payload)

	go func() {
		defer close(done)

		result, err := conn.Invoke(ctx, name, args...)
		if err != nil {
			i.logger.Debug("invoke failed", "method", name, "error", err)
			dispatch(InvokeFailed{Name: name, Err: err})
			return
		}
		dispatch(InvokeReturned{Name: name, Result: result})
	}()

	return done
}

// arguments maps an optional payload to hub call arguments.
func arguments(payload any) []any {
	if payload == nil {
		return nil
	}
	return []any{payload}
}
