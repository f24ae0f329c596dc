package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/rickgao/conference-signal/internal/signal"
)

var _ signal.Connection = (*Client)(nil)

// session is one websocket connection of a Client. A reconnect replaces it.
type session struct {
	conn     *websocket.Conn
	leftover [][]byte      // frames that arrived with the handshake response
	done     chan struct{} // closed when the read loop exits
}

// invocationResult is delivered to a waiting Invoke.
type invocationResult struct {
	msg completionMessage
	err error
}

// Client is a hub connection over a websocket.
type Client struct {
	cfg    Config
	target string
	logger *slog.Logger
	dialer websocket.Dialer

	// State
	mu      sync.RWMutex
	state   State
	session *session
	ctx     context.Context // lifetime, cancelled by Stop
	cancel  context.CancelFunc

	// Callbacks
	handlersMu     sync.RWMutex
	handlers       map[string][]func(json.RawMessage)
	onClosed       []func(error)
	onReconnecting []func(error)
	onReconnected  []func(string)

	// Write serialization
	writeMu sync.Mutex

	// Invocation/completion correlation
	pendingMu sync.Mutex
	pending   map[string]chan invocationResult
	nextID    int64 // Atomic counter

	// Goroutine coordination
	wg sync.WaitGroup
}

// NewClient creates an unstarted hub client for target.
func NewClient(target string, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		target: target,
		logger: logger,
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		handlers: make(map[string][]func(json.RawMessage)),
		pending:  make(map[string]chan invocationResult),
	}
}

// Factory returns a signal.ConnectionFactory building Clients from cfg.
func Factory(cfg Config, logger *slog.Logger) signal.ConnectionFactory {
	return func(target string, opts signal.ConnectionOptions) signal.Connection {
		c := cfg
		c.AutomaticReconnect = opts.AutomaticReconnect
		return NewClient(target, c, logger)
	}
}

// Start dials the hub and performs the protocol handshake.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateConnecting
	c.ctx, c.cancel = context.WithCancel(context.Background())
	lifetime := c.ctx
	c.mu.Unlock()

	// Stop aborts a start in flight.
	connectCtx, cancelConnect := context.WithCancel(ctx)
	stop := context.AfterFunc(lifetime, cancelConnect)
	sess, err := c.connect(connectCtx)
	stop()
	cancelConnect()

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		if sess != nil {
			sess.conn.Close()
		}
		if err != nil {
			return err
		}
		return ErrStopped
	}
	if err != nil {
		c.state = StateDisconnected
		c.cancel()
		c.mu.Unlock()
		return err
	}
	c.state = StateConnected
	c.session = sess
	c.runSession(sess)
	c.mu.Unlock()

	c.logger.Debug("hub connected", "url", c.target)
	return nil
}

// Stop closes the connection, cancels any reconnect in progress and fires
// the closed callbacks with a nil error.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateDisconnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnecting
	sess := c.session
	c.session = nil
	cancel := c.cancel
	c.mu.Unlock()

	cancel()

	if sess != nil {
		sess.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		sess.conn.Close()
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("hub stop timed out")
		err = ctx.Err()
	}

	c.failPending(ErrStopped)

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	c.logger.Debug("hub stopped", "url", c.target)
	c.fireClosed(nil)
	return err
}

// On registers a handler for a server event. Event names match
// case-insensitively.
func (c *Client) On(event string, fn func(payload json.RawMessage)) {
	key := strings.ToLower(event)
	c.handlersMu.Lock()
	c.handlers[key] = append(c.handlers[key], fn)
	c.handlersMu.Unlock()
}

// OnClosed registers a callback for when the connection closes for good.
func (c *Client) OnClosed(fn func(err error)) {
	c.handlersMu.Lock()
	c.onClosed = append(c.onClosed, fn)
	c.handlersMu.Unlock()
}

// OnReconnecting registers a callback for when a lost connection is being restored.
func (c *Client) OnReconnecting(fn func(err error)) {
	c.handlersMu.Lock()
	c.onReconnecting = append(c.onReconnecting, fn)
	c.handlersMu.Unlock()
}

// OnReconnected registers a callback for when the connection is restored.
func (c *Client) OnReconnected(fn func(connectionID string)) {
	c.handlersMu.Lock()
	c.onReconnected = append(c.onReconnected, fn)
	c.handlersMu.Unlock()
}

// Invoke calls a hub method and waits for its completion.
func (c *Client) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	id := strconv.FormatInt(atomic.AddInt64(&c.nextID, 1), 10)
	ch := make(chan invocationResult, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	msg := invocationMessage{
		Type:         typeInvocation,
		InvocationID: id,
		Target:       method,
		Arguments:    nonNilArgs(args),
	}
	if err := c.write(msg); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.msg.Error != "" {
			return nil, &InvocationError{Method: method, Message: res.msg.Error}
		}
		return res.msg.Result, nil
	}
}

// Send calls a hub method without waiting for a result.
func (c *Client) Send(ctx context.Context, method string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(invocationMessage{
		Type:      typeInvocation,
		Target:    method,
		Arguments: nonNilArgs(args),
	})
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// connect dials the hub and completes the handshake.
func (c *Client) connect(ctx context.Context) (*session, error) {
	u, err := websocketURL(c.target)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	// Unblock the handshake read if ctx ends first.
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	leftover, err := c.handshake(conn)
	if !stop() {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &session{
		conn:     conn,
		leftover: leftover,
		done:     make(chan struct{}),
	}, nil
}

// handshake negotiates the JSON protocol. Frames received after the
// handshake response are returned for the read loop.
func (c *Client) handshake(conn *websocket.Conn) ([][]byte, error) {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)

	frame, err := encodeFrame(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return nil, err
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}

	frames := splitFrames(data)
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrHandshake)
	}
	if err := parseHandshake(frames[0]); err != nil {
		return nil, err
	}

	// The read loop owns the deadlines from here on.
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	return frames[1:], nil
}

// runSession starts the goroutines of sess. Must be called with mu held.
func (c *Client) runSession(sess *session) {
	c.wg.Add(2)
	go c.readLoop(sess)
	go c.keepAlive(sess)
}

// readLoop reads frames until the connection fails or closes.
func (c *Client) readLoop(sess *session) {
	defer c.wg.Done()
	defer close(sess.done)

	for _, frame := range sess.leftover {
		if msg := c.handleFrame(frame); msg != nil {
			c.connectionLost(sess, closeError(*msg), msg.AllowReconnect)
			return
		}
	}

	for {
		if c.cfg.ServerTimeout > 0 {
			sess.conn.SetReadDeadline(time.Now().Add(c.cfg.ServerTimeout))
		}

		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			c.connectionLost(sess, fmt.Errorf("%w: %v", ErrConnectionLost, err), true)
			return
		}

		for _, frame := range splitFrames(data) {
			if msg := c.handleFrame(frame); msg != nil {
				c.connectionLost(sess, closeError(*msg), msg.AllowReconnect)
				return
			}
		}
	}
}

// handleFrame processes one frame. It returns the close message, if the
// frame was one.
func (c *Client) handleFrame(frame []byte) *closeMessage {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.logger.Warn("failed to parse frame", "error", err)
		return nil
	}

	switch env.Type {
	case typeInvocation:
		var msg serverInvocation
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Warn("failed to parse invocation", "error", err)
			return nil
		}
		c.dispatchEvent(msg)

	case typeCompletion:
		var msg completionMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Warn("failed to parse completion", "error", err)
			return nil
		}
		c.routeCompletion(msg)

	case typePing:
		// Liveness only; the read loop handles deadlines

	case typeClose:
		var msg closeMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Warn("failed to parse close", "error", err)
		}
		return &msg

	default:
		c.logger.Debug("skipping frame type", "type", env.Type)
	}

	return nil
}

// dispatchEvent runs the handlers registered for a server invocation.
func (c *Client) dispatchEvent(msg serverInvocation) {
	c.handlersMu.RLock()
	handlers := c.handlers[strings.ToLower(msg.Target)]
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("no handler for server event", "event", msg.Target)
		return
	}

	var payload json.RawMessage
	if len(msg.Arguments) > 0 {
		payload = msg.Arguments[0]
	}

	for _, fn := range handlers {
		c.safeCall(msg.Target, func() { fn(payload) })
	}
}

// routeCompletion sends a completion to the waiting Invoke.
func (c *Client) routeCompletion(msg completionMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.InvocationID]
	if ok {
		delete(c.pending, msg.InvocationID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("completion for unknown invocation", "invocation_id", msg.InvocationID)
		return
	}

	select {
	case ch <- invocationResult{msg: msg}:
	default:
	}
}

// failPending fails every outstanding Invoke with err.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		select {
		case ch <- invocationResult{err: err}:
		default:
		}
		delete(c.pending, id)
	}
}

// connectionLost handles the end of sess. Unless the client is stopping,
// it either starts reconnecting or closes the client for good.
func (c *Client) connectionLost(sess *session, cause error, allowReconnect bool) {
	c.mu.Lock()
	if c.session != sess {
		// Stop already took the session down.
		c.mu.Unlock()
		return
	}
	c.session = nil
	sess.conn.Close()

	if c.cfg.AutomaticReconnect && allowReconnect && c.state == StateConnected {
		c.state = StateReconnecting
		lifetime := c.ctx
		c.wg.Add(1)
		c.mu.Unlock()

		c.failPending(ErrConnectionLost)
		c.logger.Warn("hub connection lost, reconnecting", "error", cause)
		c.fireReconnecting(cause)

		go c.reconnect(lifetime, cause)
		return
	}

	c.state = StateDisconnected
	c.cancel()
	c.mu.Unlock()

	c.failPending(cause)
	c.logger.Warn("hub connection closed", "error", cause)
	c.fireClosed(cause)
}

// reconnect restores the connection with exponential backoff.
func (c *Client) reconnect(ctx context.Context, cause error) {
	defer c.wg.Done()

	policy := c.reconnectPolicy(ctx)

	for attempt := 1; ; attempt++ {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		c.logger.Info("attempting hub reconnection", "attempt", attempt)

		sess, err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("hub reconnection failed",
				"attempt", attempt,
				"error", err,
			)
			cause = err
			continue
		}

		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			sess.conn.Close()
			return
		}
		c.state = StateConnected
		c.session = sess
		c.runSession(sess)
		c.mu.Unlock()

		c.logger.Info("hub reconnected", "attempt", attempt)
		c.fireReconnected("")
		return
	}

	if ctx.Err() != nil {
		// Stop owns the shutdown.
		return
	}

	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.cancel()
	c.mu.Unlock()

	err := fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, c.cfg.ReconnectMaxAttempts, cause)
	c.logger.Warn("hub reconnection gave up", "error", err)
	c.fireClosed(err)
}

// reconnectPolicy builds the delay sequence between reconnect attempts.
func (c *Client) reconnectPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.ReconnectBaseWait
	exp.MaxInterval = c.cfg.ReconnectMaxWait
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	exp.Reset()

	var policy backoff.BackOff = exp
	if c.cfg.ReconnectMaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(c.cfg.ReconnectMaxAttempts))
	}
	return backoff.WithContext(policy, ctx)
}

// keepAlive pings the server until sess ends.
func (c *Client) keepAlive(sess *session) {
	defer c.wg.Done()

	if c.cfg.KeepAliveInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := c.writeTo(sess, pingMessage{Type: typePing}); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}

// write sends a frame on the current session.
func (c *Client) write(v any) error {
	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()

	if sess == nil {
		return ErrNotConnected
	}
	return c.writeTo(sess, v)
}

// writeTo sends a frame on sess.
func (c *Client) writeTo(sess *session, v any) error {
	frame, err := encodeFrame(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	sess.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return sess.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) fireClosed(err error) {
	c.handlersMu.RLock()
	fns := c.onClosed
	c.handlersMu.RUnlock()

	for _, fn := range fns {
		c.safeCall("closed", func() { fn(err) })
	}
}

func (c *Client) fireReconnecting(err error) {
	c.handlersMu.RLock()
	fns := c.onReconnecting
	c.handlersMu.RUnlock()

	for _, fn := range fns {
		c.safeCall("reconnecting", func() { fn(err) })
	}
}

func (c *Client) fireReconnected(connectionID string) {
	c.handlersMu.RLock()
	fns := c.onReconnected
	c.handlersMu.RUnlock()

	for _, fn := range fns {
		c.safeCall("reconnected", func() { fn(connectionID) })
	}
}

// safeCall runs a user callback, logging a panic instead of propagating it.
func (c *Client) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("callback panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}

// nonNilArgs keeps "arguments" an array on the wire.
func nonNilArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}
