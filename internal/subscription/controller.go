// Package subscription drives an eth_subscribe("logs") session over a
// transport connection and classifies every inbound frame against the
// handshake state.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"cryptoRide/internal/model"
	"cryptoRide/internal/transport"
)

const (
	defaultAckTimeout     = 30 * time.Second
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
)

// LogHandler receives the logs of a live subscription in arrival order.
type LogHandler interface {
	HandleLog(ctx context.Context, entry model.LogEntry)
}

// LogHandlerFunc adapts a function to LogHandler.
type LogHandlerFunc func(ctx context.Context, entry model.LogEntry)

func (f LogHandlerFunc) HandleLog(ctx context.Context, entry model.LogEntry) {
	f(ctx, entry)
}

// Config configures a Controller.
type Config struct {
	// Endpoint is the websocket JSON-RPC URL.
	Endpoint string
	// Address is the contract whose logs are subscribed to.
	Address string
	// AckTimeout bounds the wait for subscribe and unsubscribe replies.
	// Zero uses the default, a negative value waits forever.
	AckTimeout time.Duration
	// MaxReconnects is the number of redial attempts after a transport
	// failure. Zero disables reconnecting.
	MaxReconnects int
	// InitialBackoff and MaxBackoff bound the delay between redials.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger   *zap.Logger
	Observer Observer
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.Address == "" {
		return errors.New("contract address is required")
	}
	if c.MaxReconnects < 0 {
		return errors.New("max reconnects cannot be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.AckTimeout == 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

type commandKind int

const (
	commandStop commandKind = iota
	commandClose
)

type command struct {
	kind  commandKind
	reply chan error
}

// Controller owns the subscription lifecycle of one endpoint. State and the
// subscription id are written only by the processing goroutine started in
// Start; frames are handled strictly one at a time.
type Controller struct {
	cfg     Config
	dialer  transport.Dialer
	handler LogHandler
	logger  *zap.Logger

	mu             sync.RWMutex
	state          State
	subscriptionID string
	err            error
	started        bool

	// owned by the processing goroutine
	conn     transport.Connection
	ackTimer *time.Timer
	backoff  backoff.BackOff
	attempts int

	commands chan command
	done     chan struct{}
}

// NewController builds a Controller in StateIdle.
func NewController(cfg Config, dialer transport.Dialer, handler LogHandler) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if dialer == nil {
		return nil, errors.New("dialer is nil")
	}
	if handler == nil {
		return nil, errors.New("log handler is nil")
	}
	cfg.applyDefaults()

	bk := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(cfg.InitialBackoff),
		backoff.WithMaxInterval(cfg.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.2),
	)

	return &Controller{
		cfg:      cfg,
		dialer:   dialer,
		handler:  handler,
		logger:   cfg.Logger.With(zap.String("component", "subscription"), zap.String("address", cfg.Address)),
		backoff:  backoff.WithMaxRetries(bk, uint64(cfg.MaxReconnects)),
		commands: make(chan command),
		done:     make(chan struct{}),
	}, nil
}

// Start opens the transport and begins processing frames. The subscribe
// request is written once the transport reports it is connected.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("%w: start in state %s", ErrProtocolViolation, c.state)
	}
	c.started = true
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.cfg.Endpoint)
	if err != nil {
		terr := &TransportError{Err: err}
		c.fail(terr)
		close(c.done)
		return terr
	}
	c.conn = conn
	c.transition(StateNotSubscribed, nil)

	go c.run(ctx)
	return nil
}

// Stop sends eth_unsubscribe and returns without waiting for the reply.
// It is only valid while subscribed.
func (c *Controller) Stop() error {
	return c.send(commandStop)
}

// Close tears the transport down immediately from any state.
func (c *Controller) Close() error {
	return c.send(commandClose)
}

// Done is closed once the controller reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err returns the failure that moved the controller to StateFailed.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SubscriptionID returns the id of the live subscription, if any.
func (c *Controller) SubscriptionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptionID
}

func (c *Controller) send(kind commandKind) error {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		if kind == commandClose {
			return nil
		}
		return ErrNotStarted
	}

	reply := make(chan error, 1)
	select {
	case c.commands <- command{kind: kind, reply: reply}:
		return <-reply
	case <-c.done:
		if kind == commandClose {
			return nil
		}
		return fmt.Errorf("%w: stop in state %s", ErrProtocolViolation, c.State())
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	for !c.State().Terminal() {
		var timeout <-chan time.Time
		if c.ackTimer != nil {
			timeout = c.ackTimer.C
		}

		select {
		case <-ctx.Done():
			c.shutdown(StateClosed, nil)
		case cmd := <-c.commands:
			cmd.reply <- c.handleCommand(cmd.kind)
		case frame, ok := <-c.conn.Frames():
			if !ok {
				c.handleTransportFailure(ctx, errors.New("frame stream ended"))
				continue
			}
			c.handleFrame(ctx, frame)
		case <-timeout:
			c.ackTimer = nil
			c.handleAckTimeout(ctx)
		}
	}
}

func (c *Controller) handleCommand(kind commandKind) error {
	switch kind {
	case commandClose:
		if !c.State().Terminal() {
			c.shutdown(StateClosed, nil)
		}
		return nil
	case commandStop:
		return c.unsubscribe()
	default:
		return fmt.Errorf("unknown command %d", kind)
	}
}

func (c *Controller) unsubscribe() error {
	state := c.State()
	if state != StateSubscribed {
		return fmt.Errorf("%w: stop in state %s", ErrProtocolViolation, state)
	}

	req, err := unsubscribeRequest(c.SubscriptionID())
	if err != nil {
		return fmt.Errorf("build unsubscribe request: %w", err)
	}
	if err := c.conn.WriteText(string(req)); err != nil {
		terr := &TransportError{Err: fmt.Errorf("write unsubscribe: %w", err)}
		c.shutdown(StateFailed, terr)
		return terr
	}

	c.transition(StateUnsubscribing, nil)
	c.armAckTimer()
	return nil
}

func (c *Controller) handleFrame(ctx context.Context, frame transport.Frame) {
	framesReceived.WithLabelValues(frame.Kind.String()).Inc()

	switch frame.Kind {
	case transport.FrameConnected:
		c.onConnected(ctx)
	case transport.FrameText:
		c.onText(ctx, frame.Text)
	case transport.FrameError:
		c.handleTransportFailure(ctx, frame.Err)
	case transport.FrameClosed:
		c.handleTransportFailure(ctx, errors.New("connection closed"))
	}
}

func (c *Controller) onConnected(ctx context.Context) {
	req, err := subscribeRequest(c.cfg.Address)
	if err != nil {
		c.fail(fmt.Errorf("build subscribe request: %w", err))
		return
	}
	if err := c.conn.WriteText(string(req)); err != nil {
		c.handleTransportFailure(ctx, fmt.Errorf("write subscribe: %w", err))
		return
	}
	c.logger.Debug("subscribe request sent")
	c.armAckTimer()
}

func (c *Controller) onText(ctx context.Context, text string) {
	switch state := c.State(); state {
	case StateNotSubscribed:
		ack, err := ParseSubscriptionAck(text)
		if err != nil {
			c.drop(state, text, err)
			return
		}
		c.stopAckTimer()
		c.mu.Lock()
		c.subscriptionID = ack.SubscriptionID
		c.mu.Unlock()

		reconnect := c.attempts
		c.attempts = 0
		c.backoff.Reset()
		c.transitionReconnect(StateSubscribed, reconnect, nil)
		c.logger.Info("subscribed", zap.String("subscription_id", ack.SubscriptionID))

	case StateSubscribed:
		event, err := ParseEventNotification(text)
		if err != nil {
			c.drop(state, text, err)
			return
		}
		if id := c.SubscriptionID(); event.SubscriptionID != id {
			c.drop(state, text, fmt.Errorf("%w: notification for subscription %s, expected %s", ErrParse, event.SubscriptionID, id))
			return
		}
		c.handler.HandleLog(ctx, event.Result)

	case StateUnsubscribing:
		ack, err := ParseUnsubscribeAck(text)
		if err != nil {
			c.drop(state, text, err)
			return
		}
		if !ack.Success {
			c.logger.Warn("unsubscribe rejected, keeping connection open")
			return
		}
		c.shutdown(StateClosed, nil)

	default:
		c.drop(state, text, fmt.Errorf("%w: unexpected frame", ErrParse))
	}
}

func (c *Controller) drop(state State, text string, err error) {
	framesDropped.WithLabelValues(state.String()).Inc()
	c.logger.Warn("dropping frame",
		zap.String("state", state.String()),
		zap.Int("length", len(text)),
		zap.Error(err),
	)
}

func (c *Controller) handleAckTimeout(ctx context.Context) {
	ackTimeouts.Inc()
	switch state := c.State(); state {
	case StateNotSubscribed:
		c.handleTransportFailure(ctx, ErrAckTimeout)
	case StateUnsubscribing:
		c.logger.Warn("unsubscribe reply timed out, forcing close")
		c.shutdown(StateFailed, ErrAckTimeout)
	}
}

// handleTransportFailure redials with backoff while the policy allows and the
// session is still wanted; otherwise the controller fails.
func (c *Controller) handleTransportFailure(ctx context.Context, cause error) {
	c.stopAckTimer()
	c.closeTransport()

	state := c.State()
	if state.Terminal() {
		return
	}
	if state == StateUnsubscribing || c.cfg.MaxReconnects == 0 {
		c.fail(&TransportError{Err: cause})
		return
	}

	c.mu.Lock()
	c.subscriptionID = ""
	c.mu.Unlock()
	if state != StateNotSubscribed {
		c.transition(StateNotSubscribed, cause)
	}

	for {
		wait := c.backoff.NextBackOff()
		if wait == backoff.Stop {
			c.fail(&TransportError{Attempts: c.attempts, Err: cause})
			return
		}
		c.attempts++
		c.logger.Warn("transport failed, reconnecting",
			zap.Error(cause),
			zap.Int("attempt", c.attempts),
			zap.Duration("backoff", wait),
		)
		if !c.sleep(ctx, wait) {
			return
		}

		conn, err := c.dialer.Dial(ctx, c.cfg.Endpoint)
		if err != nil {
			cause = err
			continue
		}
		reconnects.Inc()
		c.conn = conn
		return
	}
}

// sleep waits for d while still serving commands. It returns false when the
// controller was closed in the meantime.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown(StateClosed, nil)
			return false
		case cmd := <-c.commands:
			cmd.reply <- c.handleCommand(cmd.kind)
			if c.State().Terminal() {
				return false
			}
		case <-timer.C:
			return true
		}
	}
}

func (c *Controller) shutdown(to State, err error) {
	c.stopAckTimer()
	c.closeTransport()
	if to == StateFailed {
		c.fail(err)
		return
	}
	c.transition(to, err)
}

func (c *Controller) fail(err error) {
	c.closeTransport()
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.logger.Error("subscription failed", zap.Error(err))
	c.transition(StateFailed, err)
}

// closeTransport closes the current connection once and drains its frames so
// the read loop can exit.
func (c *Controller) closeTransport() {
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	if err := conn.Close(); err != nil {
		c.logger.Debug("close transport", zap.Error(err))
	}
	go func() {
		for range conn.Frames() {
		}
	}()
}

func (c *Controller) armAckTimer() {
	c.stopAckTimer()
	if c.cfg.AckTimeout < 0 {
		return
	}
	c.ackTimer = time.NewTimer(c.cfg.AckTimeout)
}

func (c *Controller) stopAckTimer() {
	if c.ackTimer == nil {
		return
	}
	c.ackTimer.Stop()
	c.ackTimer = nil
}

func (c *Controller) transition(to State, err error) {
	c.transitionReconnect(to, 0, err)
}

func (c *Controller) transitionReconnect(to State, reconnect int, err error) {
	c.mu.Lock()
	from := c.state
	c.state = to
	id := c.subscriptionID
	c.mu.Unlock()

	stateGauge.Set(float64(to))
	change := StateChange{From: from, To: to, SubscriptionID: id, Reconnect: reconnect, Err: err}
	c.logger.Debug("state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("reconnect", reconnect),
	)
	if c.cfg.Observer != nil {
		c.cfg.Observer.StateChanged(change)
	}
}
