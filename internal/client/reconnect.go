// ABOUTME: Reconnection controller keeping one live stream open with a fresh token per attempt
// ABOUTME: Waits a cancelable backoff delay between attempts and tears down on Close or context end

package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultReconnectDelay is the pause between a dropped stream and the next attempt.
const DefaultReconnectDelay = 3 * time.Second

// State is a controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TokenSource returns the credential for the next connection attempt.
type TokenSource func(ctx context.Context) (string, error)

// Dialer opens the event stream authenticated with token.
type Dialer func(ctx context.Context, token string) (io.ReadCloser, error)

// StreamHandler consumes an open stream until it ends.
type StreamHandler func(ctx context.Context, body io.Reader) error

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Tokens TokenSource
	Dial   Dialer
	Handle StreamHandler

	// Backoff paces reconnects. Defaults to a constant DefaultReconnectDelay.
	// Returning backoff.Stop tears the controller down.
	Backoff backoff.BackOff

	// OnState, if set, observes every transition.
	OnState func(State)

	Logger *slog.Logger
}

// Controller keeps a stream open across drops.
type Controller struct {
	cfg    ControllerConfig
	logger *slog.Logger

	mu    sync.Mutex
	state State
	body  io.ReadCloser

	closed    chan struct{}
	closeOnce sync.Once
}

// NewController creates an idle controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.NewConstantBackOff(DefaultReconnectDelay)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		logger: logger.With("component", "reconnect"),
		closed: make(chan struct{}),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.logger.Debug("stream state", "state", s)
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

func (c *Controller) setBody(body io.ReadCloser) {
	c.mu.Lock()
	c.body = body
	c.mu.Unlock()
}

// closeBody closes the current stream body, if any. Closing it unblocks a
// pending read in the stream handler.
func (c *Controller) closeBody() {
	c.mu.Lock()
	body := c.body
	c.body = nil
	c.mu.Unlock()

	if body != nil {
		_ = body.Close()
	}
}

// Run connects and reconnects until Close is called, ctx ends, or the
// backoff policy stops. It always leaves the controller torn down.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer c.teardown()

	for {
		if c.stopped(ctx) {
			return nil
		}

		err := c.attempt(ctx)
		if c.stopped(ctx) {
			return nil
		}
		if err != nil {
			c.logger.Warn("stream error", "error", err)
			c.setState(StateErrored)
		} else {
			c.logger.Info("stream closed by server")
			c.setState(StateClosed)
		}

		delay := c.cfg.Backoff.NextBackOff()
		if delay == backoff.Stop {
			c.logger.Info("reconnect policy stopped retrying")
			return nil
		}

		c.logger.Debug("reconnecting", "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// attempt runs one connection from token fetch to stream end.
func (c *Controller) attempt(ctx context.Context) error {
	c.setState(StateConnecting)

	token, err := c.cfg.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("fetching token: %w", err)
	}

	body, err := c.cfg.Dial(ctx, token)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	c.setBody(body)
	defer c.closeBody()

	// Close may have raced with the dial
	if c.stopped(ctx) {
		return context.Canceled
	}

	c.setState(StateOpen)
	c.cfg.Backoff.Reset()

	return c.cfg.Handle(ctx, body)
}

func (c *Controller) stopped(ctx context.Context) bool {
	select {
	case <-c.closed:
		return true
	default:
		return ctx.Err() != nil
	}
}

func (c *Controller) teardown() {
	c.closeBody()
	c.setState(StateTornDown)
}

// Close tears the controller down: any pending reconnect is canceled and
// the open stream is closed. Safe to call more than once and before Run.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	c.closeBody()
}
