// Package transport manages the broker connection used to publish batches.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/star/orbitstream/internal/metrics"
)

// ErrNotConnected is returned by Publish when no connection could be made.
var ErrNotConnected = errors.New("transport not connected")

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Producer sends keyed messages to a topic and waits for acknowledgement.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
	// Flush waits up to timeout for outstanding messages and returns how
	// many are still queued.
	Flush(timeout time.Duration) int
	Close()
}

// Dialer opens a Producer.
type Dialer interface {
	Dial(ctx context.Context) (Producer, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Producer, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Producer, error) { return f(ctx) }

// Conn owns one Producer and its connection state.
type Conn struct {
	dialer     Dialer
	logger     *slog.Logger
	newBackOff func() backoff.BackOff

	mu       sync.Mutex
	state    State
	producer Producer
}

// NewConn creates a disconnected Conn. Connect attempts are retried with
// exponential backoff for at most maxAttempts dials.
func NewConn(dialer Dialer, maxAttempts int, logger *slog.Logger) *Conn {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Conn{
		dialer: dialer,
		logger: logger,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(500*time.Millisecond),
				backoff.WithMaxInterval(10*time.Second),
			), uint64(maxAttempts-1))
		},
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.state = s
	metrics.SetTransportState(int(s))
}

// Connect dials the broker. It is a no-op while Connecting or Connected.
// A failed attempt leaves the Conn Disconnected.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.setState(Connecting)
	c.mu.Unlock()

	var p Producer
	op := func() error {
		var err error
		p, err = c.dialer.Dial(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("broker connect failed, retrying", "retry_in", wait.String(), "error", err)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("connecting to broker: %w", err)
	}
	c.producer = p
	c.setState(Connected)
	c.logger.Info("broker connected")
	return nil
}

// Publish sends one message, connecting first if needed.
func (c *Conn) Publish(ctx context.Context, topic string, key, value []byte) error {
	p := c.current()
	if p == nil {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		if p = c.current(); p == nil {
			// Another caller is still connecting.
			return ErrNotConnected
		}
	}
	return p.Produce(ctx, topic, key, value)
}

func (c *Conn) current() Producer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return nil
	}
	return c.producer
}

// Close flushes outstanding messages for up to timeout and closes the
// producer. It returns the number of messages that were never acknowledged.
func (c *Conn) Close(timeout time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.producer == nil {
		c.setState(Disconnected)
		return 0
	}
	remaining := c.producer.Flush(timeout)
	c.producer.Close()
	c.producer = nil
	c.setState(Disconnected)
	if remaining > 0 {
		c.logger.Warn("closed broker connection with undelivered messages", "remaining", remaining)
	} else {
		c.logger.Info("broker connection closed")
	}
	return remaining
}
