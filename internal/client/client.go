// Package client implements the receiver side of the mirroring
// protocol: discovery, dialing with reconnect backoff, the inbound
// parse loop, and the outbound settings/ack path.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mirrorcast/internal/core/ports"
	"mirrorcast/internal/protocol"
	"mirrorcast/pkg/retry"
)

// State is the client connection state.
type State string

const (
	StateDiscovering  State = "discovering"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Sinks receive parsed stream events and state changes. Nil sinks are
// skipped. Sinks must not block; they run on the parse goroutine.
type Sinks struct {
	Frame           func(status protocol.Status, image []byte)
	Audio           func(info protocol.AudioInfo, samples []byte)
	WindowsDisplays func(resp protocol.WindowsDisplays)
	StateChange     func(state State, err *ConnectionError)
}

// Options configure a Client.
type Options struct {
	// Host and Port name an explicit endpoint; when Host is empty the
	// Browser discovers one.
	Host string
	Port int

	Browser       ports.Browser
	BrowseTimeout time.Duration

	DialTimeout time.Duration
	Retry       retry.Config

	Logger *zap.SugaredLogger
	Sinks  Sinks
}

// Client maintains one mirroring connection with automatic
// reconnection.
type Client struct {
	opts   Options
	logger *zap.SugaredLogger

	mu    sync.Mutex
	state State
	conn  net.Conn

	writeMu sync.Mutex

	cancelled atomic.Bool

	malformedLog *rate.Limiter
}

// New creates a client. Either an explicit endpoint or a browser must
// be configured.
func New(opts Options) (*Client, error) {
	if opts.Host == "" && opts.Browser == nil {
		return nil, fmt.Errorf("client: either an endpoint or a browser is required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 8 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.BrowseTimeout <= 0 {
		opts.BrowseTimeout = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		opts:         opts,
		logger:       logger,
		malformedLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}, nil
}

// Run connects and parses the stream until cancellation or until the
// reconnect budget is exhausted. It returns nil after a cancellation
// and the final *ConnectionError otherwise.
func (c *Client) Run(ctx context.Context) error {
	addr, cerr := c.resolveEndpoint(ctx)
	if cerr != nil {
		c.setState(StateFailed, cerr)
		return cerr
	}

	err := retry.Do(ctx, c.opts.Retry,
		func(attempt int, delay time.Duration) {
			waiting := newConnError(ErrConnectionWaiting, fmt.Errorf("reconnect attempt %d in %s", attempt, delay))
			c.setState(StateReconnecting, waiting)
		},
		func() error {
			return c.dialAndStream(ctx, addr)
		},
	)
	if err == nil || c.cancelled.Load() || ctx.Err() != nil {
		return nil
	}

	final := asConnError(err)
	c.setState(StateFailed, final)
	return final
}

// Cancel aborts the connection. After Cancel returns no further events
// are emitted.
func (c *Client) Cancel() {
	c.cancelled.Store(true)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendSettings transmits a settings update. Safe for concurrent use
// with the parse loop.
func (c *Client) SendSettings(u protocol.SettingsUpdate) error {
	buf, err := protocol.EncodeSettings(u)
	if err != nil {
		return err
	}
	return c.write(buf)
}

// RequestWindowsDisplays asks the server for its capturable content;
// the response arrives through the WindowsDisplays sink.
func (c *Client) RequestWindowsDisplays() error {
	buf, err := protocol.EncodeRequest(protocol.Request{Action: protocol.ActionGetWindowsDisplays})
	if err != nil {
		return err
	}
	return c.write(buf)
}

func (c *Client) write(buf []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return newConnError(ErrConnectionFailed, errors.New("not connected"))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := conn.Write(buf)
	return err
}

func (c *Client) resolveEndpoint(ctx context.Context) (string, *ConnectionError) {
	if c.opts.Host != "" {
		return net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port)), nil
	}

	c.setState(StateDiscovering, nil)
	candidates, err := c.opts.Browser.Browse(ctx, c.opts.BrowseTimeout)
	if err != nil {
		return "", newConnError(ErrServerNotFound, err)
	}
	if len(candidates) == 0 {
		return "", newConnError(ErrServerNotFound, errors.New("no servers discovered"))
	}

	chosen := candidates[0]
	c.logger.Infow("discovered server",
		"instance", chosen.Instance,
		"host", chosen.Host,
		"port", chosen.Port,
	)
	return net.JoinHostPort(chosen.Host, strconv.Itoa(chosen.Port)), nil
}

// dialAndStream performs one connection attempt and runs the parse
// loop until the connection ends.
func (c *Client) dialAndStream(ctx context.Context, addr string) error {
	if c.cancelled.Load() {
		return nil
	}
	c.setState(StateConnecting, nil)

	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classifyDial(ctx, err)
	}
	if t, ok := conn.(*net.TCPConn); ok {
		t.SetNoDelay(true)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	// Cancellation unblocks the parse loop by closing the socket.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	c.setState(StateStreaming, nil)
	return c.parseLoop(conn)
}

func (c *Client) parseLoop(conn net.Conn) error {
	r := protocol.NewStreamReader(conn)
	r.OnMalformed(func(err error) {
		if c.malformedLog.Allow() {
			c.logger.Warnw("discarding malformed packet", "error", err)
		}
	})

	for {
		ev, err := r.Next()
		if err != nil {
			if c.cancelled.Load() {
				return nil
			}
			return newConnError(ErrConnectionFailed, err)
		}
		if c.cancelled.Load() {
			return nil
		}

		switch ev.Kind {
		case protocol.EventFrame:
			if c.opts.Sinks.Frame != nil {
				c.opts.Sinks.Frame(ev.Status, ev.Image)
			}
			// One ack per frame feeds the server's RTT estimator.
			if err := c.write(protocol.EncodeAck()); err != nil && !c.cancelled.Load() {
				return newConnError(ErrConnectionFailed, err)
			}
		case protocol.EventAudio:
			if c.opts.Sinks.Audio != nil {
				c.opts.Sinks.Audio(ev.AudioInfo, ev.AudioSamples)
			}
		case protocol.EventWindowsDisplays:
			if c.opts.Sinks.WindowsDisplays != nil {
				c.opts.Sinks.WindowsDisplays(ev.WindowsDisplays)
			}
		}
	}
}

func (c *Client) setState(state State, err *ConnectionError) {
	if c.cancelled.Load() {
		return
	}
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed && c.opts.Sinks.StateChange != nil {
		c.opts.Sinks.StateChange(state, err)
	}
}

func classifyDial(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return newConnError(ErrConnectionCancelled, err)
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.ENETDOWN):
		return newConnError(ErrNetworkUnavailable, err)
	default:
		return newConnError(ErrConnectionFailed, err)
	}
}

func asConnError(err error) *ConnectionError {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr
	}
	return newConnError(ErrConnectionFailed, err)
}
