package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mirrorcast/internal/core/domain"
	"mirrorcast/internal/protocol"
)

// conn is one connected receiver: a bounded outbound queue drained by a
// writer goroutine, and a reader goroutine parsing acks, settings and
// content requests.
type conn struct {
	id     domain.PeerID
	tcp    net.Conn
	logger *zap.SugaredLogger

	outbound  chan []byte
	highWater int64

	mu              sync.Mutex
	queuedBytes     int64
	lastFrameSentAt time.Time
	sendErrors      int
	backlogDrops    int

	connectedAt time.Time
	closeOnce   sync.Once
	closed      chan struct{}

	// Throttles malformed-packet logging so a hostile or broken client
	// cannot flood the log.
	malformedLog *rate.Limiter
}

func newConn(id domain.PeerID, tcp net.Conn, highWater int64, logger *zap.SugaredLogger) *conn {
	return &conn{
		id:           id,
		tcp:          tcp,
		logger:       logger,
		outbound:     make(chan []byte, 64),
		highWater:    highWater,
		connectedAt:  time.Now(),
		closed:       make(chan struct{}),
		malformedLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// enqueue submits a packet without ever blocking the caller. It
// returns false when the receiver's backlog would exceed the
// high-water mark; the packet is then dropped for this peer only.
func (c *conn) enqueue(buf []byte) bool {
	c.mu.Lock()
	if c.queuedBytes+int64(len(buf)) > c.highWater {
		c.backlogDrops++
		c.mu.Unlock()
		return false
	}
	c.queuedBytes += int64(len(buf))
	c.mu.Unlock()

	select {
	case c.outbound <- buf:
		return true
	case <-c.closed:
	default:
	}

	c.mu.Lock()
	c.queuedBytes -= int64(len(buf))
	c.backlogDrops++
	c.mu.Unlock()
	return false
}

// markFrameSent records the submission time of the latest video frame
// for RTT sampling.
func (c *conn) markFrameSent(t time.Time) {
	c.mu.Lock()
	c.lastFrameSentAt = t
	c.mu.Unlock()
}

// takeFrameSentAt returns and clears the pending frame timestamp, so
// each frame yields at most one RTT sample.
func (c *conn) takeFrameSentAt() time.Time {
	c.mu.Lock()
	t := c.lastFrameSentAt
	c.lastFrameSentAt = time.Time{}
	c.mu.Unlock()
	return t
}

func (c *conn) info() domain.PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.PeerInfo{
		ID:           c.id,
		RemoteAddr:   c.tcp.RemoteAddr().String(),
		ConnectedAt:  c.connectedAt,
		SendErrors:   c.sendErrors,
		BacklogDrops: c.backlogDrops,
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.tcp.Close()
	})
}

// writeLoop drains the outbound queue onto the socket. A write error
// is terminal for the connection: the error is counted and the TCP
// state machine's verdict stands.
func (c *conn) writeLoop(s *Server) {
	defer s.removePeer(c)
	for {
		select {
		case <-c.closed:
			return
		case buf := <-c.outbound:
			_, err := c.tcp.Write(buf)
			c.mu.Lock()
			c.queuedBytes -= int64(len(buf))
			if err != nil {
				c.sendErrors++
			}
			c.mu.Unlock()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					c.logger.Warnw("send failed", "peer_id", c.id, "error", err)
				}
				return
			}
		}
	}
}

// readLoop parses the client→server control stream.
func (c *conn) readLoop(s *Server) {
	defer s.removePeer(c)

	r := protocol.NewControlReader(c.tcp)
	r.OnMalformed(func(err error) {
		if c.malformedLog.Allow() {
			c.logger.Warnw("discarding malformed packet", "peer_id", c.id, "error", err)
		}
	})

	for {
		ev, err := r.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, domain.ErrProtocolViolation):
				c.logger.Warnw("closing connection on protocol violation", "peer_id", c.id, "error", err)
				s.noteError("protocol_violation")
			default:
				select {
				case <-c.closed:
				default:
					c.logger.Warnw("read failed", "peer_id", c.id, "error", err)
				}
			}
			return
		}

		switch ev.Kind {
		case protocol.ControlAck:
			s.handleAck(c)
		case protocol.ControlSettings:
			s.handleSettings(c, ev.Settings)
		case protocol.ControlRequest:
			s.handleRequest(c, ev.Request)
		}
	}
}
