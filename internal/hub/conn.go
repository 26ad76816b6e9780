// internal/hub/conn.go
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// outboundBuffer is the per-connection delta queue. A client that falls
	// this far behind is dropped rather than back-pressuring the lobby.
	outboundBuffer = 32

	pingInterval = 20 * time.Second
	pingTimeout  = 20 * time.Second
	writeTimeout = 5 * time.Second
)

// wsConn adapts one websocket to the lobby's Sink contract: a bounded
// outbound queue drained by writePump, with non-blocking Send.
type wsConn struct {
	out    chan any
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	reason string
}

func newWSConn() *wsConn {
	return &wsConn{
		out:  make(chan any, outboundBuffer),
		done: make(chan struct{}),
	}
}

// Send enqueues a message without blocking. False means the queue is full
// and the caller should drop this attachment.
func (w *wsConn) Send(msg any) bool {
	select {
	case <-w.done:
		return true
	default:
	}
	select {
	case w.out <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump. The first reason wins.
func (w *wsConn) Close(reason string) {
	w.once.Do(func() {
		w.mu.Lock()
		w.reason = reason
		w.mu.Unlock()
		close(w.done)
	})
}

func (w *wsConn) closeReason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

// writePump drains the outbound queue onto the wire and keeps the
// connection alive with pings. A ping that sees no pong within its timeout
// counts as a dead client and force-closes the connection.
func (w *wsConn) writePump(ctx context.Context, c *websocket.Conn, logger *logrus.Entry) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			c.Close(websocket.StatusNormalClosure, w.closeReason())
			return
		case msg := <-w.out:
			data, err := json.Marshal(msg)
			if err != nil {
				logger.WithError(err).Warn("failed to marshal outbound message")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.WithError(err).Debug("write failed, stopping write pump")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.WithError(err).Debug("ping failed, assuming disconnect")
				c.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// rateWindow is a fixed-window counter capping inbound message rate.
type rateWindow struct {
	windowStart time.Time
	count       int
	limit       int
	window      time.Duration
}

func newRateWindow(limit int, window time.Duration) *rateWindow {
	return &rateWindow{limit: limit, window: window}
}

// allow counts one message and reports whether it is within the cap.
func (r *rateWindow) allow(now time.Time) bool {
	if now.Sub(r.windowStart) >= r.window {
		r.windowStart = now
		r.count = 0
	}
	r.count++
	return r.count <= r.limit
}
