// ABOUTME: Per-connection send side of the relay server
// ABOUTME: Bounded drop-oldest outbox drained by one writer goroutine
package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// outboxSize bounds the per-connection send queue. Relay and state
	// broadcasts are fire-and-forget; when a consumer falls behind the
	// oldest queued message is dropped, favoring audio continuity over
	// completeness.
	outboxSize = 64

	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// outMessage is one queued outbound websocket message.
type outMessage struct {
	binary bool
	data   []byte
}

// conn is one participant's transport session.
type conn struct {
	id     string
	ws     *websocket.Conn
	logger zerolog.Logger

	outbox    chan outMessage
	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Int64
}

func newConn(id string, ws *websocket.Conn, logger zerolog.Logger) *conn {
	return &conn{
		id:     id,
		ws:     ws,
		logger: logger.With().Str("conn", id).Logger(),
		outbox: make(chan outMessage, outboxSize),
		done:   make(chan struct{}),
	}
}

// enqueue queues a message without ever blocking the caller. On a full
// outbox the oldest entry is discarded to make room.
func (c *conn) enqueue(msg outMessage) {
	for {
		select {
		case <-c.done:
			return
		case c.outbox <- msg:
			return
		default:
		}

		select {
		case <-c.outbox:
			if n := c.dropped.Add(1); n%100 == 1 {
				c.logger.Warn().Int64("dropped", n).Msg("slow consumer, dropping oldest")
			}
		default:
		}
	}
}

// writer drains the outbox onto the wire. It is the only goroutine
// that writes to the websocket.
func (c *conn) writer() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.outbox:
			msgType := websocket.TextMessage
			if msg.binary {
				msgType = websocket.BinaryMessage
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(msgType, msg.data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// close stops the writer. Idempotent; the websocket itself is closed
// by the read-loop defer.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
