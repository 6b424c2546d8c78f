package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultSendBuffer bounds a subscriber's outbound queue when no size is
// configured.
const DefaultSendBuffer = 256

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Client adapts a websocket connection to the Subscriber interface. A
// dedicated writer goroutine drains the bounded queue, so a slow peer
// fills its own queue instead of blocking the broadcast path.
type Client struct {
	id    string
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
	log   *slog.Logger
}

// NewClient wraps conn with a queue of the given size.
func NewClient(conn *websocket.Conn, logger *slog.Logger, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		id:    uuid.NewString(),
		conn:  conn,
		queue: make(chan []byte, buffer),
		done:  make(chan struct{}),
		log:   logger,
	}
}

// ID returns the subscriber's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Send enqueues a payload without blocking.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.queue <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the queue onto the connection until the client closes.
// It blocks and is intended to run in its own goroutine.
func (c *Client) Run() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case payload := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "subscriber", c.id, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close terminates the connection and releases the writer. Idempotent.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
