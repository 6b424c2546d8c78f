package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const heartbeatInterval = 25 * time.Second

// SSEClient streams payloads as Server-Sent Events. Like Client it
// enqueues without blocking; Serve drains the queue on the handler's
// goroutine.
type SSEClient struct {
	id      string
	writer  io.Writer
	flusher http.Flusher
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger
}

// NewSSEClient builds an SSE subscriber over an HTTP response writer.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger, buffer int) *SSEClient {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &SSEClient{
		id:      uuid.NewString(),
		writer:  writer,
		flusher: flusher,
		queue:   make(chan []byte, buffer),
		done:    make(chan struct{}),
		log:     logger,
	}
}

// ID returns the subscriber's unique identifier.
func (c *SSEClient) ID() string {
	return c.id
}

// Send enqueues one event frame without blocking.
func (c *SSEClient) Send(payload []byte) error {
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

// Serve writes queued frames and heartbeat comments until the request
// context ends or the client is closed. Blocks.
func (c *SSEClient) Serve(done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case payload := <-c.queue:
			if _, err := fmt.Fprintf(c.writer, "data: %s\n\n", payload); err != nil {
				c.log.Warn("sse send failed", "subscriber", c.id, "error", err)
				c.Close()
				return
			}
			c.flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
				c.Close()
				return
			}
			c.flusher.Flush()
		case <-done:
			c.Close()
			return
		case <-c.done:
			return
		}
	}
}

// Close marks the stream as finished. Idempotent.
func (c *SSEClient) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}
