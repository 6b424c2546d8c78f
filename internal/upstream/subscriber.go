// Package upstream maintains dial-out websocket subscriptions to
// producer feeds and hands every received payload to the ingest layer.
package upstream

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fangwater/mkt-monitor/internal/config"
)

const (
	dialTimeout    = 10 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Handler consumes one raw payload from a feed.
type Handler func(feed config.Feed, payload []byte)

// Subscriber keeps one feed connected for the life of its context,
// reconnecting with exponential backoff after any failure.
type Subscriber struct {
	feed    config.Feed
	handler Handler
	dialer  *websocket.Dialer
	log     *slog.Logger
}

func NewSubscriber(feed config.Feed, handler Handler, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		feed:    feed,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: dialTimeout},
		log:     logger.With(slog.String("feed", feed.Name)),
	}
}

// Run blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		connected, err := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = initialBackoff
		}
		s.log.Warn("feed connection lost",
			slog.String("url", s.feed.URL),
			slog.Duration("retry_in", backoff),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Subscriber) connect(ctx context.Context) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.feed.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	s.log.Info("feed connected", slog.String("url", s.feed.URL))

	// ReadMessage has no context form; closing the connection unblocks it
	// when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		s.handler(s.feed, payload)
	}
}
