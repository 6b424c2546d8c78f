package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fangwater/mkt-monitor/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSubscriberReceivesPayloads(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, msg := range []string{`{"a":1}`, `{"a":2}`, `{"a":3}`} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Keep the connection open until the client leaves.
		conn.ReadMessage()
	}))
	defer srv.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	handler := func(feed config.Feed, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		if feed.Name != "test-feed" {
			t.Errorf("feed name = %q", feed.Name)
		}
		got = append(got, string(payload))
		if len(got) == 3 {
			close(done)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := NewSubscriber(config.Feed{Name: "test-feed", URL: wsURL(srv), Kind: config.FeedBandwidth}, handler, testLogger())
	go sub.Run(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for payloads")
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0] != `{"a":1}` || got[2] != `{"a":3}` {
		t.Fatalf("payloads = %v", got)
	}
}

func TestSubscriberReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		n := conns + 1
		conns = n
		mu.Unlock()
		if n == 1 {
			// Drop the first connection immediately after one message.
			conn.WriteMessage(websocket.TextMessage, []byte(`first`))
			conn.Close()
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`second`))
		conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	done := make(chan struct{})
	var once sync.Once
	handler := func(_ config.Feed, payload []byte) {
		if string(payload) == "second" {
			once.Do(func() { close(done) })
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := NewSubscriber(config.Feed{Name: "flaky", URL: wsURL(srv), Kind: config.FeedIntegrity}, handler, testLogger())
	go sub.Run(ctx)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("subscriber never reconnected")
	}
}

func TestSubscriberStopsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := NewSubscriber(config.Feed{Name: "idle", URL: wsURL(srv), Kind: config.FeedBandwidth}, func(config.Feed, []byte) {}, testLogger())

	stopped := make(chan struct{})
	go func() {
		sub.Run(ctx)
		close(stopped)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
