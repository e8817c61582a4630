package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_ResubscribesAfterDisconnect(t *testing.T) {
	var subs atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subs.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"n":1}`))
		// drop the connection after one message
	}))
	defer srv.Close()

	var mu sync.Mutex
	var got []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewClient(wsURL(srv), func(b []byte) {
		mu.Lock()
		got = append(got, string(b))
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			cancel()
		}
	},
		WithName("test"),
		WithBackoff(10*time.Millisecond, 20*time.Millisecond),
		WithSubscribe(func(send SendFunc) error {
			return send(map[string]any{"method": "SUBSCRIBE", "params": []string{"x"}})
		}),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client did not reconnect")
	}

	if c.Connects() < 2 {
		t.Fatalf("connects = %d", c.Connects())
	}
	if subs.Load() < 2 {
		t.Fatalf("subscribe sent %d times", subs.Load())
	}
	if c.LastMessage().IsZero() {
		t.Fatal("LastMessage not recorded")
	}
}

func TestClient_StaleConnectionIsRebuilt(t *testing.T) {
	var pings atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Answers pings but never publishes data.
		conn.SetPingHandler(func(appData string) error {
			pings.Add(1)
			return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	for _, tc := range []struct {
		name string
		ping time.Duration
	}{
		{"silent", time.Hour},
		{"pong only", 10 * time.Millisecond},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			c := NewClient(wsURL(srv), nil,
				WithStaleTimeout(80*time.Millisecond),
				WithPingInterval(tc.ping),
				WithBackoff(10*time.Millisecond, 10*time.Millisecond),
			)
			go func() { _ = c.Run(ctx) }()

			deadline := time.Now().Add(2 * time.Second)
			for c.Connects() < 3 {
				if time.Now().After(deadline) {
					t.Fatalf("stale connection not rebuilt, connects = %d", c.Connects())
				}
				time.Sleep(10 * time.Millisecond)
			}
			if !c.LastMessage().IsZero() {
				t.Fatal("control frames recorded as data")
			}
		})
	}
	if pings.Load() == 0 {
		t.Fatal("server never saw a ping")
	}
}

func TestClient_BackoffCapped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	c := NewClient("ws://127.0.0.1:1/none", nil, WithBackoff(5*time.Millisecond, 20*time.Millisecond))
	start := time.Now()
	if err := c.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Run = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("Run did not honour context")
	}
	if c.Connects() != 0 {
		t.Fatal("unexpected connection")
	}
}
