// Package ws is a reconnecting websocket client for push market-data feeds.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrStale = errors.New("websocket stale: no message within timeout")

// SendFunc writes one JSON message on the live connection.
type SendFunc func(v any) error

// Client keeps one subscription alive across disconnects. Each new connection
// runs the subscribe hook again, so callers never resubscribe by hand.
type Client struct {
	url     string
	name    string
	handler func([]byte)

	subscribe    func(send SendFunc) error
	staleTimeout time.Duration
	pingInterval time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	dialer       *websocket.Dialer

	connects atomic.Int64
	lastMsg  atomic.Int64
	log      zerolog.Logger
}

type Option func(*Client)

func WithName(name string) Option { return func(c *Client) { c.name = name } }

// WithSubscribe sets the hook run after every successful dial.
func WithSubscribe(fn func(send SendFunc) error) Option {
	return func(c *Client) { c.subscribe = fn }
}

// WithStaleTimeout sets how long the connection may stay silent before it is rebuilt.
func WithStaleTimeout(d time.Duration) Option { return func(c *Client) { c.staleTimeout = d } }

func WithPingInterval(d time.Duration) Option { return func(c *Client) { c.pingInterval = d } }

func WithBackoff(initial, limit time.Duration) Option {
	return func(c *Client) { c.minBackoff, c.maxBackoff = initial, limit }
}

func NewClient(url string, handler func([]byte), opts ...Option) *Client {
	c := &Client{
		url:          url,
		name:         "ws",
		handler:      handler,
		staleTimeout: 90 * time.Second,
		pingInterval: 30 * time.Second,
		minBackoff:   time.Second,
		maxBackoff:   60 * time.Second,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: websocket.DefaultDialer.Proxy},
	}
	for _, o := range opts {
		o(c)
	}
	c.log = log.With().Str("component", "ws").Str("feed", c.name).Logger()
	return c
}

// Connects returns how many connections have been established.
func (c *Client) Connects() int64 { return c.connects.Load() }

// LastMessage returns when the last frame was received.
func (c *Client) LastMessage() time.Time {
	ns := c.lastMsg.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run connects and reconnects until ctx is cancelled. The jittered backoff
// grows from minBackoff towards maxBackoff and resets once a session delivers data.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.minBackoff
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	for {
		received, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			b.Reset()
		}
		wait := b.NextBackOff()
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("disconnected, reconnecting")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	c.connects.Add(1)

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	if c.subscribe != nil {
		if err := c.subscribe(send); err != nil {
			return false, fmt.Errorf("subscribe: %w", err)
		}
	}
	c.log.Info().Str("url", c.url).Msg("connected")

	// only data frames move the deadline; a peer that answers pings but
	// stops publishing is still stale
	_ = conn.SetReadDeadline(time.Now().Add(c.staleTimeout))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				writeMu.Unlock()
				if err != nil {
					c.log.Debug().Err(err).Msg("ping failed")
				}
			}
		}
	}()

	received := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return received, ErrStale
			}
			return received, err
		}
		received = true
		c.lastMsg.Store(time.Now().UnixNano())
		_ = conn.SetReadDeadline(time.Now().Add(c.staleTimeout))
		if c.handler != nil {
			c.handler(data)
		}
	}
}
