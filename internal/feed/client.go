// Package feed keeps a STOMP subscription alive over a WebSocket and turns
// MESSAGE frames into product events.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Subprotocol negotiated during the WebSocket upgrade.
	Subprotocol = "v12.stomp"

	DefaultTopic = "/topic/product"

	defaultBackoffMin  = 1 * time.Second
	defaultBackoffMax  = 30 * time.Second
	defaultStableAfter = 1 * time.Minute

	handshakeTimeout = 15 * time.Second

	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from the feed.
	maxMessageSize = 1024 * 1024
)

// Config describes the feed endpoint and reconnect policy.
type Config struct {
	URL    string
	Topic  string
	Host   string // CONNECT host header, defaults to the URL host
	Origin string // optional Origin header for the upgrade request

	BackoffMin time.Duration
	BackoffMax time.Duration
	// A session that stayed subscribed at least this long resets the backoff to BackoffMin.
	StableAfter time.Duration
	// Heart-beat proposed in CONNECT for both directions; 10s when zero.
	Heartbeat time.Duration
}

// ConnectionState is the protocol state of the current connection attempt.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateAwaitingConnected
	StateSubscribed
)

func (s ConnectionState) String() string {
	switch s {
	case StateAwaitingConnected:
		return "awaiting_connected"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Stats are cumulative counters over every connection of the client.
type Stats struct {
	State        string `json:"state"`
	Connects     int64  `json:"connects"`
	Frames       int64  `json:"frames"`
	Heartbeats   int64  `json:"heartbeats"`
	Events       int64  `json:"events"`
	Malformed    int64  `json:"malformed"`
	ServerErrors int64  `json:"server_errors"`
}

// Client owns at most one feed connection at a time and reconnects until stopped.
type Client struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer
	backoff Backoff
	logger  *zap.Logger

	state        atomic.Int32
	connects     atomic.Int64
	frames       atomic.Int64
	heartbeats   atomic.Int64
	events       atomic.Int64
	malformed    atomic.Int64
	serverErrors atomic.Int64
}

// NewClient validates cfg and fills in defaults.
func NewClient(cfg Config, handler Handler, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}

	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Host == "" {
		cfg.Host = u.Hostname()
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = defaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = max(defaultBackoffMax, cfg.BackoffMin)
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = defaultStableAfter
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = proposedHeartbeatMs * time.Millisecond
	}

	return &Client{
		cfg:     cfg,
		handler: handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Subprotocols:     []string{Subprotocol},
		},
		backoff: Backoff{Min: cfg.BackoffMin, Max: cfg.BackoffMax},
		logger:  logger,
	}, nil
}

// Run connects, subscribes and reconnects with exponential backoff until ctx is
// cancelled. Cancellation interrupts a pending backoff wait and closes the socket.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("feed client starting",
		zap.String("url", c.cfg.URL),
		zap.String("topic", c.cfg.Topic),
	)

	for {
		subscribedAt, err := c.connect(ctx)
		if ctx.Err() != nil {
			c.logger.Info("feed client stopped")
			return nil
		}

		if !subscribedAt.IsZero() && time.Since(subscribedAt) >= c.cfg.StableAfter {
			c.backoff.Reset()
		}

		delay := c.backoff.Next()
		if err != nil {
			c.logger.Warn("feed connection lost", zap.Error(err), zap.Duration("retryIn", delay))
		} else {
			c.logger.Warn("feed connection closed", zap.Duration("retryIn", delay))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("feed client stopped")
			return nil
		case <-timer.C:
		}
	}
}

// connect runs one connection attempt to completion. It returns when the
// subscription was established, or the zero time if it never was.
func (c *Client) connect(ctx context.Context) (time.Time, error) {
	header := http.Header{}
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return time.Time{}, fmt.Errorf("dialing feed: %w", err)
	}
	c.connects.Add(1)

	s := &session{
		client: c,
		conn:   conn,
		hb:     newHeartbeat(time.Now()),
		logger: c.logger.With(zap.String("session", uuid.NewString())),
	}
	return s.run(ctx)
}

// State returns the protocol state of the current connection attempt.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Client) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		State:        c.State().String(),
		Connects:     c.connects.Load(),
		Frames:       c.frames.Load(),
		Heartbeats:   c.heartbeats.Load(),
		Events:       c.events.Load(),
		Malformed:    c.malformed.Load(),
		ServerErrors: c.serverErrors.Load(),
	}
}
