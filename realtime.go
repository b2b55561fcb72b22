package chatkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Connection state machine
// ============================================================================

// ConnState is the connection manager state. The lifecycle is
// Idle -> Connecting -> Open -> Reconnecting -> Connecting -> ...;
// Closed is terminal, reached by an explicit Close or by cancellation
// of the context the connection was started with.
type ConnState string

const (
	StateIdle         ConnState = "idle"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
)

var (
	// ErrNotOpen is returned by Send when the channel is not open.
	ErrNotOpen = errors.New("chatkit: channel is not open")
	// ErrClosed is returned when the connection has been explicitly closed.
	ErrClosed = errors.New("chatkit: connection closed")
)

// ============================================================================
// Configuration
// ============================================================================

// ConnConfig configures the realtime connection manager.
type ConnConfig struct {
	// BaseURL is the http(s) API base; the channel URL is derived from it.
	BaseURL string
	// Token authenticates the channel via a query parameter.
	Token string
	// HeartbeatInterval is the fixed keep-alive period (default 30s).
	HeartbeatInterval time.Duration
	// ReconnectDelay is the fixed backoff before a reconnect attempt
	// (default 3s). Reconnection retries indefinitely; callers that want
	// to surface repeated failures can watch OnReconnecting.
	ReconnectDelay time.Duration
	// HTTPClient is used for the WebSocket handshake. It must not carry
	// a Timeout; use the dial context instead.
	HTTPClient *http.Client
	Logger     *log.Logger

	// OnEvent receives each raw inbound payload, in delivery order.
	OnEvent func(raw []byte)
	// OnState is notified of state transitions.
	OnState func(ConnState)
	// OnReconnecting is notified before each scheduled reconnect attempt.
	OnReconnecting func(attempt int, delay time.Duration)
}

func (c *ConnConfig) defaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
}

// WSURL derives the channel URL from an http(s) base URL, carrying the
// token as a query parameter.
func WSURL(base, token string) string {
	u := strings.Replace(base, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.TrimRight(u, "/") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// ============================================================================
// Conn
// ============================================================================

// Conn owns the single persistent bidirectional channel to the server.
// It handles connect, keep-alive, disconnect detection, and fixed-delay
// reconnection. A channel error is treated exactly like an unexpected
// close. At most one channel and one pending reconnect timer exist at any
// time.
type Conn struct {
	cfg *ConnConfig

	// dial is the handshake function; replaced in tests.
	dial func(ctx context.Context, wsURL string) (*websocket.Conn, error)

	mu       sync.Mutex
	state    ConnState
	ws       *websocket.Conn
	cancel   context.CancelFunc
	parent   context.Context
	timer    *time.Timer
	attempts int
}

// NewConn creates a connection manager. Call Connect to open the channel.
func NewConn(cfg *ConnConfig) *Conn {
	c := *cfg
	c.defaults()
	conn := &Conn{
		cfg:   &c,
		state: StateIdle,
	}
	conn.dial = func(ctx context.Context, wsURL string) (*websocket.Conn, error) {
		ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
			HTTPClient: c.HTTPClient,
		})
		return ws, err
	}
	return conn
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnect attempts scheduled since the
// channel was last open.
func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect establishes the channel. On failure it schedules a reconnect
// and returns the dial error; the reconnect cycle continues until either
// an open succeeds or Close is called. ctx bounds the lifetime of the
// whole connection, not just the handshake.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateOpen, StateConnecting:
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.parent = ctx
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	ws, err := c.dial(ctx, WSURL(c.cfg.BaseURL, c.cfg.Token))
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == StateClosed {
			return ErrClosed
		}
		c.setStateLocked(StateReconnecting)
		c.scheduleReconnectLocked()
		return fmt.Errorf("channel dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.state == StateClosed {
		// Close raced the handshake.
		c.mu.Unlock()
		cancel()
		ws.Close(websocket.StatusNormalClosure, "client close")
		return ErrClosed
	}
	c.ws = ws
	c.cancel = cancel
	c.attempts = 0
	c.stopTimerLocked()
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	go c.readLoop(connCtx, ws)
	go c.heartbeatLoop(connCtx)

	return nil
}

// Send transmits a structured command over the channel. It returns
// ErrNotOpen when the channel is not open; callers for whom a dropped
// command is acceptable treat that as a no-op.
func (c *Conn) Send(ctx context.Context, cmd *ClientCommand) error {
	c.mu.Lock()
	ws := c.ws
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || ws == nil {
		return ErrNotOpen
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// Close tears the connection down deterministically: the channel is
// closed, any pending reconnect is cancelled, and the state becomes
// Closed. A closed Conn cannot be reused.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	ws := c.ws
	c.ws = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if ws != nil {
		return ws.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

// ============================================================================
// Internals
// ============================================================================

func (c *Conn) setStateLocked(s ConnState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.cfg.OnState != nil {
		go c.cfg.OnState(s)
	}
}

func (c *Conn) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.handleClosed(ws, err)
			return
		}
		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(data)
		}
	}
}

// handleClosed runs the shared close/error path for an unexpected
// disconnect of the given channel.
func (c *Conn) handleClosed(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.state == StateClosed || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.cfg.Logger.Printf("chatkit: channel closed: %v", err)
	c.setStateLocked(StateReconnecting)
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

func (c *Conn) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(ctx, &ClientCommand{Type: CommandHeartbeat}); err != nil {
				return
			}
		}
	}
}

// scheduleReconnectLocked arms the single reconnect timer. Scheduling
// while a timer is already pending is a no-op, so attempts never stack.
func (c *Conn) scheduleReconnectLocked() {
	if c.timer != nil {
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.cfg.ReconnectDelay
	if c.cfg.OnReconnecting != nil {
		go c.cfg.OnReconnecting(attempt, delay)
	}
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.timer = nil
		if c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		parent := c.parent
		if parent == nil || parent.Err() != nil {
			// The connection's lifetime context is gone; end the cycle
			// in a terminal state instead of hanging in reconnecting.
			c.setStateLocked(StateClosed)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.Connect(parent); err != nil && !errors.Is(err, ErrClosed) {
			c.cfg.Logger.Printf("chatkit: reconnect attempt %d failed: %v", attempt, err)
		}
	})
}
