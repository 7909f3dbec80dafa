// Package stream keeps Bybit WebSocket connections alive: it subscribes,
// sends heartbeats, forwards every frame to a handler and reconnects with a
// fixed minimum interval between attempts.
package stream

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MtkN1/pybybit/auth"
	"github.com/MtkN1/pybybit/internal/metrics"
	"github.com/MtkN1/pybybit/logger"
)

const (
	defaultHeartbeat        = 60 * time.Second
	defaultMinReconnect     = 60 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

var pingFrame = []byte(`{"op":"ping"}`)

// State is the lifecycle position of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateSubscribed
	StateStreaming
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Handler receives every inbound frame, in order, on the read loop.
type Handler func(raw []byte)

// Transition is reported to an Observer on every state change.
type Transition struct {
	Connection string
	State      State
	At         time.Time
	Err        error
}

// Options tunes a Connection. Zero durations select the defaults.
type Options struct {
	Heartbeat        time.Duration
	MinReconnect     time.Duration
	HandshakeTimeout time.Duration
	// Observer, when set, is called synchronously on every transition.
	Observer func(Transition)
}

func (o Options) withDefaults() Options {
	if o.Heartbeat <= 0 {
		o.Heartbeat = defaultHeartbeat
	}
	if o.MinReconnect <= 0 {
		o.MinReconnect = defaultMinReconnect
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	return o
}

// Connection is one logical socket carrying a fixed topic group.
type Connection struct {
	name    string
	url     string
	topics  []string
	signer  *auth.Signer
	handler Handler
	opts    Options
	log     *logger.Entry
	netDial func(ctx context.Context, network, addr string) (net.Conn, error)

	state    atomic.Int32
	attempts atomic.Int64

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewConnection prepares a connection to url for topics. signer may be nil
// when every topic is public.
func NewConnection(name, url string, topics []string, signer *auth.Signer, handler Handler, opts Options) *Connection {
	c := &Connection{
		name:    name,
		url:     url,
		topics:  append([]string(nil), topics...),
		signer:  signer,
		handler: handler,
		opts:    opts.withDefaults(),
		log:     logger.GetLogger().WithComponent("stream").WithFields(logger.Fields{"connection": name}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Connection) Name() string { return c.name }
func (c *Connection) URL() string { return c.url }
func (c *Connection) Topics() []string { return append([]string(nil), c.topics...) }
func (c *Connection) State() State { return State(c.state.Load()) }
func (c *Connection) Attempts() int64 { return c.attempts.Load() }

// Run connects and streams until ctx is done, reconnecting after any
// failure. Consecutive attempts start at least MinReconnect apart. Run
// returns only when ctx is done.
func (c *Connection) Run(ctx context.Context) {
	for ctx.Err() == nil {
		started := time.Now()
		if c.attempts.Add(1) > 1 {
			metrics.Reconnects.WithLabelValues(c.name).Inc()
			logger.RecordReconnect()
		}
		c.transition(StateConnecting, started, nil)

		err := c.session(ctx)
		if ctx.Err() != nil {
			break
		}
		c.setState(StateFailed, err)

		if waitForReconnect(ctx, c.opts.MinReconnect-time.Since(started)) {
			break
		}
	}
	c.setState(StateClosing, nil)
}

func (c *Connection) session(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: c.opts.HandshakeTimeout,
		NetDialContext:   c.netDial,
	}
	conn, _, err := dialer.DialContext(ctx, c.dialURL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.trackConn(conn)
	defer c.closeConn()

	stop := context.AfterFunc(ctx, c.closeConn)
	defer stop()

	if err := c.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.setState(StateSubscribed, nil)

	heartbeatCancel := c.startHeartbeat(ctx, conn)
	defer heartbeatCancel()

	c.setState(StateStreaming, nil)
	return c.readMessages(conn)
}

// dialURL signs private connections afresh on every attempt.
func (c *Connection) dialURL() string {
	if !HasPrivate(c.topics) {
		return c.url
	}
	if !c.signer.Enabled() {
		c.log.Warn("private topics requested without api credentials; connecting unauthenticated")
		return c.url
	}
	sep := "?"
	if strings.Contains(c.url, "?") {
		sep = "&"
	}
	return c.url + sep + c.signer.WebSocketQuery()
}

func (c *Connection) subscribe(conn *websocket.Conn) error {
	req := struct {
		Op    string   `json:"op"`
		Args  []string `json:"args"`
		ReqID string   `json:"req_id"`
	}{
		Op:    "subscribe",
		Args:  c.topics,
		ReqID: uuid.NewString(),
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(req)
}

func (c *Connection) readMessages(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		logger.RecordFrame(c.name, len(msg))
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// startHeartbeat writes a ping frame every Heartbeat. A failed write ends
// the heartbeat only; the read loop notices the broken socket itself.
func (c *Connection) startHeartbeat(ctx context.Context, conn *websocket.Conn) context.CancelFunc {
	hbCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(c.opts.Heartbeat)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
					c.log.WithError(err).Warn("failed to send heartbeat")
					return
				}
			}
		}
	}()
	return cancel
}

func (c *Connection) trackConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Connection) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Connection) setState(s State, err error) {
	c.transition(s, time.Now(), err)
}

func (c *Connection) transition(s State, at time.Time, err error) {
	c.state.Store(int32(s))
	metrics.ConnectionState.WithLabelValues(c.name).Set(float64(s))

	entry := c.log.WithFields(logger.Fields{"state": s.String(), "attempt": c.attempts.Load()})
	switch {
	case err != nil:
		entry.WithError(err).Warn("websocket connection failed")
	case s == StateStreaming || s == StateClosing:
		entry.Info("websocket connection state changed")
	default:
		entry.Debug("websocket connection state changed")
	}

	if c.opts.Observer != nil {
		c.opts.Observer(Transition{Connection: c.name, State: s, At: at, Err: err})
	}
}

// waitForReconnect sleeps for delay and reports whether ctx ended first.
func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() != nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
