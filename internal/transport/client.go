// Package transport owns the single websocket connection to the remote
// transcription service. It sends one JSON frame per chunk and hands each
// inbound result to a registered callback without buffering or reordering.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/gostt-stream/internal/chunk"
	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPongWait         = 60 * time.Second
	maxMessageSize          = 1 << 20
)

var (
	// ErrNotConnected is returned by SendChunk when the connection is not
	// established. Nothing is queued.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrTransport wraps connection-level failures.
	ErrTransport = errors.New("transport: connection error")
	// ErrConnecting is returned by Connect while another Connect is dialing.
	ErrConnecting = errors.New("transport: connect already in progress")
)

// Config holds connection settings.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PongWait bounds how long the connection may stay silent. Pings are
	// sent at 9/10 of this interval.
	PongWait time.Duration
	Header   http.Header
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	return c
}

// Client is a duplex connection to the transcription service.
// Reconnection is never automatic; call Connect again after a disconnect.
type Client struct {
	cfg    Config
	log    *slog.Logger
	status atomic.Int32

	mu          sync.Mutex
	conn        *websocket.Conn
	dialing     bool
	done        chan struct{}
	onResult    func(Result)
	onStatus    func(Status, error)
	onMalformed func(error)

	writeMu sync.Mutex
}

// New creates a client in the connecting state. No network I/O happens
// until Connect.
func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		cfg: cfg.withDefaults(),
		log: log.With("component", "transport"),
	}
	c.status.Store(int32(StatusConnecting))
	return c
}

// OnResult registers the handler called once per valid inbound result.
// It runs on the read goroutine and must not block for long.
func (c *Client) OnResult(fn func(Result)) {
	c.mu.Lock()
	c.onResult = fn
	c.mu.Unlock()
}

// OnStatus registers the handler called on every status change. err is the
// cause of a disconnect, or nil for a requested close.
func (c *Client) OnStatus(fn func(Status, error)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// OnMalformed registers the handler called for every dropped inbound frame.
func (c *Client) OnMalformed(fn func(error)) {
	c.mu.Lock()
	c.onMalformed = fn
	c.mu.Unlock()
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	return Status(c.status.Load())
}

// URL returns the configured endpoint.
func (c *Client) URL() string {
	return c.cfg.URL
}

// Connect dials the service. On failure the status becomes disconnected and
// the error is returned; there is no retry. Only one dial runs at a time.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.dialing {
		c.mu.Unlock()
		return ErrConnecting
	}
	c.dialing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
	}()

	c.setStatus(StatusConnecting, nil)

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (http %d)", err, resp.StatusCode)
		}
		err = fmt.Errorf("transport: dial %s: %w: %w", c.cfg.URL, ErrTransport, err)
		c.setStatus(StatusDisconnected, err)
		return err
	}
	conn.SetReadLimit(maxMessageSize)

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.mu.Unlock()

	c.log.Info("connected", "url", c.cfg.URL)
	c.setStatus(StatusConnected, nil)

	go c.readLoop(conn)
	go c.pingLoop(conn, done)
	return nil
}

// SendChunk writes one chunk frame. It fails fast with ErrNotConnected when
// there is no live connection. A write failure tears the connection down
// and is returned wrapped in ErrTransport.
func (c *Client) SendChunk(ctx context.Context, ch chunk.Chunk) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || c.Status() != StatusConnected {
		return fmt.Errorf("transport: send chunk %d: %w", ch.Index, ErrNotConnected)
	}

	data, err := EncodeRequest(ch)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transport: send chunk %d: %w", ch.Index, err)
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(deadline)
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		err = fmt.Errorf("transport: send chunk %d: %w: %w", ch.Index, ErrTransport, err)
		c.teardown(conn, err)
		return err
	}
	c.log.Debug("chunk sent", "chunk", ch.Index, "bytes", len(data))
	return nil
}

// Close sends a normal close frame and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.setStatus(StatusDisconnected, nil)
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	c.teardown(conn, nil)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.teardown(conn, nil)
			} else {
				c.teardown(conn, fmt.Errorf("transport: read: %w: %w", ErrTransport, err))
			}
			return
		}
		// Any traffic proves the peer is alive.
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		res, err := DecodeResult(data)
		if err != nil {
			c.log.Warn("dropping inbound message", "error", err)
			c.mu.Lock()
			fn := c.onMalformed
			c.mu.Unlock()
			if fn != nil {
				fn(err)
			}
			continue
		}

		c.mu.Lock()
		fn := c.onResult
		c.mu.Unlock()
		if fn != nil {
			fn(res)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			if err != nil {
				c.teardown(conn, fmt.Errorf("transport: ping: %w: %w", ErrTransport, err))
				return
			}
		}
	}
}

// teardown closes conn if it is still the live connection. Later calls for
// the same connection are no-ops, so only the first cause is reported.
func (c *Client) teardown(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	close(c.done)
	c.done = nil
	c.mu.Unlock()

	_ = conn.Close()
	if cause != nil {
		c.log.Warn("disconnected", "error", cause)
	} else {
		c.log.Info("disconnected")
	}
	c.setStatus(StatusDisconnected, cause)
}

func (c *Client) setStatus(s Status, cause error) {
	if Status(c.status.Swap(int32(s))) == s {
		return
	}
	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	if fn != nil {
		fn(s, cause)
	}
}
