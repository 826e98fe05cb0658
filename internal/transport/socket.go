package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// readBufferSize bounds a single inbound socket read.
const readBufferSize = 1024

// Dialer opens a stream to address.
type Dialer interface {
	DialContext(ctx context.Context, address string) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, address string) (io.ReadWriteCloser, error)

func (f DialerFunc) DialContext(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	return f(ctx, address)
}

// NetDialer dials a net.Conn. Network defaults to "tcp".
type NetDialer struct {
	Network string
	Timeout time.Duration
}

func (d NetDialer) DialContext(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	network := d.Network
	if network == "" {
		network = "tcp"
	}
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s %s: %w", network, address, err)
	}
	return conn, nil
}

// WebSocketDialer dials ws:// and wss:// endpoints. Each write is sent as one
// text frame; reads return frame payloads in order.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d WebSocketDialer) DialContext(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial websocket %s: %w", address, err)
	}
	return &wsStream{conn: conn}, nil
}

// AutoDialer picks a WebSocketDialer for ws:// and wss:// addresses and a TCP
// NetDialer for everything else.
func AutoDialer(timeout time.Duration) Dialer {
	ws := WebSocketDialer{HandshakeTimeout: timeout}
	tcp := NetDialer{Timeout: timeout}
	return DialerFunc(func(ctx context.Context, address string) (io.ReadWriteCloser, error) {
		if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
			return ws.DialContext(ctx, address)
		}
		return tcp.DialContext(ctx, address)
	})
}

// wsStream adapts a websocket.Conn to io.ReadWriteCloser.
type wsStream struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	r       io.Reader // current frame, read by a single goroutine
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if errors.Is(err, io.EOF) {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// SocketController drives a plain stream connection. There is no
// configuration phase: a dialled stream is immediately ConnectedConfigured.
// Writes go out as-is, without framing, and every read is surfaced as one
// message.
type SocketController struct {
	dialer Dialer

	listener atomic.Pointer[listenerBox]
	emitMu   sync.Mutex // serialises listener calls

	mu     sync.Mutex
	state  ConnectionState
	conn   io.ReadWriteCloser
	cancel context.CancelFunc
	gen    uint64

	writeMu sync.Mutex
}

var _ Controller = (*SocketController)(nil)

// NewSocketController creates a controller that dials through d.
func NewSocketController(d Dialer) *SocketController {
	return &SocketController{dialer: d}
}

func (c *SocketController) Kind() Kind { return KindSocket }

func (c *SocketController) Prepare(l Listener) {
	c.listener.Store(&listenerBox{l: l})
}

// Connect dials address in the background, replacing any open stream.
func (c *SocketController) Connect(address string) error {
	c.mu.Lock()
	if c.state == Connecting {
		c.mu.Unlock()
		return ErrConnectionInProgress
	}
	c.teardownLocked()
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = Connecting
	c.mu.Unlock()

	slog.Debug("[CTRL] dialling", "address", address)
	c.emitState(Connecting)
	go c.dial(ctx, gen, address)
	return nil
}

func (c *SocketController) dial(ctx context.Context, gen uint64, address string) {
	conn, err := c.dialer.DialContext(ctx, address)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.state = Disconnected
		c.cancel = nil
		c.mu.Unlock()

		slog.Error("[CTRL] connection failed", "address", address, "error", err)
		c.emit(func(l Listener) {
			l.OnError(ConnectionErrorFeedback{
				Message: "error connecting to the device",
				State:   ErrorConnecting,
				Err:     err,
			})
			l.OnConnectionStateChanged(ErrorConnecting)
			l.OnConnectionStateChanged(Disconnected)
		})
		return
	}
	c.conn = conn
	c.state = ConnectedConfigured
	c.mu.Unlock()

	slog.Info("[CTRL] connected", "address", address)
	c.emitState(ConnectedConfigured)
	c.readLoop(gen, conn)
}

func (c *SocketController) readLoop(gen uint64, conn io.Reader) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msg := string(buf[:n])
			c.emit(func(l Listener) { l.OnMessageReceived(msg) })
		}
		if err != nil {
			c.lost(gen, err)
			return
		}
	}
}

// lost handles a stream that ended without Disconnect.
func (c *SocketController) lost(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.gen++
	c.mu.Unlock()

	slog.Warn("[CTRL] connection lost", "error", err)
	c.emit(func(l Listener) {
		if !errors.Is(err, io.EOF) {
			l.OnError(ConnectionErrorFeedback{Message: "device connection was lost", State: Disconnected, Err: err})
		}
		l.OnConnectionStateChanged(Disconnected)
	})
}

// teardownLocked closes the stream and cancels a pending dial. Caller must
// hold mu.
func (c *SocketController) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			slog.Debug("[CTRL] close failed", "error", err)
		}
		c.conn = nil
	}
	c.state = Disconnected
}

func (c *SocketController) Disconnect() error {
	c.mu.Lock()
	was := c.state
	c.teardownLocked()
	c.gen++
	c.mu.Unlock()

	if was != Disconnected {
		c.emitState(Disconnected)
	}
	return nil
}

// Send writes message unless it is blank.
func (c *SocketController) Send(message string) error {
	if strings.TrimSpace(message) == "" {
		if !c.IsConnected() {
			return ErrNotConnected
		}
		return nil
	}
	return c.write([]byte(message))
}

// SendBytes writes b unless it is empty.
func (c *SocketController) SendBytes(b []byte) error {
	if len(b) == 0 {
		if !c.IsConnected() {
			return ErrNotConnected
		}
		return nil
	}
	return c.write(b)
}

func (c *SocketController) write(b []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	_, err := conn.Write(b)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	msg := string(b)
	c.emit(func(l Listener) { l.OnMessageSent(msg) })
	return nil
}

func (c *SocketController) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == ConnectedConfigured
}

func (c *SocketController) Close() error { return c.Disconnect() }

func (c *SocketController) emitState(s ConnectionState) {
	c.emit(func(l Listener) { l.OnConnectionStateChanged(s) })
}

func (c *SocketController) emit(fn func(Listener)) {
	box := c.listener.Load()
	if box == nil || box.l == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	fn(box.l)
}
