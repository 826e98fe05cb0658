package transport

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/gattlink/internal/ble"
)

// BLEController drives a ble.Session. Every Connect replaces the session,
// so events from an abandoned attempt never reach the listener.
type BLEController struct {
	platform ble.Platform
	profile  ble.Profile
	opts     ble.SessionOptions

	listener atomic.Pointer[listenerBox]

	mu      sync.Mutex
	session *ble.Session
}

var _ Controller = (*BLEController)(nil)

// NewBLEController creates a controller that opens sessions for profile on
// platform.
func NewBLEController(platform ble.Platform, profile ble.Profile, opts ble.SessionOptions) *BLEController {
	return &BLEController{platform: platform, profile: profile, opts: opts}
}

func (c *BLEController) Kind() Kind { return KindBLE }

func (c *BLEController) Prepare(l Listener) {
	c.listener.Store(&listenerBox{l: l})
}

// Connect starts a new session to address. It returns
// ErrConnectionInProgress while the current session is connecting,
// configuring or Configured; call Disconnect first. An idle previous session
// is shut down. It must not be called from a Listener method.
func (c *BLEController) Connect(address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		if st := c.session.State(); st.HoldsAttempt() {
			slog.Debug("[CTRL] skipping connection attempt, one is already in progress", "state", st)
			return ErrConnectionInProgress
		}
		c.session.Shutdown()
		c.session = nil
	}

	s := ble.NewSession(c.platform, c.profile, c.opts)
	if err := s.SetListener(&bleEvents{c: c}); err != nil {
		return fmt.Errorf("transport: install session listener: %w", err)
	}
	c.session = s
	slog.Debug("[CTRL] new connection attempt", "address", address)
	if err := s.Start(address); err != nil {
		return fmt.Errorf("transport: start session: %w", err)
	}
	return nil
}

// Disconnect closes the current session's link. The session stays around so
// IsConnected and later Connect calls keep working.
func (c *BLEController) Disconnect() error {
	s := c.current()
	if s == nil {
		return nil
	}
	return s.Close()
}

// Send hands message to the session. Blank messages are ignored.
func (c *BLEController) Send(message string) error {
	s := c.current()
	if s == nil || !s.State().IsConnected() {
		return ErrNotConnected
	}
	if strings.TrimSpace(message) == "" {
		return nil
	}
	return s.Send(message)
}

// SendBytes sends b as text. Invalid UTF-8 sequences are replaced with
// U+FFFD, so arbitrary binary does not survive the trip.
func (c *BLEController) SendBytes(b []byte) error {
	return c.Send(strings.ToValidUTF8(string(b), "\uFFFD"))
}

// RequestLastMessage reads the device's read characteristic on demand.
func (c *BLEController) RequestLastMessage() error {
	s := c.current()
	if s == nil || s.State() != ble.StateConfigured {
		return ErrNotConnected
	}
	return s.RequestLastMessage()
}

func (c *BLEController) IsConnected() bool {
	s := c.current()
	return s != nil && s.State().IsConnected()
}

// State returns the current session state.
func (c *BLEController) State() ble.State {
	s := c.current()
	if s == nil {
		return ble.StateDisconnected
	}
	return s.State()
}

// Close shuts the session down. It must not be called from a Listener
// method.
func (c *BLEController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Shutdown()
		c.session = nil
	}
	return nil
}

func (c *BLEController) current() *ble.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *BLEController) emit(fn func(Listener)) {
	if box := c.listener.Load(); box != nil && box.l != nil {
		fn(box.l)
	}
}

// bleEvents translates session events into controller events.
type bleEvents struct {
	c *BLEController
}

var _ ble.Listener = (*bleEvents)(nil)

func (e *bleEvents) OnStateChanged(st ble.State) {
	e.c.emit(func(l Listener) {
		if st == ble.StateErrorConnecting {
			l.OnError(ConnectionErrorFeedback{
				Message: "error connecting to the device",
				State:   ErrorConnecting,
			})
		}
		l.OnConnectionStateChanged(FromSessionState(st))
	})
}

func (e *bleEvents) OnRequestStatusChanged(r ble.RequestStatus) {
	if !r.IsError() {
		return
	}
	slog.Error("[CTRL] error in the last request", "status", r)
	e.c.emit(func(l Listener) {
		l.OnError(ConnectionErrorFeedback{
			State: ErrorConfiguring,
			Err:   fmt.Errorf("transport: BLE request failed: %s", r),
		})
	})
}

func (e *bleEvents) OnMessageReceived(m string) {
	e.c.emit(func(l Listener) { l.OnMessageReceived(m) })
}

func (e *bleEvents) OnValueReceived([]byte) {}

func (e *bleEvents) OnMessageSent(m string) {
	e.c.emit(func(l Listener) { l.OnMessageSent(m) })
}

func (e *bleEvents) OnDeviceNameObtained(n string) {
	e.c.emit(func(l Listener) { l.OnDeviceNameObtained(n) })
}
