package ble

import (
	"bytes"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chaz8081/gattlink/internal/ble/protocol"
)

var (
	// ErrClosed is returned by Session methods after Shutdown.
	ErrClosed = errors.New("ble: session is shut down")
	// ErrConnectionInProgress is returned by Start while a previous attempt
	// is connecting, being configured or Configured.
	ErrConnectionInProgress = errors.New("ble: connection attempt in progress")
	// ErrNotConfigured is returned by Send before the session is Configured.
	ErrNotConfigured = errors.New("ble: session not configured")
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// RequestMTU asks the peer for Profile.PreferredMTU before discovering
	// services. Off by default: many stacks drop requests issued this early.
	RequestMTU bool

	// DeviceNameComplete decides when the device-name buffer holds a whole
	// name. Nil means protocol.IsLenientJSON.
	DeviceNameComplete func([]byte) bool
}

// DefaultSessionOptions returns the options used when none are given.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{}
}

// Session is the GATT client for one connection attempt. It connects,
// optionally negotiates the MTU, discovers the profile's service, enables
// notifications on the read characteristic and then exchanges messages.
//
// All public methods are safe for concurrent use and return without waiting
// for the radio. Their effects, and every platform callback, are applied in
// order on the session's event loop; the fields below the marker are only
// touched from there.
type Session struct {
	platform Platform
	profile  Profile
	opts     SessionOptions
	loop     *loop

	snapshot atomic.Int32 // mirrors state for lock-free reads

	// Owned by the event loop.
	listener  Listener
	state     tracker[State]
	status    tracker[RequestStatus]
	conn      Conn
	gen       uint64 // bumped on every open/close; stale callbacks are dropped
	chunkSize int
	outbox    []string // chunks of the message being written
	sending   string   // message being written, "" when idle
	pending   []string // whole messages waiting for the current one
	inbound   protocol.Reassembler
	name      protocol.Reassembler
}

// NewSession creates a disconnected session for profile. Call Shutdown when
// done with it.
func NewSession(platform Platform, profile Profile, opts SessionOptions) *Session {
	s := &Session{
		platform:  platform,
		profile:   profile,
		opts:      opts,
		loop:      newLoop(),
		chunkSize: protocol.DefaultChunkSize,
	}
	s.name.Complete = opts.DeviceNameComplete
	if s.name.Complete == nil {
		s.name.Complete = protocol.IsLenientJSON
	}
	s.state.onChange = func(st State) {
		s.snapshot.Store(int32(st))
		slog.Debug("[BLE] state changed", "state", st)
		if s.listener != nil {
			s.listener.OnStateChanged(st)
		}
	}
	s.status.onChange = func(r RequestStatus) {
		if r.IsError() {
			slog.Warn("[BLE] request failed", "status", r)
		}
		if s.listener != nil {
			s.listener.OnRequestStatusChanged(r)
		}
	}
	return s
}

// Profile returns the profile the session was created with.
func (s *Session) Profile() Profile { return s.profile }

// State returns the most recently applied state.
func (s *Session) State() State { return State(s.snapshot.Load()) }

// SetListener installs the event listener, replacing any previous one.
func (s *Session) SetListener(l Listener) error {
	return s.post(func() { s.listener = l })
}

// Start opens a connection to address. It returns ErrConnectionInProgress
// while a previous attempt is connecting, being configured or Configured;
// Close first to reconnect. The check is repeated on the event loop, so a
// racing Start is dropped there.
func (s *Session) Start(address string) error {
	if st := s.State(); st.HoldsAttempt() {
		return ErrConnectionInProgress
	}
	return s.post(func() { s.start(address) })
}

// Close tears the connection down from any state. The outbound queue and
// reassembly buffers are discarded. Calling it again has no effect.
func (s *Session) Close() error {
	return s.post(s.closeClient)
}

// Shutdown closes the connection and stops the event loop. The session is
// unusable afterwards. It must not be called from a Listener method.
func (s *Session) Shutdown() {
	s.post(s.closeClient)
	s.loop.stop()
}

// Send splits message into MTU-sized chunks and writes them one after
// another, each after the previous write is confirmed. Unless the session is
// Configured the message is dropped and ErrNotConfigured returned.
// Messages sent while another is in flight are queued behind it.
func (s *Session) Send(message string) error {
	if st := s.State(); st != StateConfigured && !s.loop.isStopped() {
		slog.Warn("[BLE] not configured, message dropped", "state", st)
		return ErrNotConfigured
	}
	return s.post(func() { s.send(message) })
}

// RequestLastMessage reads the read characteristic. The value goes through
// the same reassembly as notifications.
func (s *Session) RequestLastMessage() error {
	return s.post(s.requestLastMessage)
}

func (s *Session) post(fn func()) error {
	if !s.loop.post(fn) {
		return ErrClosed
	}
	return nil
}

// flush waits until everything posted so far has run.
func (s *Session) flush() {
	s.loop.call(func() {})
}

func (s *Session) start(address string) {
	st := s.state.get()
	if st.HoldsAttempt() {
		slog.Debug("[BLE] skipping connection attempt, one is already in progress", "state", st)
		return
	}
	// A previous attempt may have ended in an error state with the
	// handle still open.
	s.closeClient()

	s.gen++
	s.chunkSize = protocol.DefaultChunkSize
	s.state.transition(StateConnecting)

	conn, err := s.platform.Open(address, &sessionCallbacks{s: s, gen: s.gen})
	if err != nil {
		slog.Error("[BLE] unable to create the GATT client", "address", address, "error", err)
		s.state.transition(StateErrorConnecting)
		s.state.transition(StateDisconnected)
		return
	}
	s.conn = conn
	slog.Info("[BLE] connecting", "address", address)
}

func (s *Session) closeClient() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			slog.Warn("[BLE] failed to close GATT client", "error", err)
		} else {
			slog.Debug("[BLE] GATT client closed")
		}
		s.conn = nil
		s.gen++
	}
	if s.sending != "" || len(s.pending) > 0 {
		slog.Warn("[BLE] closing with unsent messages", "count", len(s.pending)+1)
	}
	s.outbox = nil
	s.sending = ""
	s.pending = nil
	s.inbound.Reset()
	s.name.Reset()
	s.state.transition(StateDisconnected)
}

func (s *Session) onConnectionStateChange(connected bool, status GattStatus) {
	if !connected {
		slog.Info("[BLE] disconnected from GATT server", "status", status)
		if s.state.get() == StateConnecting {
			s.state.transition(StateErrorConnecting)
		}
		s.closeClient()
		return
	}

	if s.state.get() != StateConnecting {
		slog.Debug("[BLE] ignoring connected event", "state", s.state.get())
		return
	}
	slog.Info("[BLE] connected to GATT server")
	s.state.transition(StateConnectedNotConfigured)

	if s.opts.RequestMTU {
		err := s.conn.RequestMTU(s.profile.PreferredMTU)
		if err == nil {
			s.state.transition(StateRequestingMTU)
			return
		}
		slog.Debug("[BLE] MTU request not submitted, discovering services directly", "error", err)
	}
	s.startServicesDiscovery()
}

func (s *Session) onMTUChanged(mtu int, status GattStatus) {
	if s.state.get() != StateRequestingMTU {
		return
	}
	if status.OK() {
		s.chunkSize = protocol.ChunkSize(mtu)
		slog.Debug("[BLE] MTU changed", "mtu", mtu, "chunk_size", s.chunkSize)
	} else {
		slog.Warn("[BLE] MTU request failed, keeping default chunk size", "status", status)
	}
	s.startServicesDiscovery()
}

func (s *Session) startServicesDiscovery() {
	if s.state.get() == StateDiscoveringServices {
		slog.Debug("[BLE] service discovery already in progress")
		return
	}
	if err := s.conn.DiscoverServices(); err != nil {
		slog.Error("[BLE] failed to start service discovery", "error", err)
		s.state.transition(StateErrorDiscoveringServices)
		return
	}
	s.state.transition(StateDiscoveringServices)
}

func (s *Session) onServicesDiscovered(status GattStatus) {
	if s.state.get() != StateDiscoveringServices {
		return
	}
	if !status.OK() {
		slog.Error("[BLE] service discovery failed", "status", status)
		s.state.transition(StateErrorDiscoveringServices)
		return
	}

	svc, ok := s.conn.Service(s.profile.Service)
	if !ok {
		slog.Error("[BLE] custom service not found", "service", s.profile.Service)
		s.state.transition(StateErrorDiscoveringServices)
		return
	}
	char, ok := svc.Characteristic(s.profile.ReadCharacteristic)
	if !ok {
		slog.Error("[BLE] read characteristic not found", "characteristic", s.profile.ReadCharacteristic)
		s.state.transition(StateErrorDiscoveringServices)
		return
	}
	cccd, ok := char.Descriptor(ClientConfigDescriptorUUID)
	if !ok {
		slog.Error("[BLE] read characteristic has no configuration descriptor")
		s.state.transition(StateErrorDiscoveringServices)
		return
	}
	slog.Debug("[BLE] custom service discovered")

	s.state.transition(StateEnablingNotifications)
	if err := s.conn.SetNotification(char, true); err != nil {
		// Some stacks report failure here and still deliver
		// notifications once the descriptor is written.
		slog.Warn("[BLE] local notification setup failed", "error", err)
	}
	if err := s.conn.WriteDescriptor(cccd, EnableNotificationValue); err != nil {
		slog.Error("[BLE] failed to write notification descriptor", "error", err)
		s.status.transition(ErrorEnablingNotifications)
	}
}

func (s *Session) onDescriptorWrite(id uuid.UUID, status GattStatus) {
	if !status.OK() {
		slog.Error("[BLE] descriptor write failed",
			"descriptor", s.profile.DescriptorName(id), "status", status)
		s.status.transition(ErrorEnablingNotifications)
		return
	}
	if id != ClientConfigDescriptorUUID || s.state.get() != StateEnablingNotifications {
		return
	}
	slog.Info("[BLE] notifications enabled, session configured")
	s.state.transition(StateConfigured)
	s.requestDeviceName()
}

func (s *Session) requestDeviceName() {
	char, ok := s.characteristic(GenericAccessServiceUUID, DeviceNameCharacteristicUUID)
	if !ok {
		s.status.transition(ErrorRequestingDeviceName)
		return
	}
	s.status.transition(RequestingDeviceName)
	if err := s.conn.ReadCharacteristic(char); err != nil {
		slog.Error("[BLE] failed to request device name", "error", err)
		s.status.transition(ErrorRequestingDeviceName)
	}
}

func (s *Session) requestLastMessage() {
	char, ok := s.characteristic(s.profile.Service, s.profile.ReadCharacteristic)
	if !ok {
		s.status.transition(ErrorRequestingReadCharacteristic)
		return
	}
	s.status.transition(RequestingReadCharacteristic)
	if err := s.conn.ReadCharacteristic(char); err != nil {
		slog.Error("[BLE] failed to request last message", "error", err)
		s.status.transition(ErrorRequestingReadCharacteristic)
	}
}

// characteristic looks up a discovered characteristic on the live handle.
func (s *Session) characteristic(service, id uuid.UUID) (Characteristic, bool) {
	if s.conn == nil {
		return nil, false
	}
	svc, ok := s.conn.Service(service)
	if !ok {
		return nil, false
	}
	return svc.Characteristic(id)
}

func (s *Session) onCharacteristicRead(id uuid.UUID, value []byte, status GattStatus) {
	if !status.OK() {
		slog.Error("[BLE] characteristic read failed",
			"characteristic", s.profile.CharacteristicName(id), "status", status)
		switch id {
		case s.profile.ReadCharacteristic:
			s.status.transition(ErrorReadingReadCharacteristic)
		case DeviceNameCharacteristicUUID:
			s.status.transition(ErrorReadingDeviceName)
		}
		return
	}

	// A read returns the whole attribute, so it starts a fresh message.
	switch id {
	case s.profile.ReadCharacteristic:
		s.inbound.Reset()
		s.onData(value)
	case DeviceNameCharacteristicUUID:
		s.name.Reset()
		s.onDeviceName(value)
	}
}

func (s *Session) onCharacteristicChanged(id uuid.UUID, value []byte) {
	switch id {
	case s.profile.ReadCharacteristic:
		s.onData(value)
	case DeviceNameCharacteristicUUID:
		s.onDeviceName(value)
	default:
		slog.Debug("[BLE] ignoring notification", "characteristic", s.profile.CharacteristicName(id))
	}
}

func (s *Session) onData(value []byte) {
	if len(value) == 0 {
		return
	}
	if s.listener != nil {
		s.listener.OnValueReceived(bytes.Clone(value))
	}
	if !s.inbound.Append(value) {
		return
	}
	msg := s.inbound.String()
	s.inbound.Reset()
	slog.Debug("[BLE] message received", "bytes", len(msg))
	s.status.transition(MessageReceived)
	if s.listener != nil {
		s.listener.OnMessageReceived(msg)
	}
}

func (s *Session) onDeviceName(value []byte) {
	if len(bytes.TrimSpace(value)) == 0 {
		slog.Warn("[BLE] device name chunk is empty")
		return
	}
	if !s.name.Append(value) {
		return
	}
	name := s.name.String()
	s.name.Reset()
	slog.Info("[BLE] device name received", "name", name)
	s.status.transition(MessageReceived)
	if s.listener != nil {
		s.listener.OnDeviceNameObtained(name)
	}
	s.status.transition(DeviceNameReceived)
}

func (s *Session) send(message string) {
	switch st := s.state.get(); {
	case st.IsConfiguring():
		slog.Debug("[BLE] still configuring, message dropped", "state", st)
		return
	case st != StateConfigured:
		slog.Warn("[BLE] not configured, message dropped", "state", st)
		return
	}
	if message == "" {
		return
	}
	if s.sending != "" {
		s.pending = append(s.pending, message)
		return
	}
	s.beginMessage(message)
}

func (s *Session) beginMessage(message string) {
	s.sending = message
	s.outbox = protocol.Split(message, s.chunkSize)
	s.status.transition(SendingMessage)
	s.writeNext()
}

// writeNext writes the head of the outbox, or completes the message when
// the outbox is empty.
func (s *Session) writeNext() {
	if len(s.outbox) == 0 {
		sent := s.sending
		s.sending = ""
		slog.Debug("[BLE] message sent", "bytes", len(sent))
		s.status.transition(MessageSent)
		if s.listener != nil {
			s.listener.OnMessageSent(sent)
		}
		s.nextMessage()
		return
	}

	char, ok := s.characteristic(s.profile.Service, s.profile.WriteCharacteristic)
	if !ok {
		slog.Error("[BLE] write characteristic not available")
		s.status.transition(ErrorRequestingWriteCharacteristic)
		s.abandonMessage()
		return
	}
	chunk := s.outbox[0]
	s.outbox[0] = ""
	s.outbox = s.outbox[1:]
	if err := s.conn.WriteCharacteristic(char, []byte(chunk)); err != nil {
		slog.Error("[BLE] failed to request characteristic write", "error", err)
		s.status.transition(ErrorRequestingWriteCharacteristic)
		s.abandonMessage()
	}
}

func (s *Session) onCharacteristicWrite(id uuid.UUID, status GattStatus) {
	if id != s.profile.WriteCharacteristic || s.sending == "" {
		return
	}
	if !status.OK() {
		slog.Error("[BLE] characteristic write failed",
			"characteristic", s.profile.CharacteristicName(id), "status", status)
		s.status.transition(ErrorWritingCharacteristic)
		s.abandonMessage()
		return
	}
	s.writeNext()
}

// abandonMessage drops the rest of the current message and moves on.
func (s *Session) abandonMessage() {
	s.outbox = nil
	s.sending = ""
	s.nextMessage()
}

func (s *Session) nextMessage() {
	if len(s.pending) == 0 || s.state.get() != StateConfigured {
		return
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.beginMessage(next)
}

// sessionCallbacks forwards platform callbacks onto the event loop, tagged
// with the connection generation they belong to.
type sessionCallbacks struct {
	s   *Session
	gen uint64
}

var _ Callbacks = (*sessionCallbacks)(nil)

func (c *sessionCallbacks) deliver(fn func()) {
	c.s.loop.post(func() {
		if c.gen != c.s.gen {
			return
		}
		fn()
	})
}

func (c *sessionCallbacks) OnConnectionStateChange(connected bool, status GattStatus) {
	c.deliver(func() { c.s.onConnectionStateChange(connected, status) })
}

func (c *sessionCallbacks) OnMTUChanged(mtu int, status GattStatus) {
	c.deliver(func() { c.s.onMTUChanged(mtu, status) })
}

func (c *sessionCallbacks) OnServicesDiscovered(status GattStatus) {
	c.deliver(func() { c.s.onServicesDiscovered(status) })
}

func (c *sessionCallbacks) OnCharacteristicRead(id uuid.UUID, value []byte, status GattStatus) {
	value = bytes.Clone(value)
	c.deliver(func() { c.s.onCharacteristicRead(id, value, status) })
}

func (c *sessionCallbacks) OnCharacteristicChanged(id uuid.UUID, value []byte) {
	value = bytes.Clone(value)
	c.deliver(func() { c.s.onCharacteristicChanged(id, value) })
}

func (c *sessionCallbacks) OnCharacteristicWrite(id uuid.UUID, status GattStatus) {
	c.deliver(func() { c.s.onCharacteristicWrite(id, status) })
}

func (c *sessionCallbacks) OnDescriptorWrite(id uuid.UUID, status GattStatus) {
	c.deliver(func() { c.s.onDescriptorWrite(id, status) })
}
