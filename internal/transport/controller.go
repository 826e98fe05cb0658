package transport

import (
	"errors"
	"fmt"

	"github.com/chaz8081/gattlink/internal/ble"
)

var (
	// ErrNotConnected is returned by sends while no link is up.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrConnectionInProgress is returned by Connect while an attempt is
	// still running or its link is up.
	ErrConnectionInProgress = ble.ErrConnectionInProgress
)

// Kind tags the link a Controller drives.
type Kind int

const (
	KindBLE Kind = iota
	KindSocket
)

func (k Kind) String() string {
	switch k {
	case KindBLE:
		return "ble"
	case KindSocket:
		return "socket"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses a configured transport name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "ble":
		return KindBLE, nil
	case "socket":
		return KindSocket, nil
	default:
		return 0, fmt.Errorf("transport: unknown kind %q (must be ble or socket)", s)
	}
}

// Controller drives one link to one device.
type Controller interface {
	Kind() Kind
	// Prepare installs the listener. Call it before Connect.
	Prepare(l Listener)
	Connect(address string) error
	Disconnect() error
	Send(message string) error
	SendBytes(b []byte) error
	IsConnected() bool
	// Close disconnects and releases the controller.
	Close() error
}

// ConnectionErrorFeedback describes a failure reported through
// Listener.OnError. Any field may be zero.
type ConnectionErrorFeedback struct {
	Message string
	State   ConnectionState
	Err     error
}

func (f ConnectionErrorFeedback) Error() string {
	switch {
	case f.Message != "" && f.Err != nil:
		return fmt.Sprintf("%s (%s): %v", f.Message, f.State, f.Err)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.State, f.Err)
	case f.Message != "":
		return fmt.Sprintf("%s (%s)", f.Message, f.State)
	default:
		return f.State.String()
	}
}

func (f ConnectionErrorFeedback) Unwrap() error { return f.Err }

// Listener receives controller events. Methods may be called from any
// goroutine but never concurrently for one controller.
type Listener interface {
	OnConnectionStateChanged(state ConnectionState)
	OnMessageSent(message string)
	OnMessageReceived(message string)
	OnDeviceNameObtained(name string)
	OnError(feedback ConnectionErrorFeedback)
}

// ListenerFuncs adapts optional functions to a Listener.
type ListenerFuncs struct {
	ConnectionStateChanged func(ConnectionState)
	MessageSent            func(string)
	MessageReceived        func(string)
	DeviceNameObtained     func(string)
	Error                  func(ConnectionErrorFeedback)
}

var _ Listener = ListenerFuncs{}

func (f ListenerFuncs) OnConnectionStateChanged(s ConnectionState) {
	if f.ConnectionStateChanged != nil {
		f.ConnectionStateChanged(s)
	}
}

func (f ListenerFuncs) OnMessageSent(m string) {
	if f.MessageSent != nil {
		f.MessageSent(m)
	}
}

func (f ListenerFuncs) OnMessageReceived(m string) {
	if f.MessageReceived != nil {
		f.MessageReceived(m)
	}
}

func (f ListenerFuncs) OnDeviceNameObtained(n string) {
	if f.DeviceNameObtained != nil {
		f.DeviceNameObtained(n)
	}
}

func (f ListenerFuncs) OnError(e ConnectionErrorFeedback) {
	if f.Error != nil {
		f.Error(e)
	}
}

// listenerBox lets a Listener live in an atomic.Pointer.
type listenerBox struct{ l Listener }
