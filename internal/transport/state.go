// Package transport exposes a uniform controller over the BLE session and a
// plain stream socket, so callers can switch links without changing how they
// send, receive and track the connection.
package transport

import "github.com/chaz8081/gattlink/internal/ble"

// ConnectionState is the link state reported to controller listeners.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Listening
	Connecting
	ConnectedNotConfigured
	ConnectedConfigured
	ErrorConnecting
	ErrorConfiguring
)

var connectionStateNames = map[ConnectionState]string{
	Disconnected:           "DISCONNECTED",
	Listening:              "LISTENING",
	Connecting:             "CONNECTING",
	ConnectedNotConfigured: "CONNECTED_NOT_CONFIGURED",
	ConnectedConfigured:    "CONNECTED_CONFIGURED",
	ErrorConnecting:        "ERROR_CONNECTING",
	ErrorConfiguring:       "ERROR_CONFIGURING",
}

func (s ConnectionState) String() string {
	if name, ok := connectionStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsError reports whether s is one of the error states.
func (s ConnectionState) IsError() bool {
	return s == ErrorConnecting || s == ErrorConfiguring
}

// FromSessionState maps a BLE session state onto the controller vocabulary.
// Every intermediate configuration step collapses to ConnectedNotConfigured.
func FromSessionState(s ble.State) ConnectionState {
	switch s {
	case ble.StateConnecting:
		return Connecting
	case ble.StateConnectedNotConfigured, ble.StateRequestingMTU,
		ble.StateDiscoveringServices, ble.StateEnablingNotifications:
		return ConnectedNotConfigured
	case ble.StateConfigured:
		return ConnectedConfigured
	case ble.StateErrorConnecting:
		return ErrorConnecting
	case ble.StateErrorDiscoveringServices:
		return ErrorConfiguring
	default:
		return Disconnected
	}
}
