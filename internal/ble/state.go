package ble

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnectedNotConfigured
	StateRequestingMTU
	StateDiscoveringServices
	StateEnablingNotifications
	StateConfigured
	StateErrorConnecting
	StateErrorDiscoveringServices
)

var stateNames = map[State]string{
	StateDisconnected:             "DISCONNECTED",
	StateConnecting:               "CONNECTING",
	StateConnectedNotConfigured:   "CONNECTED_NOT_CONFIGURED",
	StateRequestingMTU:            "REQUESTING_MTU",
	StateDiscoveringServices:      "DISCOVERING_SERVICES",
	StateEnablingNotifications:    "ENABLING_NOTIFICATIONS",
	StateConfigured:               "CONFIGURED",
	StateErrorConnecting:          "ERROR_CONNECTING",
	StateErrorDiscoveringServices: "ERROR_DISCOVERING_SERVICES",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN_STATE"
}

// IsConnecting reports whether a connect request is outstanding.
func (s State) IsConnecting() bool { return s == StateConnecting }

// IsConfiguring reports whether the link is up but not yet usable.
func (s State) IsConfiguring() bool {
	switch s {
	case StateConnectedNotConfigured, StateRequestingMTU, StateDiscoveringServices, StateEnablingNotifications:
		return true
	}
	return false
}

// IsConnected reports whether the link is up, configured or not.
func (s State) IsConnected() bool { return s.IsConfiguring() || s == StateConfigured }

// HoldsAttempt reports whether an attempt is still running or its link is
// up. A new connect is refused in these states.
func (s State) HoldsAttempt() bool { return s.IsConnecting() || s.IsConnected() }

// IsError reports whether the state is a terminal error for the attempt.
func (s State) IsError() bool {
	return s == StateErrorConnecting || s == StateErrorDiscoveringServices
}

// RequestStatus tracks the outcome of the most recent read, write or
// notification request. It is diagnostic only.
type RequestStatus int

const (
	RequestIdle RequestStatus = iota
	RequestingReadCharacteristic
	RequestingDeviceName
	DeviceNameReceived
	ErrorRequestingReadCharacteristic
	ErrorReadingReadCharacteristic
	ErrorRequestingDeviceName
	ErrorReadingDeviceName
	SendingMessage
	MessageReceived
	ErrorRequestingWriteCharacteristic
	ErrorWritingCharacteristic
	MessageSent
	ErrorEnablingNotifications
)

var requestStatusNames = map[RequestStatus]string{
	RequestIdle:                        "IDLE",
	RequestingReadCharacteristic:       "REQUESTING_CUSTOM_CHARACTERISTIC_VALUE",
	RequestingDeviceName:               "REQUESTING_DEVICE_NAME_CHARACTERISTIC_VALUE",
	DeviceNameReceived:                 "DEVICE_NAME_RECEIVED",
	ErrorRequestingReadCharacteristic:  "ERROR_REQUESTING_CUSTOM_READ_CHARACTERISTIC",
	ErrorReadingReadCharacteristic:     "ERROR_READING_CUSTOM_CHARACTERISTIC",
	ErrorRequestingDeviceName:          "ERROR_REQUESTING_DEVICE_NAME_CHARACTERISTIC",
	ErrorReadingDeviceName:             "ERROR_READING_DEVICE_NAME_CHARACTERISTIC",
	SendingMessage:                     "SENDING_MESSAGE_TO_DEVICE",
	MessageReceived:                    "MESSAGE_RECEIVED_FROM_DEVICE",
	ErrorRequestingWriteCharacteristic: "ERROR_REQUESTING_CUSTOM_WRITE_CHARACTERISTIC",
	ErrorWritingCharacteristic:         "ERROR_WRITING_CUSTOM_CHARACTERISTIC",
	MessageSent:                        "MESSAGE_SENT_TO_DEVICE",
	ErrorEnablingNotifications:         "ERROR_ENABLING_NOTIFICATIONS",
}

func (r RequestStatus) String() string {
	if name, ok := requestStatusNames[r]; ok {
		return name
	}
	return "UNKNOWN_REQUEST_STATUS"
}

// IsError reports whether the status is a failure variant.
func (r RequestStatus) IsError() bool {
	switch r {
	case ErrorRequestingReadCharacteristic, ErrorReadingReadCharacteristic,
		ErrorRequestingDeviceName, ErrorReadingDeviceName,
		ErrorRequestingWriteCharacteristic, ErrorWritingCharacteristic,
		ErrorEnablingNotifications:
		return true
	}
	return false
}

// tracker holds a value and notifies only when a transition changes it.
type tracker[T comparable] struct {
	value    T
	onChange func(T)
}

// transition sets v and reports whether it differed from the current value.
func (t *tracker[T]) transition(v T) bool {
	if t.value == v {
		return false
	}
	t.value = v
	if t.onChange != nil {
		t.onChange(v)
	}
	return true
}

func (t *tracker[T]) get() T { return t.value }
