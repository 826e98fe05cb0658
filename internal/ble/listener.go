package ble

// Listener receives session events. Methods are called synchronously on the
// session's event loop and must not block.
type Listener interface {
	OnStateChanged(state State)
	OnRequestStatusChanged(status RequestStatus)
	OnMessageReceived(message string)
	OnValueReceived(value []byte)
	OnMessageSent(message string)
	OnDeviceNameObtained(name string)
}

// ListenerFuncs adapts optional functions to a Listener. Nil fields are
// skipped.
type ListenerFuncs struct {
	StateChanged         func(State)
	RequestStatusChanged func(RequestStatus)
	MessageReceived      func(string)
	ValueReceived        func([]byte)
	MessageSent          func(string)
	DeviceNameObtained   func(string)
}

var _ Listener = ListenerFuncs{}

func (f ListenerFuncs) OnStateChanged(s State) {
	if f.StateChanged != nil {
		f.StateChanged(s)
	}
}

func (f ListenerFuncs) OnRequestStatusChanged(r RequestStatus) {
	if f.RequestStatusChanged != nil {
		f.RequestStatusChanged(r)
	}
}

func (f ListenerFuncs) OnMessageReceived(m string) {
	if f.MessageReceived != nil {
		f.MessageReceived(m)
	}
}

func (f ListenerFuncs) OnValueReceived(v []byte) {
	if f.ValueReceived != nil {
		f.ValueReceived(v)
	}
}

func (f ListenerFuncs) OnMessageSent(m string) {
	if f.MessageSent != nil {
		f.MessageSent(m)
	}
}

func (f ListenerFuncs) OnDeviceNameObtained(n string) {
	if f.DeviceNameObtained != nil {
		f.DeviceNameObtained(n)
	}
}
