package ble

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewProfile(t *testing.T) {
	p, err := NewProfile(
		"6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		"6e400003-b5a3-f393-e0a9-e50e24dcca9e",
		"6e400002-b5a3-f393-e0a9-e50e24dcca9e",
		0,
	)
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}
	if p != ZumCoreProfile {
		t.Errorf("NewProfile = %+v, want ZumCoreProfile", p)
	}
}

func TestNewProfileRejectsBadUUIDs(t *testing.T) {
	good := "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	tests := []struct {
		name                 string
		service, read, write string
	}{
		{"service", "nope", good, good},
		{"read", good, "nope", good},
		{"write", good, good, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProfile(tt.service, tt.read, tt.write, 23); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProfileNames(t *testing.T) {
	p := ZumCoreProfile
	other := uuid.MustParse("12345678-1234-1234-1234-123456789abc")

	tests := []struct {
		got, want string
	}{
		{p.ServiceName(p.Service), "CUSTOM_SERVICE"},
		{p.ServiceName(GenericAccessServiceUUID), "GENERIC_ACCESS_SERVICE"},
		{p.ServiceName(other), "UNKNOWN_SERVICE_UUID"},
		{p.CharacteristicName(p.ReadCharacteristic), "CUSTOM_READ_CHARACTERISTIC"},
		{p.CharacteristicName(p.WriteCharacteristic), "CUSTOM_WRITE_CHARACTERISTIC"},
		{p.CharacteristicName(DeviceNameCharacteristicUUID), "DEVICE_NAME_CHARACTERISTIC"},
		{p.CharacteristicName(other), "UNKNOWN_CHARACTERISTIC_UUID"},
		{p.DescriptorName(ClientConfigDescriptorUUID), "READ_CONFIG_DESCRIPTOR"},
		{p.DescriptorName(other), "UNKNOWN_DESCRIPTOR_UUID"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestStateClassification(t *testing.T) {
	tests := []struct {
		state                                   State
		connecting, configuring, connected, err bool
	}{
		{StateDisconnected, false, false, false, false},
		{StateConnecting, true, false, false, false},
		{StateConnectedNotConfigured, false, true, true, false},
		{StateRequestingMTU, false, true, true, false},
		{StateDiscoveringServices, false, true, true, false},
		{StateEnablingNotifications, false, true, true, false},
		{StateConfigured, false, false, true, false},
		{StateErrorConnecting, false, false, false, true},
		{StateErrorDiscoveringServices, false, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsConnecting(); got != tt.connecting {
				t.Errorf("IsConnecting() = %v", got)
			}
			if got := tt.state.IsConfiguring(); got != tt.configuring {
				t.Errorf("IsConfiguring() = %v", got)
			}
			if got := tt.state.IsConnected(); got != tt.connected {
				t.Errorf("IsConnected() = %v", got)
			}
			if got := tt.state.IsError(); got != tt.err {
				t.Errorf("IsError() = %v", got)
			}
			if got, want := tt.state.HoldsAttempt(), tt.connecting || tt.connected; got != want {
				t.Errorf("HoldsAttempt() = %v, want %v", got, want)
			}
		})
	}
	if got := State(99).String(); got != "UNKNOWN_STATE" {
		t.Errorf("State(99) = %q", got)
	}
}

func TestTrackerNotifiesOnlyOnChange(t *testing.T) {
	var seen []RequestStatus
	tr := tracker[RequestStatus]{onChange: func(r RequestStatus) { seen = append(seen, r) }}

	if tr.transition(RequestIdle) {
		t.Error("transition to current value reported a change")
	}
	tr.transition(SendingMessage)
	tr.transition(SendingMessage)
	tr.transition(MessageSent)
	if len(seen) != 2 || seen[0] != SendingMessage || seen[1] != MessageSent {
		t.Errorf("seen = %v", seen)
	}
	if tr.get() != MessageSent {
		t.Errorf("get() = %v", tr.get())
	}
}

func TestGattStatusString(t *testing.T) {
	tests := []struct {
		status GattStatus
		want   string
	}{
		{StatusSuccess, "GATT_SUCCESS"},
		{StatusReadNotPermitted, "GATT_READ_NOT_PERMITTED"},
		{StatusInsufficientEncryption, "GATT_INSUFFICIENT_ENCRYPTION"},
		{StatusConnectionCongested, "GATT_CONNECTION_CONGESTED"},
		{StatusFailure, "GATT_FAILURE"},
		{GattStatus(0x85), "GATT_UNKNOWN_ERROR(0x85)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.status), got, tt.want)
		}
	}
	if !StatusSuccess.OK() || StatusFailure.OK() {
		t.Error("OK() misclassifies")
	}
	if statusFromError(nil) != StatusSuccess || statusFromError(errMock) != StatusFailure {
		t.Error("statusFromError misclassifies")
	}
}

func TestRequestStatusIsError(t *testing.T) {
	for r := RequestIdle; r <= ErrorEnablingNotifications; r++ {
		want := len(r.String()) > 6 && r.String()[:6] == "ERROR_"
		if got := r.IsError(); got != want {
			t.Errorf("%v.IsError() = %v, want %v", r, got, want)
		}
	}
}
