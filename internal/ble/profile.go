package ble

import (
	"fmt"

	"github.com/google/uuid"
)

// Well-known GATT identifiers shared by every BLE peripheral.
var (
	GenericAccessServiceUUID     = uuid.MustParse("00001800-0000-1000-8000-00805f9b34fb")
	DeviceNameCharacteristicUUID = uuid.MustParse("00002a00-0000-1000-8000-00805f9b34fb")
	// ClientConfigDescriptorUUID is the Client Characteristic Configuration
	// Descriptor. Writing EnableNotificationValue to it turns on notifications.
	ClientConfigDescriptorUUID = uuid.MustParse("00002902-0000-1000-8000-00805f9b34fb")
)

// EnableNotificationValue is the CCCD value that enables notifications.
var EnableNotificationValue = []byte{0x01, 0x00}

// DefaultPreferredMTU is the MTU requested when negotiation is enabled.
const DefaultPreferredMTU = 512

// Profile describes the custom service a session talks to. It is a value
// type; a session copies it once and never changes it.
type Profile struct {
	Service             uuid.UUID
	ReadCharacteristic  uuid.UUID
	WriteCharacteristic uuid.UUID
	PreferredMTU        int
}

// ZumCoreProfile is the UART-style profile exposed by ZUM Core boards.
var ZumCoreProfile = Profile{
	Service:             uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e"),
	ReadCharacteristic:  uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e"),
	WriteCharacteristic: uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e"),
	PreferredMTU:        DefaultPreferredMTU,
}

// NewProfile parses the textual UUIDs of a custom profile.
// A non-positive preferredMTU selects DefaultPreferredMTU.
func NewProfile(service, read, write string, preferredMTU int) (Profile, error) {
	svc, err := uuid.Parse(service)
	if err != nil {
		return Profile{}, fmt.Errorf("ble: parse service UUID %q: %w", service, err)
	}
	rd, err := uuid.Parse(read)
	if err != nil {
		return Profile{}, fmt.Errorf("ble: parse read characteristic UUID %q: %w", read, err)
	}
	wr, err := uuid.Parse(write)
	if err != nil {
		return Profile{}, fmt.Errorf("ble: parse write characteristic UUID %q: %w", write, err)
	}
	if preferredMTU <= 0 {
		preferredMTU = DefaultPreferredMTU
	}
	return Profile{
		Service:             svc,
		ReadCharacteristic:  rd,
		WriteCharacteristic: wr,
		PreferredMTU:        preferredMTU,
	}, nil
}

// ServiceName returns a human-readable name for a service UUID.
func (p Profile) ServiceName(id uuid.UUID) string {
	switch id {
	case GenericAccessServiceUUID:
		return "GENERIC_ACCESS_SERVICE"
	case p.Service:
		return "CUSTOM_SERVICE"
	default:
		return "UNKNOWN_SERVICE_UUID"
	}
}

// CharacteristicName returns a human-readable name for a characteristic UUID.
func (p Profile) CharacteristicName(id uuid.UUID) string {
	switch id {
	case DeviceNameCharacteristicUUID:
		return "DEVICE_NAME_CHARACTERISTIC"
	case p.ReadCharacteristic:
		return "CUSTOM_READ_CHARACTERISTIC"
	case p.WriteCharacteristic:
		return "CUSTOM_WRITE_CHARACTERISTIC"
	default:
		return "UNKNOWN_CHARACTERISTIC_UUID"
	}
}

// DescriptorName returns a human-readable name for a descriptor UUID.
func (p Profile) DescriptorName(id uuid.UUID) string {
	if id == ClientConfigDescriptorUUID {
		return "READ_CONFIG_DESCRIPTOR"
	}
	return "UNKNOWN_DESCRIPTOR_UUID"
}
