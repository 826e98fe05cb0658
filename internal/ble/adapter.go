// Package ble provides a GATT client session for exchanging JSON messages with
// a BLE peripheral. It handles connection management, service discovery,
// notification setup, chunked writes and reassembly of notified fragments.
package ble

import (
	"errors"

	"github.com/google/uuid"
)

// ErrUnsupported is returned by a platform that cannot perform a request.
var ErrUnsupported = errors.New("ble: operation not supported by platform")

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Platform abstracts the BLE stack for testing. Open starts connecting and
// returns immediately; the outcome arrives through cb.
type Platform interface {
	Open(address string, cb Callbacks) (Conn, error)
}

// Conn is a live GATT connection handle. Every request method only submits
// the request and reports completion through the Callbacks passed to Open.
// A non-nil error means the request was not submitted.
type Conn interface {
	// Close releases the connection. No callbacks are delivered afterwards.
	Close() error
	// RequestMTU asks the peer for a larger transmission unit.
	RequestMTU(mtu int) error
	// DiscoverServices enumerates services, characteristics and descriptors.
	DiscoverServices() error
	// Service returns a discovered service, if present.
	Service(id uuid.UUID) (Service, bool)
	ReadCharacteristic(c Characteristic) error
	WriteCharacteristic(c Characteristic, value []byte) error
	WriteDescriptor(d Descriptor, value []byte) error
	// SetNotification enables or disables local delivery of notifications
	// for c. The peer only starts notifying once its CCCD is written.
	SetNotification(c Characteristic, enabled bool) error
}

// Service is a discovered GATT service.
type Service interface {
	UUID() uuid.UUID
	Characteristic(id uuid.UUID) (Characteristic, bool)
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() uuid.UUID
	Descriptor(id uuid.UUID) (Descriptor, bool)
}

// Descriptor is a discovered GATT descriptor.
type Descriptor interface {
	UUID() uuid.UUID
	Characteristic() Characteristic
}

// Callbacks receives asynchronous completions from a Conn. Implementations
// may call them from any goroutine.
type Callbacks interface {
	OnConnectionStateChange(connected bool, status GattStatus)
	OnMTUChanged(mtu int, status GattStatus)
	OnServicesDiscovered(status GattStatus)
	OnCharacteristicRead(id uuid.UUID, value []byte, status GattStatus)
	OnCharacteristicChanged(id uuid.UUID, value []byte)
	OnCharacteristicWrite(id uuid.UUID, status GattStatus)
	OnDescriptorWrite(id uuid.UUID, status GattStatus)
}

// ScanPlatform abstracts device discovery.
type ScanPlatform interface {
	// StartScan begins scanning. onResult may be called from any goroutine,
	// possibly repeatedly for the same device. onFailure is called when the
	// platform aborts the scan on its own.
	StartScan(onResult func(Device), onFailure func(error)) error
	StopScan() error
}
