package ble

import "fmt"

// GattStatus is the result code of a GATT operation, using the ATT error
// code space.
type GattStatus int

const (
	StatusSuccess                    GattStatus = 0x00
	StatusReadNotPermitted           GattStatus = 0x02
	StatusWriteNotPermitted          GattStatus = 0x03
	StatusInsufficientAuthentication GattStatus = 0x05
	StatusRequestNotSupported        GattStatus = 0x06
	StatusInvalidOffset              GattStatus = 0x07
	StatusInsufficientEncryption     GattStatus = 0x0f
	StatusInvalidAttributeLength     GattStatus = 0x0d
	StatusConnectionCongested        GattStatus = 0x8f
	StatusFailure                    GattStatus = 0x101
)

// OK reports whether the operation succeeded.
func (s GattStatus) OK() bool { return s == StatusSuccess }

func (s GattStatus) String() string {
	switch s {
	case StatusSuccess:
		return "GATT_SUCCESS"
	case StatusReadNotPermitted:
		return "GATT_READ_NOT_PERMITTED"
	case StatusWriteNotPermitted:
		return "GATT_WRITE_NOT_PERMITTED"
	case StatusInsufficientAuthentication:
		return "GATT_INSUFFICIENT_AUTHENTICATION"
	case StatusRequestNotSupported:
		return "GATT_REQUEST_NOT_SUPPORTED"
	case StatusInsufficientEncryption:
		return "GATT_INSUFFICIENT_ENCRYPTION"
	case StatusInvalidOffset:
		return "GATT_INVALID_OFFSET"
	case StatusInvalidAttributeLength:
		return "GATT_INVALID_ATTRIBUTE_LENGTH"
	case StatusConnectionCongested:
		return "GATT_CONNECTION_CONGESTED"
	case StatusFailure:
		return "GATT_FAILURE"
	default:
		return fmt.Sprintf("GATT_UNKNOWN_ERROR(0x%02x)", int(s))
	}
}

// statusFromError maps a platform error onto a GattStatus.
func statusFromError(err error) GattStatus {
	if err == nil {
		return StatusSuccess
	}
	return StatusFailure
}
