//go:build !linux

package ble

import "fmt"

// GoBLEPlatform is only available on Linux.
type GoBLEPlatform struct{}

// NewGoBLEPlatform always fails outside Linux.
func NewGoBLEPlatform(deviceID int) (*GoBLEPlatform, error) {
	return nil, fmt.Errorf("ble: hci%d: go-ble backend: %w", deviceID, ErrUnsupported)
}

func (p *GoBLEPlatform) Stop() error { return nil }

func (p *GoBLEPlatform) Open(string, Callbacks) (Conn, error) { return nil, ErrUnsupported }

func (p *GoBLEPlatform) StartScan(func(Device), func(error)) error { return ErrUnsupported }

func (p *GoBLEPlatform) StopScan() error { return nil }
