package ble

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// maxReadSize bounds a characteristic read (largest ATT attribute value).
const maxReadSize = 512

// TinyGoPlatform wraps tinygo-org/bluetooth. It turns the library's blocking
// calls into the callback style a Session expects by running each request
// on its own goroutine.
//
// On macOS, device addresses are CoreBluetooth UUIDs (not MAC addresses).
type TinyGoPlatform struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinygoConn // keyed by device address

	scanStopping atomic.Bool
}

// NewTinyGoPlatform creates a platform on the adapter with the given id, or
// on the default adapter when id is empty.
func NewTinyGoPlatform(id string) *TinyGoPlatform {
	adapter := bluetooth.DefaultAdapter
	if id != "" {
		adapter = bluetooth.NewAdapter(id)
	}
	return &TinyGoPlatform{
		adapter:     adapter,
		connections: make(map[string]*tinygoConn),
	}
}

var (
	_ Platform     = (*TinyGoPlatform)(nil)
	_ ScanPlatform = (*TinyGoPlatform)(nil)
)

// Enable powers on the adapter and registers the disconnect handler.
func (p *TinyGoPlatform) Enable() error {
	if err := p.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// tinygo/bluetooth reports disconnects only through the adapter-level
	// handler, so route them to the matching connection.
	p.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		p.mu.Lock()
		conn, ok := p.connections[addr]
		delete(p.connections, addr)
		p.mu.Unlock()
		if ok {
			conn.lost()
		}
	})
	return nil
}

// Open connects to address in the background.
func (p *TinyGoPlatform) Open(address string, cb Callbacks) (Conn, error) {
	var addr bluetooth.Address
	addr.Set(address)

	conn := &tinygoConn{platform: p, address: address, cb: cb}
	go func() {
		device, err := p.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			slog.Warn("[BLE] connect failed", "address", address, "error", err)
			if !conn.isClosed() {
				cb.OnConnectionStateChange(false, StatusFailure)
			}
			return
		}

		conn.mu.Lock()
		if conn.closed {
			conn.mu.Unlock()
			_ = device.Disconnect()
			return
		}
		conn.device = &device
		conn.mu.Unlock()

		// Track this connection so the adapter-level disconnect handler
		// can find it.
		p.mu.Lock()
		p.connections[device.Address.String()] = conn
		p.mu.Unlock()

		cb.OnConnectionStateChange(true, StatusSuccess)
	}()
	return conn, nil
}

// StartScan scans in the background until StopScan.
func (p *TinyGoPlatform) StartScan(onResult func(Device), onFailure func(error)) error {
	p.scanStopping.Store(false)
	go func() {
		err := p.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			onResult(Device{
				Name:    result.LocalName(),
				Address: result.Address.String(),
				RSSI:    int(result.RSSI),
			})
		})
		if err != nil && !p.scanStopping.Load() {
			onFailure(fmt.Errorf("ble: scan: %w", err))
		}
	}()
	return nil
}

// StopScan stops a running scan.
func (p *TinyGoPlatform) StopScan() error {
	p.scanStopping.Store(true)
	return p.adapter.StopScan()
}

func (p *TinyGoPlatform) forget(conn *tinygoConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, c := range p.connections {
		if c == conn {
			delete(p.connections, addr)
		}
	}
}

type tinygoConn struct {
	platform *TinyGoPlatform
	address  string
	cb       Callbacks

	mu       sync.Mutex
	device   *bluetooth.Device
	services map[uuid.UUID]*tinygoService
	closed   bool
}

var _ Conn = (*tinygoConn)(nil)

func (c *tinygoConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// lost reports a link loss the session did not ask for.
func (c *tinygoConn) lost() {
	if c.isClosed() {
		return
	}
	c.cb.OnConnectionStateChange(false, StatusSuccess)
}

func (c *tinygoConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	device := c.device
	c.device = nil
	c.mu.Unlock()

	c.platform.forget(c)
	if device == nil {
		return nil
	}
	return device.Disconnect()
}

func (c *tinygoConn) RequestMTU(int) error {
	// tinygo/bluetooth negotiates the MTU itself and exposes no request.
	return ErrUnsupported
}

func (c *tinygoConn) DiscoverServices() error {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()
	if device == nil {
		return fmt.Errorf("ble: discover services: not connected")
	}

	go func() {
		services, err := discoverTinyGo(device)
		if err != nil {
			slog.Warn("[BLE] discovery failed", "error", err)
			c.cb.OnServicesDiscovered(StatusFailure)
			return
		}
		c.mu.Lock()
		c.services = services
		c.mu.Unlock()
		c.cb.OnServicesDiscovered(StatusSuccess)
	}()
	return nil
}

func discoverTinyGo(device *bluetooth.Device) (map[uuid.UUID]*tinygoService, error) {
	svcs, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	services := make(map[uuid.UUID]*tinygoService, len(svcs))
	for _, svc := range svcs {
		id, err := uuid.Parse(svc.UUID().String())
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics of %s: %w", id, err)
		}
		s := &tinygoService{id: id, chars: make(map[uuid.UUID]*tinygoCharacteristic, len(chars))}
		for i := range chars {
			cid, err := uuid.Parse(chars[i].UUID().String())
			if err != nil {
				return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
			}
			s.chars[cid] = &tinygoCharacteristic{id: cid, char: chars[i]}
		}
		services[id] = s
	}
	return services, nil
}

func (c *tinygoConn) Service(id uuid.UUID) (Service, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	svc, ok := c.services[id]
	if !ok {
		return nil, false
	}
	return svc, true
}

func (c *tinygoConn) ReadCharacteristic(ch Characteristic) error {
	tc, ok := ch.(*tinygoCharacteristic)
	if !ok {
		return fmt.Errorf("ble: foreign characteristic %T", ch)
	}
	go func() {
		buf := make([]byte, maxReadSize)
		n, err := tc.char.Read(buf)
		if err != nil {
			slog.Warn("[BLE] read failed", "characteristic", tc.id, "error", err)
			c.cb.OnCharacteristicRead(tc.id, nil, StatusFailure)
			return
		}
		c.cb.OnCharacteristicRead(tc.id, buf[:n], StatusSuccess)
	}()
	return nil
}

func (c *tinygoConn) WriteCharacteristic(ch Characteristic, value []byte) error {
	tc, ok := ch.(*tinygoCharacteristic)
	if !ok {
		return fmt.Errorf("ble: foreign characteristic %T", ch)
	}
	value = bytes.Clone(value)
	// Write with response is only built on darwin and windows; the
	// write-without-response call exists on every target.
	go func() {
		_, err := tc.char.WriteWithoutResponse(value)
		if err != nil {
			slog.Warn("[BLE] write failed", "characteristic", tc.id, "error", err)
		}
		c.cb.OnCharacteristicWrite(tc.id, statusFromError(err))
	}()
	return nil
}

// WriteDescriptor supports only the CCCD: tinygo/bluetooth writes it as part
// of enabling notifications.
func (c *tinygoConn) WriteDescriptor(d Descriptor, value []byte) error {
	if d.UUID() != ClientConfigDescriptorUUID {
		return ErrUnsupported
	}
	tc, ok := d.Characteristic().(*tinygoCharacteristic)
	if !ok {
		return fmt.Errorf("ble: foreign characteristic %T", d.Characteristic())
	}
	enable := len(value) > 0 && value[0]&0x01 != 0

	go func() {
		var handler func([]byte)
		if enable {
			handler = func(buf []byte) {
				if tc.notify.Load() {
					c.cb.OnCharacteristicChanged(tc.id, buf)
				}
			}
		}
		err := tc.char.EnableNotifications(handler)
		if err != nil {
			slog.Warn("[BLE] enabling notifications failed", "characteristic", tc.id, "error", err)
		}
		c.cb.OnDescriptorWrite(ClientConfigDescriptorUUID, statusFromError(err))
	}()
	return nil
}

func (c *tinygoConn) SetNotification(ch Characteristic, enabled bool) error {
	tc, ok := ch.(*tinygoCharacteristic)
	if !ok {
		return fmt.Errorf("ble: foreign characteristic %T", ch)
	}
	tc.notify.Store(enabled)
	return nil
}

type tinygoService struct {
	id    uuid.UUID
	chars map[uuid.UUID]*tinygoCharacteristic
}

func (s *tinygoService) UUID() uuid.UUID { return s.id }

func (s *tinygoService) Characteristic(id uuid.UUID) (Characteristic, bool) {
	c, ok := s.chars[id]
	if !ok {
		return nil, false
	}
	return c, true
}

type tinygoCharacteristic struct {
	id     uuid.UUID
	char   bluetooth.DeviceCharacteristic
	notify atomic.Bool
}

func (c *tinygoCharacteristic) UUID() uuid.UUID { return c.id }

// Descriptor exposes a CCCD on every characteristic; tinygo/bluetooth does
// not enumerate descriptors and reports a missing CCCD when enabling.
func (c *tinygoCharacteristic) Descriptor(id uuid.UUID) (Descriptor, bool) {
	if id != ClientConfigDescriptorUUID {
		return nil, false
	}
	return cccd{char: c}, true
}

// cccd is a Client Characteristic Configuration Descriptor of char.
type cccd struct {
	char Characteristic
}

func (d cccd) UUID() uuid.UUID                { return ClientConfigDescriptorUUID }
func (d cccd) Characteristic() Characteristic { return d.char }
