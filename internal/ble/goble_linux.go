//go:build linux

package ble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
	"github.com/google/uuid"
)

const (
	gobleDialTimeout   = 10 * time.Second
	gobleListenTimeout = 5 * time.Second
)

// GoBLEPlatform drives a local HCI device directly through go-ble/ble,
// without BlueZ. It needs CAP_NET_ADMIN (or root).
type GoBLEPlatform struct {
	device *linux.Device

	mu         sync.Mutex
	scanCancel context.CancelFunc
}

var (
	_ Platform     = (*GoBLEPlatform)(nil)
	_ ScanPlatform = (*GoBLEPlatform)(nil)
)

// NewGoBLEPlatform opens HCI device hciN. Scans are active.
func NewGoBLEPlatform(deviceID int) (*GoBLEPlatform, error) {
	scanParams := cmd.LESetScanParameters{
		LEScanType:           1,    // Active scanning
		LEScanInterval:       0x10, // 10ms
		LEScanWindow:         0x10, // 10ms
		OwnAddressType:       0,    // Public
		ScanningFilterPolicy: 0,    // Accept all
	}
	device, err := linux.NewDevice(
		ble.OptDeviceID(deviceID),
		ble.OptListenerTimeout(gobleListenTimeout),
		ble.OptDialerTimeout(gobleDialTimeout),
		ble.OptScanParams(scanParams),
	)
	if err != nil {
		return nil, fmt.Errorf("ble: open hci%d: %w", deviceID, err)
	}
	return &GoBLEPlatform{device: device}, nil
}

// Stop releases the HCI device.
func (p *GoBLEPlatform) Stop() error {
	_ = p.StopScan()
	return p.device.Stop()
}

// Open dials address in the background.
func (p *GoBLEPlatform) Open(address string, cb Callbacks) (Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &gobleConn{cb: cb, cancelDial: cancel}

	go func() {
		defer cancel()
		client, err := p.device.Dial(ctx, ble.NewAddr(address))
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Warn("[BLE] dial failed", "address", address, "error", err)
			}
			if !conn.isClosed() {
				cb.OnConnectionStateChange(false, StatusFailure)
			}
			return
		}

		conn.mu.Lock()
		if conn.closed {
			conn.mu.Unlock()
			_ = client.CancelConnection()
			return
		}
		conn.client = client
		conn.mu.Unlock()

		go func() {
			<-client.Disconnected()
			if !conn.isClosed() {
				cb.OnConnectionStateChange(false, StatusSuccess)
			}
		}()
		cb.OnConnectionStateChange(true, StatusSuccess)
	}()
	return conn, nil
}

// StartScan scans in the background until StopScan.
func (p *GoBLEPlatform) StartScan(onResult func(Device), onFailure func(error)) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	if p.scanCancel != nil {
		p.scanCancel()
	}
	p.scanCancel = cancel
	p.mu.Unlock()

	go func() {
		err := p.device.Scan(ctx, false, func(a ble.Advertisement) {
			onResult(Device{
				Name:    a.LocalName(),
				Address: a.Addr().String(),
				RSSI:    a.RSSI(),
			})
		})
		if err != nil && ctx.Err() == nil {
			onFailure(fmt.Errorf("ble: scan: %w", err))
		}
	}()
	return nil
}

// StopScan stops a running scan.
func (p *GoBLEPlatform) StopScan() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scanCancel != nil {
		p.scanCancel()
		p.scanCancel = nil
	}
	return nil
}

type gobleConn struct {
	cb         Callbacks
	cancelDial context.CancelFunc

	mu       sync.Mutex
	client   ble.Client
	services map[uuid.UUID]*gobleService
	closed   bool
}

var _ Conn = (*gobleConn)(nil)

func (c *gobleConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *gobleConn) live() (ble.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, fmt.Errorf("ble: not connected")
	}
	return c.client, nil
}

func (c *gobleConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	c.client = nil
	c.mu.Unlock()

	c.cancelDial()
	if client == nil {
		return nil
	}
	if err := client.ClearSubscriptions(); err != nil {
		slog.Debug("[BLE] clearing subscriptions failed", "error", err)
	}
	return client.CancelConnection()
}

func (c *gobleConn) RequestMTU(mtu int) error {
	client, err := c.live()
	if err != nil {
		return err
	}
	go func() {
		txMTU, err := client.ExchangeMTU(mtu)
		if err != nil {
			slog.Warn("[BLE] MTU exchange failed", "error", err)
		}
		c.cb.OnMTUChanged(txMTU, statusFromError(err))
	}()
	return nil
}

func (c *gobleConn) DiscoverServices() error {
	client, err := c.live()
	if err != nil {
		return err
	}
	go func() {
		services, err := discoverGoBLE(client)
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

func discoverGoBLE(client ble.Client) (map[uuid.UUID]*gobleService, error) {
	svcs, err := client.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	services := make(map[uuid.UUID]*gobleService, len(svcs))
	for _, svc := range svcs {
		id, err := fromBLEUUID(svc.UUID)
		if err != nil {
			return nil, err
		}
		chars, err := client.DiscoverCharacteristics(nil, svc)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics of %s: %w", id, err)
		}
		s := &gobleService{id: id, chars: make(map[uuid.UUID]*gobleCharacteristic, len(chars))}
		for _, char := range chars {
			cid, err := fromBLEUUID(char.UUID)
			if err != nil {
				return nil, err
			}
			descs, err := client.DiscoverDescriptors(nil, char)
			if err != nil {
				return nil, fmt.Errorf("ble: discover descriptors of %s: %w", cid, err)
			}
			gc := &gobleCharacteristic{id: cid, char: char, descs: make(map[uuid.UUID]*gobleDescriptor, len(descs))}
			for _, desc := range descs {
				did, err := fromBLEUUID(desc.UUID)
				if err != nil {
					return nil, err
				}
				gc.descs[did] = &gobleDescriptor{id: did, desc: desc, char: gc}
			}
			s.chars[cid] = gc
		}
		services[id] = s
	}
	return services, nil
}

// fromBLEUUID expands 16- and 32-bit UUIDs onto the Bluetooth base UUID.
func fromBLEUUID(u ble.UUID) (uuid.UUID, error) {
	s := u.String()
	switch len(s) {
	case 4:
		s = "0000" + s + "00001000800000805f9b34fb"
	case 8:
		s += "00001000800000805f9b34fb"
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ble: parse UUID %q: %w", u.String(), err)
	}
	return id, nil
}

func (c *gobleConn) Service(id uuid.UUID) (Service, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	svc, ok := c.services[id]
	if !ok {
		return nil, false
	}
	return svc, true
}

func (c *gobleConn) ReadCharacteristic(ch Characteristic) error {
	gc, ok := ch.(*gobleCharacteristic)
	if !ok {
		return fmt.Errorf("ble: foreign characteristic %T", ch)
	}
	client, err := c.live()
	if err != nil {
		return err
	}
	go func() {
		value, err := client.ReadLongCharacteristic(gc.char)
		if err != nil {
			slog.Warn("[BLE] read failed", "characteristic", gc.id, "error", err)
		}
		c.cb.OnCharacteristicRead(gc.id, value, statusFromError(err))
	}()
	return nil
}

func (c *gobleConn) WriteCharacteristic(ch Characteristic, value []byte) error {
	gc, ok := ch.(*gobleCharacteristic)
	if !ok {
		return fmt.Errorf("ble: foreign characteristic %T", ch)
	}
	client, err := c.live()
	if err != nil {
		return err
	}
	value = bytes.Clone(value)
	go func() {
		err := client.WriteCharacteristic(gc.char, value, false)
		if err != nil {
			slog.Warn("[BLE] write failed", "characteristic", gc.id, "error", err)
		}
		c.cb.OnCharacteristicWrite(gc.id, statusFromError(err))
	}()
	return nil
}

// WriteDescriptor subscribes or unsubscribes when d is a CCCD, since
// go-ble/ble only routes notifications for characteristics it subscribed.
// Other descriptors are written as-is.
func (c *gobleConn) WriteDescriptor(d Descriptor, value []byte) error {
	gd, ok := d.(*gobleDescriptor)
	if !ok {
		return fmt.Errorf("ble: foreign descriptor %T", d)
	}
	client, err := c.live()
	if err != nil {
		return err
	}
	value = bytes.Clone(value)
	gc := gd.char

	go func() {
		var err error
		switch {
		case gd.id != ClientConfigDescriptorUUID:
			err = client.WriteDescriptor(gd.desc, value)
		case len(value) > 0 && value[0]&0x01 != 0:
			err = client.Subscribe(gc.char, false, func(buf []byte) {
				gc.mu.Lock()
				enabled := gc.notify
				gc.mu.Unlock()
				if enabled {
					c.cb.OnCharacteristicChanged(gc.id, buf)
				}
			})
		default:
			err = client.Unsubscribe(gc.char, false)
		}
		if err != nil {
			slog.Warn("[BLE] descriptor write failed", "descriptor", gd.id, "error", err)
		}
		c.cb.OnDescriptorWrite(gd.id, statusFromError(err))
	}()
	return nil
}

func (c *gobleConn) SetNotification(ch Characteristic, enabled bool) error {
	gc, ok := ch.(*gobleCharacteristic)
	if !ok {
		return fmt.Errorf("ble: foreign characteristic %T", ch)
	}
	gc.mu.Lock()
	gc.notify = enabled
	gc.mu.Unlock()
	return nil
}

type gobleService struct {
	id    uuid.UUID
	chars map[uuid.UUID]*gobleCharacteristic
}

func (s *gobleService) UUID() uuid.UUID { return s.id }

func (s *gobleService) Characteristic(id uuid.UUID) (Characteristic, bool) {
	c, ok := s.chars[id]
	if !ok {
		return nil, false
	}
	return c, true
}

type gobleCharacteristic struct {
	id    uuid.UUID
	char  *ble.Characteristic
	descs map[uuid.UUID]*gobleDescriptor

	mu     sync.Mutex
	notify bool
}

func (c *gobleCharacteristic) UUID() uuid.UUID { return c.id }

func (c *gobleCharacteristic) Descriptor(id uuid.UUID) (Descriptor, bool) {
	d, ok := c.descs[id]
	if !ok {
		return nil, false
	}
	return d, true
}

type gobleDescriptor struct {
	id   uuid.UUID
	desc *ble.Descriptor
	char *gobleCharacteristic
}

func (d *gobleDescriptor) UUID() uuid.UUID                { return d.id }
func (d *gobleDescriptor) Characteristic() Characteristic { return d.char }
