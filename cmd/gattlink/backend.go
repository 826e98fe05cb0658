package main

import (
	"fmt"
	"log/slog"

	"github.com/chaz8081/gattlink/internal/ble"
	"github.com/chaz8081/gattlink/internal/config"
	"github.com/chaz8081/gattlink/internal/transport"
)

// backend is an opened BLE stack.
type backend struct {
	platform ble.Platform
	scanner  ble.ScanPlatform
	close    func()
}

// openBackend opens the BLE stack named in cfg.
func openBackend(cfg *config.Config) (*backend, error) {
	switch cfg.Backend.Name {
	case "goble":
		p, err := ble.NewGoBLEPlatform(cfg.Backend.HCIIndex)
		if err != nil {
			return nil, err
		}
		slog.Info("[BLE] go-ble backend ready", "hci", cfg.Backend.HCIIndex)
		return &backend{
			platform: p,
			scanner:  p,
			close: func() {
				if err := p.Stop(); err != nil {
					slog.Warn("[BLE] failed to release HCI device", "error", err)
				}
			},
		}, nil
	default:
		p := ble.NewTinyGoPlatform(cfg.Backend.Adapter)
		if err := p.Enable(); err != nil {
			return nil, err
		}
		slog.Info("[BLE] tinygo backend ready", "adapter", cfg.Backend.Adapter)
		return &backend{platform: p, scanner: p, close: func() {}}, nil
	}
}

// newController builds the controller for cfg.Transport. The returned
// cleanup releases anything opened for it.
func newController(cfg *config.Config) (transport.Controller, func(), error) {
	kind, err := transport.ParseKind(cfg.Transport)
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case transport.KindSocket:
		var d transport.Dialer
		if cfg.Socket.Network == "unix" {
			d = transport.NetDialer{Network: "unix", Timeout: cfg.Socket.DialTimeout}
		} else {
			d = transport.AutoDialer(cfg.Socket.DialTimeout)
		}
		return transport.NewSocketController(d), func() {}, nil
	default:
		profile, err := cfg.BLEProfile()
		if err != nil {
			return nil, nil, fmt.Errorf("profile: %w", err)
		}
		b, err := openBackend(cfg)
		if err != nil {
			return nil, nil, err
		}
		return transport.NewBLEController(b.platform, profile, cfg.SessionOptions()), b.close, nil
	}
}
