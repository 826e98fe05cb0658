package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultScanTimeout bounds every scan cycle.
const DefaultScanTimeout = 8 * time.Second

// ErrScanInProgress is returned when Start is called during a scan.
var ErrScanInProgress = errors.New("ble: scan already in progress")

// ScanListener receives scan results. OnDeviceFound is called at most once
// per address per cycle and OnScanFinished exactly once per cycle.
type ScanListener interface {
	OnDeviceFound(d Device)
	OnScanFinished()
}

// Scanner runs bounded scans on a ScanPlatform. A cycle ends when its
// timeout fires, when Stop is called or when the platform aborts the scan,
// whichever comes first.
type Scanner struct {
	platform ScanPlatform
	timeout  time.Duration

	mu       sync.Mutex
	listener ScanListener
	scanning bool
	cycle    uint64
	seen     map[string]bool
	timer    *time.Timer
}

// NewScanner creates a scanner. A non-positive timeout selects
// DefaultScanTimeout.
func NewScanner(platform ScanPlatform, timeout time.Duration) *Scanner {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	return &Scanner{platform: platform, timeout: timeout}
}

// SetListener installs the scan listener.
func (s *Scanner) SetListener(l ScanListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Scanning reports whether a cycle is running.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// Start begins a scan cycle. It returns ErrScanInProgress if one is running.
func (s *Scanner) Start() error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		slog.Debug("[SCAN] already scanning")
		return ErrScanInProgress
	}
	s.scanning = true
	s.cycle++
	cycle := s.cycle
	s.seen = make(map[string]bool)
	s.armTimeout(cycle)
	s.mu.Unlock()

	slog.Debug("[SCAN] starting scan", "timeout", s.timeout)
	err := s.platform.StartScan(
		func(d Device) { s.onResult(cycle, d) },
		func(err error) {
			slog.Error("[SCAN] scan failed", "error", err)
			s.finish(cycle)
		},
	)
	if err != nil {
		s.mu.Lock()
		if s.cycle == cycle {
			s.scanning = false
			s.stopTimeout()
		}
		s.mu.Unlock()
		return fmt.Errorf("ble: start scan: %w", err)
	}
	return nil
}

// Stop ends the running cycle. It is a no-op when no scan is running.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		slog.Debug("[SCAN] scanning already stopped")
		return
	}
	cycle := s.cycle
	s.mu.Unlock()
	s.finish(cycle)
}

// armTimeout replaces any pending timeout. Caller must hold mu.
func (s *Scanner) armTimeout(cycle uint64) {
	s.stopTimeout()
	s.timer = time.AfterFunc(s.timeout, func() {
		slog.Debug("[SCAN] scan timed out")
		s.finish(cycle)
	})
}

// stopTimeout cancels the pending timeout. Caller must hold mu.
func (s *Scanner) stopTimeout() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scanner) onResult(cycle uint64, d Device) {
	s.mu.Lock()
	if !s.scanning || cycle != s.cycle || s.seen[d.Address] {
		s.mu.Unlock()
		return
	}
	s.seen[d.Address] = true
	l := s.listener
	s.mu.Unlock()

	slog.Debug("[SCAN] found device", "address", d.Address, "name", d.Name, "rssi", d.RSSI)
	if l != nil {
		l.OnDeviceFound(d)
	}
}

// finish ends cycle if it is still the running one.
func (s *Scanner) finish(cycle uint64) {
	s.mu.Lock()
	if !s.scanning || cycle != s.cycle {
		s.mu.Unlock()
		return
	}
	s.scanning = false
	s.stopTimeout()
	l := s.listener
	s.mu.Unlock()

	slog.Debug("[SCAN] stopping scan")
	if err := s.platform.StopScan(); err != nil {
		slog.Warn("[SCAN] failed to stop scan", "error", err)
	}
	if l != nil {
		l.OnScanFinished()
	}
}

// ScanForDevices runs one scan cycle and returns every device found.
// Cancelling ctx stops the scan early; the devices found so far are
// returned without error.
func ScanForDevices(ctx context.Context, platform ScanPlatform, timeout time.Duration) ([]Device, error) {
	var (
		mu      sync.Mutex
		devices []Device
	)
	done := make(chan struct{})
	var once sync.Once

	scanner := NewScanner(platform, timeout)
	scanner.SetListener(scanFuncs{
		found: func(d Device) {
			mu.Lock()
			defer mu.Unlock()
			devices = append(devices, d)
		},
		finished: func() { once.Do(func() { close(done) }) },
	})
	if err := scanner.Start(); err != nil {
		return nil, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		scanner.Stop()
	}

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}

type scanFuncs struct {
	found    func(Device)
	finished func()
}

func (f scanFuncs) OnDeviceFound(d Device) { f.found(d) }
func (f scanFuncs) OnScanFinished()        { f.finished() }
