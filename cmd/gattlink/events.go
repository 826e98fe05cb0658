package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/gattlink/internal/transport"
)

// events prints controller events and lets main wait on milestones.
type events struct {
	configured   chan struct{}
	failed       chan error
	disconnected chan struct{}
	sent         chan string
	received     chan string

	configuredOnce   sync.Once
	disconnectedOnce sync.Once
}

func newEvents() *events {
	return &events{
		configured:   make(chan struct{}),
		failed:       make(chan error, 1),
		disconnected: make(chan struct{}),
		sent:         make(chan string, 16),
		received:     make(chan string, 16),
	}
}

var _ transport.Listener = (*events)(nil)

func (e *events) OnConnectionStateChanged(s transport.ConnectionState) {
	slog.Info("[CTRL] connection state", "state", s)
	switch {
	case s == transport.ConnectedConfigured:
		e.configuredOnce.Do(func() { close(e.configured) })
	case s == transport.Disconnected:
		e.disconnectedOnce.Do(func() { close(e.disconnected) })
	case s.IsError():
		e.fail(fmt.Errorf("connection failed: %s", s))
	}
}

func (e *events) OnMessageSent(m string) {
	slog.Debug("[CTRL] message sent", "message", m)
	select {
	case e.sent <- m:
	default:
	}
}

func (e *events) OnMessageReceived(m string) {
	fmt.Println(m)
	select {
	case e.received <- m:
	default:
	}
}

func (e *events) OnDeviceNameObtained(n string) {
	slog.Info("[CTRL] device name", "name", n)
}

func (e *events) OnError(f transport.ConnectionErrorFeedback) {
	slog.Error("[CTRL] error", "error", f)
	if f.State.IsError() {
		e.fail(f)
	}
}

// fail keeps the first failure; OnError runs before the matching state
// change, so its richer feedback wins.
func (e *events) fail(err error) {
	select {
	case e.failed <- err:
	default:
	}
}

// waitConfigured blocks until the link can carry messages.
func (e *events) waitConfigured(ctx context.Context) error {
	select {
	case <-e.configured:
		return nil
	case err := <-e.failed:
		return err
	case <-e.disconnected:
		return errors.New("disconnected before the link was configured")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *events) waitSent(ctx context.Context, timeout time.Duration) error {
	return waitOn(ctx, e.sent, timeout, "message to be sent")
}

func (e *events) waitReceived(ctx context.Context, timeout time.Duration) error {
	return waitOn(ctx, e.received, timeout, "a message from the device")
}

func waitOn(ctx context.Context, ch <-chan string, timeout time.Duration, what string) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out waiting for %s", what)
	case <-ctx.Done():
		return ctx.Err()
	}
}
