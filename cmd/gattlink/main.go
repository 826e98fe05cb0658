package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/gattlink/internal/ble"
	"github.com/chaz8081/gattlink/internal/config"
	"github.com/chaz8081/gattlink/internal/transport"
)

// sendTimeout bounds the wait for a message to leave the device link.
const sendTimeout = 10 * time.Second

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gattlink/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	scan := flag.Bool("scan", false, "scan for nearby devices and exit")
	address := flag.String("address", "", "device address (overrides device.address)")
	transportName := flag.String("transport", "", "ble or socket (overrides transport)")
	send := flag.String("send", "", "message to send once connected")
	read := flag.Bool("read", false, "read the device's last message once connected (ble only)")
	listen := flag.Bool("listen", false, "stay connected and print incoming messages until interrupted")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fatal("config", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		} else {
			fmt.Printf("Wrote default config to %s\n", path)
		}
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if *address != "" {
		cfg.Device.Address = *address
	}
	if *transportName != "" {
		cfg.Transport = *transportName
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	setupLogging(cfg.LogLevel)
	printBanner(cfg)

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *scan {
		if err := runScan(ctx, cfg); err != nil {
			fatal("scan", err)
		}
		return
	}

	if cfg.Device.Address == "" {
		fatal("config", errors.New("no device address: set device.address or pass -address"))
	}

	ctrl, cleanup, err := newController(cfg)
	if err != nil {
		fatal("transport", err)
	}
	defer cleanup()

	if err := run(ctx, ctrl, cfg.Device.Address, *send, *read, *listen); err != nil {
		slog.Error("session ended with error", "error", err)
		ctrl.Close()
		cleanup()
		os.Exit(1)
	}
	ctrl.Close()
	fmt.Println("Goodbye!")
}

// run connects ctrl and performs the requested actions.
func run(ctx context.Context, ctrl transport.Controller, address, send string, read, listen bool) error {
	ev := newEvents()
	ctrl.Prepare(ev)

	if err := ctrl.Connect(address); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := ev.waitConfigured(ctx); err != nil {
		return err
	}

	if send != "" {
		if err := ctrl.Send(send); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if err := ev.waitSent(ctx, sendTimeout); err != nil {
			return err
		}
	}

	if read {
		bc, ok := ctrl.(*transport.BLEController)
		if !ok {
			return fmt.Errorf("read: not supported by the %s transport", ctrl.Kind())
		}
		if err := bc.RequestLastMessage(); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if !listen {
			if err := ev.waitReceived(ctx, sendTimeout); err != nil {
				return err
			}
		}
	}

	if listen {
		slog.Info("Listening for messages. Ctrl+C to quit.")
		select {
		case <-ctx.Done():
			slog.Info("Shutting down...")
		case <-ev.disconnected:
			return errors.New("device disconnected")
		}
	}
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("Config loaded", "path", defaultPath)
		return cfg, nil
	}

	slog.Info("No config file found, using defaults")
	return config.Default(), nil
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== gattlink ===")
	fmt.Printf("  Transport: %s\n", cfg.Transport)
	if cfg.Transport == "ble" {
		fmt.Printf("  Backend:   %s\n", cfg.Backend.Name)
		fmt.Printf("  Service:   %s\n", cfg.Profile.Service)
		fmt.Printf("  MTU:       %d (request: %t)\n", cfg.Profile.PreferredMTU, cfg.Session.RequestMTU)
	} else {
		fmt.Printf("  Network:   %s\n", cfg.Socket.Network)
	}
	if cfg.Device.Address != "" {
		fmt.Printf("  Device:    %s\n", cfg.Device.Address)
	}
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("================")
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

// runScan prints every device found in one scan cycle.
func runScan(ctx context.Context, cfg *config.Config) error {
	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.close()

	slog.Info("Scanning...", "timeout", cfg.Scan.Timeout)
	devices, err := ble.ScanForDevices(ctx, b.scanner, cfg.Scan.Timeout)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices found")
		return nil
	}
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %-40s %-24s %4d dBm\n", d.Address, name, d.RSSI)
	}
	return nil
}
