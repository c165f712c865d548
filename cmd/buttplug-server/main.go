/*
Command buttplug-server runs the Buttplug protocol server (spec.md §6):
it loads the Device Configuration DB, wires whichever Hardware Managers
the flags enable, and serves the client-facing websocket endpoint (plus,
optionally, a device-facing websocket endpoint and a metrics endpoint)
until signalled to stop.

Grounded on kryptco-kr's urfave/cli daemon entrypoint shape (flag parsing
-> construct -> run -> clean exit), generalized from cli v1's Command
list to cli v2's Flags-on-a-single-Action form since this binary has no
subcommands, only a flag surface.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/devicemanager"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager/ble"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager/serial"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager/usbhid"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager/vendorhttp"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager/wsdevice"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager/xinput"
	"github.com/buttplugio/buttplug-sub000/metrics"
	"github.com/buttplugio/buttplug-sub000/protocol"
	"github.com/buttplugio/buttplug-sub000/server"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	app := &cli.App{
		Name:  "buttplug-server",
		Usage: "run a Buttplug protocol server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server-name", Value: "buttplug-server"},
			&cli.IntFlag{Name: "websocket-port", Value: 12345},
			&cli.BoolFlag{Name: "websocket-use-all-interfaces"},
			&cli.StringFlag{Name: "device-config-file"},
			&cli.StringFlag{Name: "user-device-config-file"},
			&cli.IntFlag{Name: "max-ping-time", Value: 0, Usage: "milliseconds; 0 disables the ping watchdog"},
			&cli.BoolFlag{Name: "allow-raw"},
			&cli.BoolFlag{Name: "allow-concurrent-clients"},
			&cli.BoolFlag{Name: "use-bluetooth-le"},
			&cli.BoolFlag{Name: "use-serial"},
			&cli.BoolFlag{Name: "use-hid"},
			&cli.BoolFlag{Name: "use-lovense-dongle"},
			&cli.BoolFlag{Name: "use-xinput"},
			&cli.BoolFlag{Name: "use-lovense-connect"},
			&cli.StringFlag{Name: "lovense-connect-url", Value: "http://127.0.0.1:20010"},
			&cli.BoolFlag{Name: "use-device-websocket-server"},
			&cli.IntFlag{Name: "device-websocket-server-port", Value: 54817},
			&cli.IntFlag{Name: "metrics-port", Value: 0, Usage: "0 disables the /metrics endpoint"},
		},
		Action: run(log),
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("fatal")
		os.Exit(1)
	}
}

func run(log *logrus.Entry) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadDeviceConfig(c)
		if err != nil {
			return err
		}

		var cfgMu sync.RWMutex
		cfgSource := func() *deviceconfig.DeviceConfiguration {
			cfgMu.RLock()
			defer cfgMu.RUnlock()
			return cfg
		}

		registry := protocol.NewRegistry()
		protocol.RegisterBuiltins(registry)

		hws := buildHardwareManagers(c, cfgSource, log)
		if len(hws) == 0 {
			log.Warn("no hardware managers enabled; pass --use-bluetooth-le or another --use-* flag")
		}

		devices := devicemanager.New(cfg, registry, log, hws...)

		opts := server.Options{
			ServerName:             c.String("server-name"),
			MaxPingTime:            msToDuration(c.Int("max-ping-time")),
			AllowConcurrentClients: c.Bool("allow-concurrent-clients"),
			AllowRaw:               c.Bool("allow-raw"),
		}
		srv := server.New(opts, devices, log)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); devices.Run(ctx) }()
		go func() { defer wg.Done(); srv.Run(ctx) }()

		if err := devices.StartScanning(ctx); err != nil {
			log.WithError(err).Warn("StartScanning returned an error for at least one hardware manager")
		}

		bindHost := "127.0.0.1"
		if c.Bool("websocket-use-all-interfaces") {
			bindHost = "0.0.0.0"
		}

		servers := []*http.Server{{
			Addr:    fmt.Sprintf("%s:%d", bindHost, c.Int("websocket-port")),
			Handler: srv.Handler(),
		}}

		if wsm, ok := findWsdevice(hws); ok {
			servers = append(servers, &http.Server{
				Addr:    fmt.Sprintf("%s:%d", bindHost, c.Int("device-websocket-server-port")),
				Handler: wsm,
			})
		}

		if port := c.Int("metrics-port"); port != 0 {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			servers = append(servers, &http.Server{Addr: fmt.Sprintf("%s:%d", bindHost, port), Handler: mux})
		}

		errs := make(chan error, len(servers))
		for _, s := range servers {
			s := s
			go func() {
				log.WithField("addr", s.Addr).Info("listening")
				if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errs <- fmt.Errorf("%s: %w", s.Addr, err)
				}
			}()
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-sig:
			log.Info("shutting down")
		case err := <-errs:
			cancel()
			return err
		}

		cancel()
		for _, s := range servers {
			s.Shutdown(context.Background())
		}
		_ = devices.StopScanning()
		wg.Wait()
		return nil
	}
}

func loadDeviceConfig(c *cli.Context) (*deviceconfig.DeviceConfiguration, error) {
	var cfg *deviceconfig.DeviceConfiguration
	var err error
	if path := c.String("device-config-file"); path != "" {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("reading device config: %w", readErr)
		}
		cfg, err = deviceconfig.Load(data)
	} else {
		cfg, err = deviceconfig.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading device config: %w", err)
	}

	if path := c.String("user-device-config-file"); path != "" {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("reading user device config: %w", readErr)
		}
		uc, parseErr := deviceconfig.LoadUserConfiguration(data)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing user device config: %w", parseErr)
		}
		cfg, err = cfg.WithUserConfiguration(uc)
		if err != nil {
			return nil, fmt.Errorf("applying user device config: %w", err)
		}
	}
	return cfg, nil
}

func buildHardwareManagers(c *cli.Context, cfgSource func() *deviceconfig.DeviceConfiguration, log *logrus.Entry) []hardwaremanager.Manager {
	var hws []hardwaremanager.Manager

	if c.Bool("use-bluetooth-le") {
		hws = append(hws, ble.New(cfgSource, log.WithField("hw", "ble")))
	}
	if c.Bool("use-serial") {
		hws = append(hws, serial.New(noSerialPorts, nil, cfgSource, log.WithField("hw", "serial")))
	}
	if c.Bool("use-hid") || c.Bool("use-lovense-dongle") {
		hws = append(hws, usbhid.New(noHIDDevices, nil, cfgSource, log.WithField("hw", "usbhid")))
	}
	if c.Bool("use-xinput") {
		hws = append(hws, xinput.New(noXInputSlots, nil, cfgSource, log.WithField("hw", "xinput")))
	}
	if c.Bool("use-lovense-connect") {
		hws = append(hws, vendorhttp.New(c.String("lovense-connect-url"), cfgSource, log.WithField("hw", "vendorhttp")))
	}
	if c.Bool("use-device-websocket-server") {
		hws = append(hws, wsdevice.New(cfgSource, log.WithField("hw", "wsdevice")))
	}
	return hws
}

// noSerialPorts, noHIDDevices, and noXInputSlots are the Enumerator
// defaults when no host-specific library is wired in (DESIGN.md): they
// report nothing found rather than failing, so --use-serial/--use-hid/
// --use-xinput remain harmless no-ops until a real Opener/Enumerator
// pair is supplied in its place.
func noSerialPorts() ([]string, error)           { return nil, nil }
func noHIDDevices() ([]usbhid.DeviceInfo, error) { return nil, nil }
func noXInputSlots() ([]int, error)              { return nil, nil }

func findWsdevice(hws []hardwaremanager.Manager) (*wsdevice.Manager, bool) {
	for _, h := range hws {
		if wsm, ok := h.(*wsdevice.Manager); ok {
			return wsm, true
		}
	}
	return nil, false
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
