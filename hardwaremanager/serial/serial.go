/*
Package serial implements a hardwaremanager.Manager over USB-serial
ports (spec.md §4.4's fifth transport: devices like the older Vorze/
Fleshlight Launch hardware that predate BLE). No serial port library
appears anywhere in the retrieved pack (the nearest relative,
TinyGo's machine/usb HID descriptor code, is device-side firmware, not
a host-side library), so this package is built against a small internal
Port seam: io.ReadWriteCloser plus a Name(). Swapping in a real library
(go.bug.st/serial) means implementing Port over serial.Port and writing
an Enumerator that calls serial.GetPortsList — a one-file adapter, not a
change to this package.
*/
package serial

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

// Port is the seam a real serial port implementation fills in.
type Port interface {
	Name() string
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Enumerator lists the serial ports currently present on the host.
type Enumerator func() ([]string, error)

// Opener opens a named port.
type Opener func(name string, baudRate int) (Port, error)

const pollInterval = 3 * time.Second

// Manager periodically enumerates serial ports and offers the new ones
// as discoveries.
type Manager struct {
	enumerate Enumerator
	open      Opener
	cfg       func() *deviceconfig.DeviceConfiguration
	log       *logrus.Entry

	events chan hardwaremanager.Event

	mu     sync.Mutex
	cancel context.CancelFunc
	known  map[string]bool
}

// New constructs a serial Manager. enumerate lists candidate port names;
// open dials one at the baud rate the matched protocol's SerialSpecifier
// names.
func New(enumerate Enumerator, open Opener, cfg func() *deviceconfig.DeviceConfiguration, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		enumerate: enumerate,
		open:      open,
		cfg:       cfg,
		log:       log,
		events:    make(chan hardwaremanager.Event, 32),
		known:     map[string]bool{},
	}
}

func (m *Manager) Name() string { return "serial" }

func (m *Manager) Events() <-chan hardwaremanager.Event { return m.events }

func (m *Manager) StartScanning(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	scanCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		m.poll()
		for {
			select {
			case <-scanCtx.Done():
				m.mu.Lock()
				m.cancel = nil
				m.mu.Unlock()
				select {
				case m.events <- hardwaremanager.Event{ScanningFinished: true}:
				default:
				}
				return
			case <-ticker.C:
				m.poll()
			}
		}
	}()
	return nil
}

func (m *Manager) StopScanning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

func (m *Manager) poll() {
	ports, err := m.enumerate()
	if err != nil {
		m.log.WithError(err).Debug("serial enumeration failed")
		return
	}
	cfg := m.cfg()
	if cfg == nil {
		return
	}
	for _, port := range ports {
		m.mu.Lock()
		seen := m.known[port]
		m.known[port] = true
		m.mu.Unlock()
		if seen {
			continue
		}
		ad := deviceconfig.AdvertisementData{SerialPort: port}
		match, ok := cfg.Matcher().Match(ad)
		if !ok {
			continue
		}
		baud := 115200
		if proto, ok := cfg.Protocols[match.Protocol]; ok && proto.Serial != nil && proto.Serial.BaudRate != 0 {
			baud = proto.Serial.BaudRate
		}
		portName := port
		select {
		case m.events <- hardwaremanager.Event{Discovered: &hardwaremanager.Discovered{
			Address: portName,
			Data:    ad,
			Connect: func(ctx context.Context) (protocol.Hardware, error) {
				p, err := m.open(portName, baud)
				if err != nil {
					return nil, fmt.Errorf("serial: open %s: %w", portName, err)
				}
				return &hardware{port: p}, nil
			},
		}}:
		default:
			m.log.Warn("event buffer full, dropping serial discovery")
		}
	}
}

// hardware is the connected protocol.Hardware handle for one serial
// port: the whole port is treated as a single "serial" endpoint, since
// a serial link has no addressable sub-channels.
type hardware struct {
	mu   sync.Mutex
	port Port
}

func (h *hardware) Write(w protocol.HardwareWrite) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.port.Write(w.Data)
	return err
}

func (h *hardware) Read(endpoint string, expectedLength int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if expectedLength <= 0 {
		expectedLength = 64
	}
	buf := make([]byte, expectedLength)
	n, err := h.port.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
