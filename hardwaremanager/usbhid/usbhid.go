/*
Package usbhid implements a hardwaremanager.Manager over USB HID vendor
dongles (spec.md §4.4's sixth transport: some Kiiroo-era hardware ships
a USB receiver that shows up as a HID device rather than Bluetooth).
No HID library appears anywhere in the retrieved pack, so this package
is built against a small internal Device seam: enumerate by vendor/
product id, open, then write/read fixed-size reports. Wiring a real
library (karalabe/hid, GoodiesHQ/hidapi-go) means implementing Device
over it and an Enumerator that calls its device-list function — a
one-file adapter, not a change to this package.
*/
package usbhid

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

// DeviceInfo describes one enumerated HID device.
type DeviceInfo struct {
	Path      string
	VendorID  uint16
	ProductID uint16
}

// Device is the seam a real HID implementation fills in: fixed-size
// report read/write.
type Device interface {
	WriteReport(data []byte) error
	ReadReport(expectedLength int) ([]byte, error)
	Close() error
}

// Enumerator lists currently attached HID devices.
type Enumerator func() ([]DeviceInfo, error)

// Opener opens an enumerated device by path.
type Opener func(path string) (Device, error)

const pollInterval = 3 * time.Second

// Manager periodically enumerates HID devices and offers the new ones
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

// New constructs a usbhid Manager.
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

func (m *Manager) Name() string { return "usbhid" }

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
	devices, err := m.enumerate()
	if err != nil {
		m.log.WithError(err).Debug("usbhid enumeration failed")
		return
	}
	cfg := m.cfg()
	if cfg == nil {
		return
	}
	for _, dev := range devices {
		m.mu.Lock()
		seen := m.known[dev.Path]
		m.known[dev.Path] = true
		m.mu.Unlock()
		if seen {
			continue
		}
		ad := deviceconfig.AdvertisementData{HIDVendorID: dev.VendorID, HIDProductID: dev.ProductID}
		if _, ok := cfg.Matcher().Match(ad); !ok {
			continue
		}
		path := dev.Path
		select {
		case m.events <- hardwaremanager.Event{Discovered: &hardwaremanager.Discovered{
			Address: path,
			Data:    ad,
			Connect: func(ctx context.Context) (protocol.Hardware, error) {
				d, err := m.open(path)
				if err != nil {
					return nil, fmt.Errorf("usbhid: open %s: %w", path, err)
				}
				return &hardware{dev: d}, nil
			},
		}}:
		default:
			m.log.Warn("event buffer full, dropping usbhid discovery")
		}
	}
}

// hardware is the connected protocol.Hardware handle for one HID
// device: every endpoint maps to the same fixed-size report channel,
// since HID vendor dongles in this family address the whole device with
// one report, not per-feature sub-channels.
type hardware struct {
	mu  sync.Mutex
	dev Device
}

func (h *hardware) Write(w protocol.HardwareWrite) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev.WriteReport(w.Data)
}

func (h *hardware) Read(endpoint string, expectedLength int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if expectedLength <= 0 {
		expectedLength = 64
	}
	return h.dev.ReadReport(expectedLength)
}
