/*
Package ble implements a hardwaremanager.Manager over Bluetooth LE
(spec.md §4.4's primary transport). Scanning, connecting, and GATT
writes/reads are grounded on other_examples' srgg-blecli internal/device
package (ble_connection.go, ble_device.go): scan via ble.Scan with an
advertisement handler, connect via ble.Dial, discover the GATT profile
once, then read/write by characteristic.

The Device Configuration DB's per-protocol BLESpecifier carries a
Characteristics map (service UUID -> endpoint alias -> characteristic
UUID, spec.md §4.5); this package resolves a discovered advertisement's
protocol match itself (the same Matcher devicemanager uses, via
ConfigSource) so the protocol.Hardware handle it hands back already
knows which characteristic "Vibrate0"/"Rotate0"/... refers to.
*/
package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

// ConfigSource returns the Device Configuration DB snapshot currently in
// effect, mirroring devicemanager.Manager's own copy-on-write config
// pointer so both layers always match against the same rules.
type ConfigSource func() *deviceconfig.DeviceConfiguration

// Manager scans for BLE advertisements and resolves them to
// protocol.Hardware handles on connect.
type Manager struct {
	cfg ConfigSource
	log *logrus.Entry

	mu      sync.Mutex
	scanCtx context.Context
	cancel  context.CancelFunc
	events  chan hardwaremanager.Event
}

// New constructs a BLE hardwaremanager.Manager. cfg is consulted on every
// advertisement to resolve a protocol match and its characteristic
// table; it may change out from under a running scan (SetConfiguration
// style), which is why it is a func, not a snapshot.
func New(cfg ConfigSource, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{cfg: cfg, log: log, events: make(chan hardwaremanager.Event, 32)}
}

func (m *Manager) Name() string { return "ble" }

func (m *Manager) Events() <-chan hardwaremanager.Event { return m.events }

// StartScanning begins continuous BLE discovery until StopScanning is
// called or ctx is cancelled. Idempotent: a second call while already
// scanning is a no-op.
func (m *Manager) StartScanning(ctx context.Context) error {
	m.mu.Lock()
	if m.scanCtx != nil {
		m.mu.Unlock()
		return nil
	}
	scanCtx, cancel := context.WithCancel(ctx)
	m.scanCtx = scanCtx
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		err := ble.Scan(scanCtx, true, m.onAdvertisement, nil)
		m.mu.Lock()
		m.scanCtx = nil
		m.cancel = nil
		m.mu.Unlock()
		if err != nil && err != context.Canceled {
			m.log.WithError(err).Warn("ble scan ended")
		}
		select {
		case m.events <- hardwaremanager.Event{ScanningFinished: true}:
		default:
			m.log.Warn("event buffer full, dropping scanning-finished signal")
		}
	}()
	return nil
}

// StopScanning halts discovery without touching already-connected
// devices.
func (m *Manager) StopScanning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

func (m *Manager) onAdvertisement(adv ble.Advertisement) {
	ad := deviceconfig.AdvertisementData{
		Name:     adv.LocalName(),
		Services: uuidsToStrings(adv.Services()),
	}
	if data := adv.ManufacturerData(); len(data) >= 2 {
		companyID := uint16(data[0]) | uint16(data[1])<<8
		ad.ManufacturerData = map[uint16][]byte{companyID: data[2:]}
	}

	cfg := m.cfg()
	if cfg == nil {
		return
	}
	match, ok := cfg.Matcher().Match(ad)
	if !ok {
		return
	}
	proto, ok := cfg.Protocols[match.Protocol]
	if !ok || proto.BLE == nil {
		return
	}
	characteristics := proto.BLE.Characteristics

	addr := adv.Addr().String()
	select {
	case m.events <- hardwaremanager.Event{Discovered: &hardwaremanager.Discovered{
		Address: addr,
		Data:    ad,
		Connect: func(ctx context.Context) (protocol.Hardware, error) {
			return connect(ctx, adv.Addr(), characteristics)
		},
	}}:
	default:
		m.log.WithField("address", addr).Warn("event buffer full, dropping discovery")
	}
}

func uuidsToStrings(uuids []ble.UUID) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = u.String()
	}
	return out
}

// hardware is the connected protocol.Hardware handle for one BLE
// peripheral: endpoint writes/reads resolve to a GATT characteristic
// through the protocol's Characteristics table, normalised once at
// connect time.
type hardware struct {
	client ble.Client
	chars  map[string]*ble.Characteristic // endpoint alias -> characteristic
}

const connectTimeout = 10 * time.Second

func connect(ctx context.Context, addr ble.Addr, characteristics map[string]map[string]string) (*hardware, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := ble.Dial(dialCtx, addr)
	if err != nil {
		return nil, fmt.Errorf("ble dial %s: %w", addr, err)
	}
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return nil, fmt.Errorf("ble discover profile %s: %w", addr, err)
	}

	byUUID := map[string]*ble.Characteristic{}
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			byUUID[normalizeUUID(c.UUID.String())] = c
		}
	}

	chars := map[string]*ble.Characteristic{}
	for _, endpoints := range characteristics {
		for endpoint, charUUID := range endpoints {
			if c, ok := byUUID[normalizeUUID(charUUID)]; ok {
				chars[endpoint] = c
			}
		}
	}
	return &hardware{client: client, chars: chars}, nil
}

func normalizeUUID(u string) string {
	return strings.ToLower(strings.ReplaceAll(u, "-", ""))
}

func (h *hardware) Write(w protocol.HardwareWrite) error {
	c, ok := h.chars[w.Endpoint]
	if !ok {
		return fmt.Errorf("ble: no characteristic mapped for endpoint %q", w.Endpoint)
	}
	return h.client.WriteCharacteristic(c, w.Data, !w.WriteWithResponse)
}

func (h *hardware) Read(endpoint string, expectedLength int) ([]byte, error) {
	c, ok := h.chars[endpoint]
	if !ok {
		return nil, fmt.Errorf("ble: no characteristic mapped for endpoint %q", endpoint)
	}
	return h.client.ReadCharacteristic(c)
}
