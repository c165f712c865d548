/*
Package simulated provides a scriptable, in-process HardwareManager used
by server scenario tests and by operators wanting a "virtual vibrator"
with no physical hardware attached (spec.md §8 scenario 2).

Grounded on the teacher's buttplugtest package: that package scripts a
fake *server* a client connects to (InitialDevices, AddDevice,
RemoveDevice, a recording Conn). This package scripts a fake *hardware
layer* the real server's Device Manager discovers through instead,
reusing the same "predefine a device, then script add/remove calls"
shape.
*/
package simulated

import (
	"context"
	"sync"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/hardwaremanager"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

// Device is one scripted virtual device: its advertisement data plus
// the canned responses its Hardware stub gives to writes/reads.
type Device struct {
	Address string
	Data    deviceconfig.AdvertisementData

	mu     sync.Mutex
	writes []protocol.HardwareWrite
	reads  map[string][]byte
}

// Writes returns every HardwareWrite this device has received so far,
// for test assertions.
func (d *Device) Writes() []protocol.HardwareWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.HardwareWrite, len(d.writes))
	copy(out, d.writes)
	return out
}

// SetRead scripts the bytes a future Read(endpoint, ...) call returns.
func (d *Device) SetRead(endpoint string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reads == nil {
		d.reads = map[string][]byte{}
	}
	d.reads[endpoint] = data
}

func (d *Device) Write(w protocol.HardwareWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, w)
	return nil
}

func (d *Device) Read(endpoint string, expectedLength int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads[endpoint], nil
}

// Manager is a scriptable hardwaremanager.Manager: tests call Discover
// and Lose to drive discovery/disconnect events exactly as a real
// transport's scan callback would.
type Manager struct {
	name   string
	mu     sync.Mutex
	events chan hardwaremanager.Event
}

// New returns an empty simulated hardware manager named name (e.g.
// "simulated"), which Name reports; each Device's address is its own.
func New(name string) *Manager {
	return &Manager{name: name, events: make(chan hardwaremanager.Event, 32)}
}

func (m *Manager) Name() string { return m.name }

func (m *Manager) StartScanning(ctx context.Context) error { return nil }
func (m *Manager) StopScanning() error                     { return nil }

func (m *Manager) Events() <-chan hardwaremanager.Event { return m.events }

// Discover injects a discovery event for dev, as if the transport had
// just observed its advertisement. The returned protocol.Hardware
// handle is dev itself, so test code can inspect dev.Writes() after
// exercising the server.
func (m *Manager) Discover(dev *Device) {
	m.events <- hardwaremanager.Event{
		Discovered: &hardwaremanager.Discovered{
			Address: dev.Address,
			Data:    dev.Data,
			Connect: func(ctx context.Context) (protocol.Hardware, error) {
				return dev, nil
			},
		},
	}
}

// Lose injects a disconnect event for the device at address.
func (m *Manager) Lose(address string) {
	m.events <- hardwaremanager.Event{LostAddress: address}
}

// FinishScanning injects a scanning-finished signal, as if this
// transport's scan had timed out on its own.
func (m *Manager) FinishScanning() {
	m.events <- hardwaremanager.Event{ScanningFinished: true}
}
