/*
Package hardwaremanager defines the transport-agnostic boundary between
the Device Manager and physical/virtual hardware (spec.md §4.4): a
HardwareManager discovers devices over one transport and hands back a
protocol.Hardware handle once a Device Configuration DB match selects a
protocol for it.

No pack repo defines an interface of exactly this shape; it is built
directly from spec.md §4.4, though srgg-blecli's internal/device package
(other_examples) shows the BLE-specific half of it (connect, subscribe,
write over go-ble/ble), reused in hardwaremanager/ble.
*/
package hardwaremanager

import (
	"context"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/protocol"
)

// Discovered is one discovery event: enough AdvertisementData to run
// the Device Configuration DB matcher, plus a factory that yields the
// protocol.Hardware handle once a protocol has been selected. Address
// must be stable for the lifetime of the physical device (BLE MAC, HID
// path, serial port name, ...).
type Discovered struct {
	Address string
	Data    deviceconfig.AdvertisementData
	Connect func(ctx context.Context) (protocol.Hardware, error)
}

// Manager is one transport's discovery/enumeration surface. Manager
// implementations must never block the caller of StartScanning; all
// discovery happens asynchronously and is reported via the channel
// returned from Events.
type Manager interface {
	// Name identifies this manager for logging ("ble", "usbhid", ...).
	Name() string

	// StartScanning begins (or continues) discovery. Idempotent.
	StartScanning(ctx context.Context) error

	// StopScanning halts discovery without disconnecting already
	// connected devices.
	StopScanning() error

	// Events returns the channel Discovered and Lost events are
	// delivered on. The same channel is returned on every call; callers
	// should subscribe once.
	Events() <-chan Event
}

// Event is one hardware lifecycle event from a Manager. Exactly one
// field is meaningful per event.
type Event struct {
	Discovered *Discovered
	LostAddress string

	// ScanningFinished reports this transport has stopped scanning on
	// its own (e.g. a platform scan timeout), independent of an explicit
	// StopScanning call (spec.md §4.4 scanning_finished_signal).
	ScanningFinished bool
}
