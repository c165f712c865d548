/*
Package protocol implements the Device Protocol Dispatch layer (spec.md
§4.6): a registry of vendor protocol handlers, each translating
canonical feature commands into hardware writes for one device family.

Grounded on funjack-golibbuttplug's device.go, which already has a flat
per-command-kind dispatch (IsSupported/Supported, Send* methods) for a
single fixed client-side device type; generalized here into a pluggable,
runtime-registrable server-side handler interface.
*/
package protocol

import (
	"fmt"
	"sync"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
)

// HardwareWrite is one write a Handler wants performed against the
// underlying hardware handle. Endpoint names the logical channel (BLE
// characteristic alias, HID report id, etc.) as declared in the device's
// configuration; Data is the raw bytes to write.
type HardwareWrite struct {
	Endpoint        string
	Data            []byte
	WriteWithResponse bool
}

// Command is the canonical, already-validated-and-quantised instruction
// the Generic Command Manager hands to a Handler. Which of the fields
// below are meaningful depends on Kind.
type Command struct {
	Kind         string // "Scalar", "Rotate", "Linear", "Stop"
	FeatureIndex uint32
	ActuatorType string

	// Scalar/Rotate
	Step uint32

	// Rotate direction
	Clockwise bool

	// Linear
	PositionStep uint32
	DurationMs   uint32
}

// SensorRead is the canonical request for Handler.Read.
type SensorRead struct {
	SensorIndex uint32
	SensorType  string
}

// SensorReading is a translated response, either from a direct read or
// an unsolicited notification decoded by OnHardwareEvent.
type SensorReading struct {
	SensorIndex uint32
	SensorType  string
	Data        []int32
}

// Hardware is the narrow surface a Handler needs from a hardware
// instance: write one endpoint, read one endpoint. Hardware Managers
// supply concrete implementations; protocol handlers never see
// transport-specific types.
type Hardware interface {
	Write(w HardwareWrite) error
	Read(endpoint string, expectedLength int) ([]byte, error)
}

// Handler is a protocol's server-side behaviour: translating canonical
// commands into HardwareWrites and decoding hardware bytes back into
// SensorReadings.
type Handler interface {
	// Initialize runs the device's wake/handshake sequence, if any
	// (e.g. Lovense "DeviceType;" query).
	Initialize() error

	// Handle translates a canonical command into zero or more hardware
	// writes. Pure translation: side effects (the actual write) belong
	// to the caller.
	Handle(cmd Command) ([]HardwareWrite, error)

	// Read issues a sensor read and translates the response.
	Read(req SensorRead) (SensorReading, error)

	// OnHardwareEvent decodes an unsolicited notification from the
	// hardware into a SensorReading, if it corresponds to one.
	OnHardwareEvent(endpoint string, data []byte) (SensorReading, bool)

	// NeedsFullLinearResend reports whether this protocol requires
	// every LinearCmd to reach the wire even when it duplicates the
	// cached (position, duration) pair (spec.md §4.7 item 5).
	NeedsFullLinearResend() bool

	// AllowsDuplicateSuppression reports whether identical consecutive
	// Scalar/Rotate commands addressing the same feature may be
	// dropped rather than rewritten to hardware (spec.md §4.7 item 4).
	AllowsDuplicateSuppression() bool
}

// Factory constructs a Handler for one matched device instance.
type Factory func(hw Hardware, def deviceconfig.DeviceDefinition) (Handler, error)

// Registry is a runtime-registrable ProtocolName -> Factory map (spec.md
// §4.6: "not a closed set").
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry. Callers register builtin and
// custom handlers via Register before device discovery begins.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the factory for protocolName.
func (r *Registry) Register(protocolName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[protocolName] = f
}

// Build instantiates a Handler for the named protocol. A protocol
// unknown to the registry returns an error; callers must treat this as
// "ignore this configuration entry with a warning" per spec.md §4.6,
// not a fatal condition.
func (r *Registry) Build(protocolName string, hw Hardware, def deviceconfig.DeviceDefinition) (Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[protocolName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("protocol dispatch: no handler registered for protocol %q", protocolName)
	}
	return f(hw, def)
}

// Has reports whether a factory is registered for protocolName.
func (r *Registry) Has(protocolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[protocolName]
	return ok
}
