package protocol

import (
	"fmt"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
)

// kiirooHandler frames a quantised step into the single-byte Kiiroo
// command packet the teacher's KiirooCmd passed straight through
// (command range 0-4 there mapped a position/event enum; here Scalar and
// Linear steps are framed into the same single-byte packet shape).
type kiirooHandler struct {
	hw  Hardware
	def deviceconfig.DeviceDefinition
}

// NewKiiroo registers the Kiiroo protocol under protocolName.
func NewKiiroo(protocolName string, r *Registry) {
	r.Register(protocolName, func(hw Hardware, def deviceconfig.DeviceDefinition) (Handler, error) {
		return &kiirooHandler{hw: hw, def: def}, nil
	})
}

func (k *kiirooHandler) Initialize() error { return nil }

func (k *kiirooHandler) Handle(cmd Command) ([]HardwareWrite, error) {
	switch cmd.Kind {
	case "Scalar":
		return []HardwareWrite{{Endpoint: "cmd", Data: []byte{byte(cmd.Step)}}}, nil
	case "Linear":
		return []HardwareWrite{{Endpoint: "cmd", Data: []byte{byte(cmd.PositionStep)}}}, nil
	case "Stop":
		return []HardwareWrite{{Endpoint: "cmd", Data: []byte{0}}}, nil
	}
	return nil, fmt.Errorf("kiiroo: unsupported command kind %q", cmd.Kind)
}

func (k *kiirooHandler) Read(req SensorRead) (SensorReading, error) {
	return SensorReading{}, fmt.Errorf("kiiroo: device has no sensors")
}

func (k *kiirooHandler) OnHardwareEvent(endpoint string, data []byte) (SensorReading, bool) {
	return SensorReading{}, false
}

func (k *kiirooHandler) NeedsFullLinearResend() bool      { return false }
func (k *kiirooHandler) AllowsDuplicateSuppression() bool { return true }
