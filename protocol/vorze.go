package protocol

import (
	"fmt"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
)

// vorzeHandler frames rotation commands into the Vorze A10 Cyclone's
// two-byte (speed, direction) packet, grounded on the teacher's
// VorzeA10CycloneCmd{Speed, Clockwise} shape.
type vorzeHandler struct {
	hw  Hardware
	def deviceconfig.DeviceDefinition
}

// NewVorze registers the Vorze A10 Cyclone protocol under protocolName.
func NewVorze(protocolName string, r *Registry) {
	r.Register(protocolName, func(hw Hardware, def deviceconfig.DeviceDefinition) (Handler, error) {
		return &vorzeHandler{hw: hw, def: def}, nil
	})
}

func (v *vorzeHandler) Initialize() error { return nil }

func (v *vorzeHandler) Handle(cmd Command) ([]HardwareWrite, error) {
	switch cmd.Kind {
	case "Rotate":
		dir := byte(0)
		if cmd.Clockwise {
			dir = 1
		}
		return []HardwareWrite{{Endpoint: "tx", Data: []byte{byte(cmd.Step), dir}}}, nil
	case "Stop":
		return []HardwareWrite{{Endpoint: "tx", Data: []byte{0, 0}}}, nil
	}
	return nil, fmt.Errorf("vorze: unsupported command kind %q", cmd.Kind)
}

func (v *vorzeHandler) Read(req SensorRead) (SensorReading, error) {
	return SensorReading{}, fmt.Errorf("vorze: device has no sensors")
}

func (v *vorzeHandler) OnHardwareEvent(endpoint string, data []byte) (SensorReading, bool) {
	return SensorReading{}, false
}

func (v *vorzeHandler) NeedsFullLinearResend() bool      { return false }
func (v *vorzeHandler) AllowsDuplicateSuppression() bool { return true }
