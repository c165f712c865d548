package protocol

import (
	"fmt"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
)

// genericHandler writes one byte of raw step value per feature endpoint.
// It is the fallback for any protocol whose device configuration gives
// it endpoints but no vendor-specific framing: "Vibrate0", "Rotate0",
// "Linear0", numbered by the feature's own index across all features.
type genericHandler struct {
	hw  Hardware
	def deviceconfig.DeviceDefinition
}

// NewGeneric registers the generic single-byte-per-step protocol under
// protocolName.
func NewGeneric(protocolName string, r *Registry) {
	r.Register(protocolName, func(hw Hardware, def deviceconfig.DeviceDefinition) (Handler, error) {
		return &genericHandler{hw: hw, def: def}, nil
	})
}

func (g *genericHandler) Initialize() error { return nil }

func (g *genericHandler) endpoint(kind string, featureIndex uint32) string {
	return fmt.Sprintf("%s%d", kind, featureIndex)
}

// stopEndpointKind maps a feature's ActuatorType to the endpoint family
// (Vibrate/Rotate/Linear) Scalar/Rotate/Linear commands already write
// that feature to, so Stop lands on the same characteristic.
func stopEndpointKind(actuatorType string) string {
	switch actuatorType {
	case "Rotate", "RotateWithDirection":
		return "Rotate"
	case "PositionWithDuration":
		return "Linear"
	default:
		return "Vibrate"
	}
}

func (g *genericHandler) Handle(cmd Command) ([]HardwareWrite, error) {
	switch cmd.Kind {
	case "Scalar":
		return []HardwareWrite{{Endpoint: g.endpoint("Vibrate", cmd.FeatureIndex), Data: []byte{byte(cmd.Step)}}}, nil
	case "Rotate":
		dir := byte(0)
		if cmd.Clockwise {
			dir = 1
		}
		return []HardwareWrite{{Endpoint: g.endpoint("Rotate", cmd.FeatureIndex), Data: []byte{byte(cmd.Step), dir}}}, nil
	case "Linear":
		return []HardwareWrite{{Endpoint: g.endpoint("Linear", cmd.FeatureIndex), Data: []byte{byte(cmd.PositionStep)}}}, nil
	case "Stop":
		return []HardwareWrite{{Endpoint: g.endpoint(stopEndpointKind(cmd.ActuatorType), cmd.FeatureIndex), Data: []byte{0}}}, nil
	}
	return nil, fmt.Errorf("generic protocol: unsupported command kind %q", cmd.Kind)
}

func (g *genericHandler) Read(req SensorRead) (SensorReading, error) {
	data, err := g.hw.Read(fmt.Sprintf("%s%d", req.SensorType, req.SensorIndex), 1)
	if err != nil {
		return SensorReading{}, err
	}
	reading := make([]int32, len(data))
	for i, b := range data {
		reading[i] = int32(b)
	}
	return SensorReading{SensorIndex: req.SensorIndex, SensorType: req.SensorType, Data: reading}, nil
}

func (g *genericHandler) OnHardwareEvent(endpoint string, data []byte) (SensorReading, bool) {
	return SensorReading{}, false
}

func (g *genericHandler) NeedsFullLinearResend() bool      { return false }
func (g *genericHandler) AllowsDuplicateSuppression() bool { return true }
