package protocol

import (
	"fmt"
	"strings"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
)

// lovenseHandler speaks Lovense's ASCII semicolon-terminated command
// protocol (grounded on the teacher's LovenseCmd, which passed an opaque
// command string straight through; here the Generic Command Manager's
// quantised step is framed into the vendor's actual wire syntax).
type lovenseHandler struct {
	hw          Hardware
	def         deviceconfig.DeviceDefinition
	deviceType  string
}

// NewLovense registers the Lovense protocol under protocolName.
func NewLovense(protocolName string, r *Registry) {
	r.Register(protocolName, func(hw Hardware, def deviceconfig.DeviceDefinition) (Handler, error) {
		return &lovenseHandler{hw: hw, def: def}, nil
	})
}

func (l *lovenseHandler) Initialize() error {
	err := l.hw.Write(HardwareWrite{Endpoint: "tx", Data: []byte("DeviceType;"), WriteWithResponse: false})
	if err != nil {
		return fmt.Errorf("lovense: device type query: %w", err)
	}
	return nil
}

func (l *lovenseHandler) Handle(cmd Command) ([]HardwareWrite, error) {
	var frame string
	switch cmd.Kind {
	case "Scalar":
		switch cmd.ActuatorType {
		case "Rotate":
			frame = fmt.Sprintf("Rotate:%d;", cmd.Step)
		default:
			frame = fmt.Sprintf("Vibrate%d:%d;", cmd.FeatureIndex+1, cmd.Step)
		}
	case "Rotate":
		frame = fmt.Sprintf("Rotate:%d;", cmd.Step)
	case "Linear":
		frame = fmt.Sprintf("Linear:%d,%d;", cmd.PositionStep, cmd.DurationMs)
	case "Stop":
		frame = "Stop;"
	default:
		return nil, fmt.Errorf("lovense: unsupported command kind %q", cmd.Kind)
	}
	return []HardwareWrite{{Endpoint: "tx", Data: []byte(frame)}}, nil
}

func (l *lovenseHandler) Read(req SensorRead) (SensorReading, error) {
	var frame string
	switch req.SensorType {
	case "Battery":
		frame = "Battery;"
	default:
		return SensorReading{}, fmt.Errorf("lovense: unsupported sensor type %q", req.SensorType)
	}
	if err := l.hw.Write(HardwareWrite{Endpoint: "tx", Data: []byte(frame)}); err != nil {
		return SensorReading{}, err
	}
	resp, err := l.hw.Read("rx", 0)
	if err != nil {
		return SensorReading{}, err
	}
	return l.decodeBattery(req.SensorIndex, resp)
}

func (l *lovenseHandler) decodeBattery(index uint32, resp []byte) (SensorReading, error) {
	s := strings.TrimSuffix(string(resp), ";")
	var level int
	if _, err := fmt.Sscanf(s, "%d", &level); err != nil {
		return SensorReading{}, fmt.Errorf("lovense: malformed battery reply %q", resp)
	}
	return SensorReading{SensorIndex: index, SensorType: "Battery", Data: []int32{int32(level)}}, nil
}

func (l *lovenseHandler) OnHardwareEvent(endpoint string, data []byte) (SensorReading, bool) {
	if endpoint != "rx" {
		return SensorReading{}, false
	}
	s := string(data)
	if !strings.Contains(s, ";") {
		return SensorReading{}, false
	}
	if l.deviceType == "" {
		l.deviceType = strings.TrimSuffix(s, ";")
		return SensorReading{}, false
	}
	reading, err := l.decodeBattery(0, data)
	if err != nil {
		return SensorReading{}, false
	}
	return reading, true
}

func (l *lovenseHandler) NeedsFullLinearResend() bool      { return true }
func (l *lovenseHandler) AllowsDuplicateSuppression() bool { return true }
