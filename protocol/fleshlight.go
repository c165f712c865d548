package protocol

import (
	"fmt"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/buttplugio/buttplug-sub000/message"
)

// fleshlightHandler frames stroke commands into the Fleshlight Launch FW
// 1.2 (position, speed) packet, grounded on the teacher's
// FleshlightLaunchFW12Cmd{Position, Speed}. The Generic Command Manager
// hands this handler a LinearCmd (position, duration); the handler
// recovers the vendor's (position, speed) shape via the inverse of
// message.FleshlightDurationMs, tracked per-handler since the formula is
// only invertible given the previous position.
type fleshlightHandler struct {
	hw           Hardware
	def          deviceconfig.DeviceDefinition
	prevPosition int
}

// NewFleshlight registers the Fleshlight Launch FW1.2 protocol under
// protocolName.
func NewFleshlight(protocolName string, r *Registry) {
	r.Register(protocolName, func(hw Hardware, def deviceconfig.DeviceDefinition) (Handler, error) {
		return &fleshlightHandler{hw: hw, def: def}, nil
	})
}

func (f *fleshlightHandler) Initialize() error { return nil }

func (f *fleshlightHandler) Handle(cmd Command) ([]HardwareWrite, error) {
	switch cmd.Kind {
	case "Linear":
		position := int(message.LinearPositionToFleshlight(float64(cmd.PositionStep) / 99.0))
		speed := speedFromDuration(f.prevPosition, position, cmd.DurationMs)
		f.prevPosition = position
		return []HardwareWrite{{Endpoint: "tx", Data: []byte{byte(position), byte(speed)}}}, nil
	case "Stop":
		return []HardwareWrite{{Endpoint: "tx", Data: []byte{byte(f.prevPosition), 0}}}, nil
	}
	return nil, fmt.Errorf("fleshlight: unsupported command kind %q", cmd.Kind)
}

// speedFromDuration searches the small integer speed domain [0,99] for
// the value whose FleshlightDurationMs best matches durationMs, since
// FleshlightDurationMs rounds and clamps its result and only whole
// speeds can be sent.
func speedFromDuration(prevPosition, position int, durationMs uint32) int {
	if durationMs == 0 {
		return 99
	}
	best, bestDiff := 0, ^uint32(0)
	for speed := 0; speed <= 99; speed++ {
		got := message.FleshlightDurationMs(prevPosition, position, speed)
		diff := got - durationMs
		if got < durationMs {
			diff = durationMs - got
		}
		if diff < bestDiff {
			bestDiff = diff
			best = speed
		}
	}
	return best
}

func (f *fleshlightHandler) Read(req SensorRead) (SensorReading, error) {
	return SensorReading{}, fmt.Errorf("fleshlight: device has no sensors")
}

func (f *fleshlightHandler) OnHardwareEvent(endpoint string, data []byte) (SensorReading, bool) {
	return SensorReading{}, false
}

func (f *fleshlightHandler) NeedsFullLinearResend() bool      { return true }
func (f *fleshlightHandler) AllowsDuplicateSuppression() bool { return false }
