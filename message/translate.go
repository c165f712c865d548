package message

import "encoding/json"

// This file implements spec.md §4.1's translation contract: total pure
// functions mapping between a prior protocol generation's messages and
// the canonical (V3) form. Every translator here corresponds directly to
// one of the bullet points in §4.1.

// SingleMotorVibrateToScalar expands a SingleMotorVibrateCmd into a
// ScalarCmd with one entry per feature whose FeatureType is Vibrate.
func SingleMotorVibrateToScalar(cmd SingleMotorVibrateCmd, vibrateIndices []uint32) ScalarCmd {
	scalars := make([]ScalarSubcommand, 0, len(vibrateIndices))
	for _, idx := range vibrateIndices {
		scalars = append(scalars, ScalarSubcommand{
			Index:        idx,
			Scalar:       cmd.Speed,
			ActuatorType: ActuatorVibrate,
		})
	}
	return ScalarCmd{Id: cmd.Id, DeviceIndex: cmd.DeviceIndex, Scalars: scalars}
}

// ScalarToSingleMotorVibrate collapses a ScalarCmd restricted to Vibrate
// features down to a single speed value (the first entry), the shape the
// oldest clients expect.
func ScalarToSingleMotorVibrate(cmd ScalarCmd) (SingleMotorVibrateCmd, bool) {
	for _, s := range cmd.Scalars {
		if s.ActuatorType == ActuatorVibrate {
			return SingleMotorVibrateCmd{Id: cmd.Id, DeviceIndex: cmd.DeviceIndex, Speed: s.Scalar}, true
		}
	}
	return SingleMotorVibrateCmd{}, false
}

// VibrateCmdToScalar restricts a VibrateCmd to Vibrate features, matching
// by Index.
func VibrateCmdToScalar(cmd VibrateCmd) ScalarCmd {
	scalars := make([]ScalarSubcommand, 0, len(cmd.Speeds))
	for _, s := range cmd.Speeds {
		scalars = append(scalars, ScalarSubcommand{
			Index:        s.Index,
			Scalar:       s.Speed,
			ActuatorType: ActuatorVibrate,
		})
	}
	return ScalarCmd{Id: cmd.Id, DeviceIndex: cmd.DeviceIndex, Scalars: scalars}
}

// ScalarToVibrateCmd restricts a ScalarCmd to its Vibrate-actuator
// entries, matching by Index, for a client that never learned ScalarCmd.
func ScalarToVibrateCmd(cmd ScalarCmd) VibrateCmd {
	speeds := make([]VibrateSubcommand, 0, len(cmd.Scalars))
	for _, s := range cmd.Scalars {
		if s.ActuatorType != ActuatorVibrate {
			continue
		}
		speeds = append(speeds, VibrateSubcommand{Index: s.Index, Speed: s.Scalar})
	}
	return VibrateCmd{Id: cmd.Id, DeviceIndex: cmd.DeviceIndex, Speeds: speeds}
}

// FleshlightToLinear converts a legacy FleshlightLaunchFW12Cmd into a
// LinearCmd with one vector, using prevPosition (the device's last known
// legacy position, 0 if unknown) to derive the travel duration.
func FleshlightToLinear(cmd FleshlightLaunchFW12Cmd, prevPosition int) LinearCmd {
	duration := FleshlightDurationMs(prevPosition, cmd.Position, cmd.Speed)
	return LinearCmd{
		Id:          cmd.Id,
		DeviceIndex: cmd.DeviceIndex,
		Vectors: []LinearSubcommand{
			{Index: 0, Duration: duration, Position: FleshlightPositionToLinear(cmd.Position)},
		},
	}
}

// LinearToFleshlight collapses the first vector of a LinearCmd back into
// a legacy FleshlightLaunchFW12Cmd. Speed is derived from duration and
// distance traveled; a duration of 0 (no prior position known) maps to
// full speed.
func LinearToFleshlight(cmd LinearCmd, prevPosition int) FleshlightLaunchFW12Cmd {
	if len(cmd.Vectors) == 0 {
		return FleshlightLaunchFW12Cmd{Id: cmd.Id, DeviceIndex: cmd.DeviceIndex}
	}
	v := cmd.Vectors[0]
	pos := LinearPositionToFleshlight(v.Position)
	speed := 99
	if v.Duration > 0 {
		distance := pos - prevPosition
		if distance < 0 {
			distance = -distance
		}
		// Inverse of FleshlightDurationMs's normalizedSpeed relation.
		ms := float64(v.Duration)
		fullRangeMs := 1000.0
		frac := float64(distance) / 99.0
		if frac > 0 {
			ratio := ms / (fullRangeMs * frac)
			normalizedSpeed := (1 - ratio) / 0.9
			if normalizedSpeed < 0 {
				normalizedSpeed = 0
			}
			if normalizedSpeed > 1 {
				normalizedSpeed = 1
			}
			speed = int(normalizedSpeed * 99.0)
		}
	}
	return FleshlightLaunchFW12Cmd{Id: cmd.Id, DeviceIndex: cmd.DeviceIndex, Position: pos, Speed: speed}
}

// VorzeToRotate converts a legacy VorzeA10CycloneCmd into a RotateCmd
// addressing feature index 0.
func VorzeToRotate(cmd VorzeA10CycloneCmd) RotateCmd {
	return RotateCmd{
		Id:          cmd.Id,
		DeviceIndex: cmd.DeviceIndex,
		Rotations: []RotateSubcommand{
			{Index: 0, Speed: float64(cmd.Speed) / 100.0, Clockwise: cmd.Clockwise},
		},
	}
}

// RotateToVorze collapses the first rotation of a RotateCmd back into a
// legacy VorzeA10CycloneCmd.
func RotateToVorze(cmd RotateCmd) (VorzeA10CycloneCmd, bool) {
	if len(cmd.Rotations) == 0 {
		return VorzeA10CycloneCmd{}, false
	}
	r := cmd.Rotations[0]
	return VorzeA10CycloneCmd{
		Id:          cmd.Id,
		DeviceIndex: cmd.DeviceIndex,
		Speed:       int(r.Speed * 100.0),
		Clockwise:   r.Clockwise,
	}, true
}

// BatteryCmdToSensorRead converts a legacy BatteryLevelCmd into a
// SensorReadCmd for the device's Battery sensor (conventionally index 0).
func BatteryCmdToSensorRead(cmd BatteryLevelCmd, sensorIndex uint32) SensorReadCmd {
	return SensorReadCmd{Id: cmd.Id, DeviceIndex: cmd.DeviceIndex, SensorIndex: sensorIndex, SensorType: SensorBattery}
}

// SensorReadingToBatteryReading converts a Battery SensorReading back
// into a legacy BatteryLevelReading. Data[0] is assumed to already be in
// the 0-100 integer range; BatteryLevel is normalized to [0.0, 1.0].
func SensorReadingToBatteryReading(r SensorReading) BatteryLevelReading {
	var level float64
	if len(r.Data) > 0 {
		level = float64(r.Data[0]) / 100.0
	}
	return BatteryLevelReading{Id: r.Id, DeviceIndex: r.DeviceIndex, BatteryLevel: level}
}

// RSSICmdToSensorRead converts a legacy RSSILevelCmd into a SensorReadCmd
// for the device's RSSI sensor (conventionally index 0).
func RSSICmdToSensorRead(cmd RSSILevelCmd, sensorIndex uint32) SensorReadCmd {
	return SensorReadCmd{Id: cmd.Id, DeviceIndex: cmd.DeviceIndex, SensorIndex: sensorIndex, SensorType: SensorRSSI}
}

// SensorReadingToRSSIReading converts an RSSI SensorReading back into a
// legacy RSSILevelReading.
func SensorReadingToRSSIReading(r SensorReading) RSSILevelReading {
	var level int
	if len(r.Data) > 0 {
		level = r.Data[0]
	}
	return RSSILevelReading{Id: r.Id, DeviceIndex: r.DeviceIndex, RSSILevel: level}
}

// --- DeviceList / DeviceAdded per-version attribute shapes ---

// legacyDeviceV0 is the V0 wire shape: DeviceMessages is a bare list of
// supported message names, no attributes at all.
type legacyDeviceV0 struct {
	Id             uint32 `json:"Id,omitempty"`
	DeviceName     string
	DeviceIndex    uint32
	DeviceMessages []string
}

// legacyAttrsV1V2 is the V1/V2 per-message-kind attribute shape.
// V1 only ever sets FeatureCount; V2 additionally sets StepCount.
type legacyAttrsV1V2 struct {
	FeatureCount uint32   `json:"FeatureCount,omitempty"`
	StepCount    []uint32 `json:"StepCount,omitempty"`
}

type legacyDeviceV1V2 struct {
	Id             uint32 `json:"Id,omitempty"`
	DeviceName     string
	DeviceIndex    uint32
	DeviceMessages map[string]legacyAttrsV1V2
}

// LegacyDeviceJSON renders a Device for the given ProtocolSpecVersion,
// rebuilding the DeviceMessages shape from Features as spec.md §4.1
// requires (v0 = string array; v1 = map of message->{FeatureCount}; v2 =
// map with StepCount array; v3 = map of message->array of per-feature
// attributes, i.e. Device's own DeviceMessages field, used unmodified).
func LegacyDeviceJSON(version SpecVersion, d Device) ([]byte, error) {
	if version >= V3 {
		return json.Marshal(d)
	}
	switch version {
	case V0:
		names := make([]string, 0, len(d.Features))
		seen := map[string]bool{}
		for _, f := range d.Features {
			for _, kind := range f.Messages {
				legacyName := legacyMessageNameV0(kind)
				if legacyName == "" || seen[legacyName] {
					continue
				}
				seen[legacyName] = true
				names = append(names, legacyName)
			}
		}
		names = append(names, "StopDeviceCmd")
		return json.Marshal(legacyDeviceV0{
			Id:             d.Id,
			DeviceName:     d.DeviceName,
			DeviceIndex:    d.DeviceIndex,
			DeviceMessages: names,
		})
	default: // V1, V2
		dm := map[string]legacyAttrsV1V2{}
		byKind := map[string][]FeatureDescriptor{}
		for _, f := range d.Features {
			for _, kind := range f.Messages {
				byKind[kind] = append(byKind[kind], f)
			}
		}
		for kind, feats := range byKind {
			attrs := legacyAttrsV1V2{FeatureCount: uint32(len(feats))}
			if version == V2 {
				steps := make([]uint32, 0, len(feats))
				for _, f := range feats {
					steps = append(steps, f.StepCount)
				}
				attrs.StepCount = steps
			}
			dm[kind] = attrs
		}
		if len(d.Features) > 0 {
			dm["StopDeviceCmd"] = legacyAttrsV1V2{}
		}
		return json.Marshal(legacyDeviceV1V2{
			Id:             d.Id,
			DeviceName:     d.DeviceName,
			DeviceIndex:    d.DeviceIndex,
			DeviceMessages: dm,
		})
	}
}

// legacyMessageNameV0 maps a canonical message kind to the deprecated V0
// name clients of that vintage expect to see advertised, or "" if V0 had
// no equivalent (e.g. ScalarCmd itself didn't exist yet).
func legacyMessageNameV0(canonicalKind string) string {
	switch canonicalKind {
	case "ScalarCmd":
		return "SingleMotorVibrateCmd"
	case "LinearCmd":
		return "FleshlightLaunchFW12Cmd"
	case "RotateCmd":
		return "VorzeA10CycloneCmd"
	case "SensorReadCmd":
		return "BatteryLevelCmd"
	default:
		return ""
	}
}
