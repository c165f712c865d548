package message

import "encoding/json"

// Actuator and sensor type names, as carried on the wire in DeviceMessages
// attribute blocks and Scalar/Rotate/Sensor command subcommands.
const (
	ActuatorVibrate            = "Vibrate"
	ActuatorRotate             = "Rotate"
	ActuatorOscillate          = "Oscillate"
	ActuatorConstrict          = "Constrict"
	ActuatorInflate            = "Inflate"
	ActuatorPositionWithDuration = "Position"

	SensorBattery  = "Battery"
	SensorRSSI     = "RSSI"
	SensorButton   = "Button"
	SensorPressure = "Pressure"
)

// DeviceMessageAttrs describes one feature's attributes for one message
// kind, as exposed in a DeviceList/DeviceAdded message. Shape differs by
// ProtocolSpecVersion (see BuildDeviceMessages); this struct always holds
// the superset (V3) fields and is narrowed on encode for older versions.
type DeviceMessageAttrs struct {
	FeatureDescriptor string    `json:"FeatureDescriptor,omitempty"`
	StepCount         uint32    `json:"StepCount,omitempty"`
	ActuatorType      string    `json:"ActuatorType,omitempty"`
	SensorType        string    `json:"SensorType,omitempty"`
	SensorRange       [][2]int  `json:"SensorRange,omitempty"`
	Endpoints         []string  `json:"Endpoints,omitempty"`
}

// DeviceMessages maps a message kind (e.g. "ScalarCmd") to its raw
// per-version wire representation: either a JSON array of
// DeviceMessageAttrs (features that take an index) or an empty object
// (commands with no per-feature attributes, e.g. StopDeviceCmd). Kept as
// json.RawMessage because the two shapes cannot share a Go type and no
// pack library does JSON-schema-driven codegen for this (see DESIGN.md).
type DeviceMessages map[string]json.RawMessage

var emptyAttrs = json.RawMessage(`{}`)

// NoAttrs is the wire value for a device message kind that carries no
// per-feature attributes (StopDeviceCmd, StopAllDevices, RawWriteCmd...).
func NoAttrs() json.RawMessage { return emptyAttrs }

// FeatureAttrs marshals a list of per-feature attributes for a device
// message kind that takes an index (ScalarCmd, RotateCmd, LinearCmd,
// SensorReadCmd...).
func FeatureAttrs(attrs ...DeviceMessageAttrs) json.RawMessage {
	if attrs == nil {
		attrs = []DeviceMessageAttrs{}
	}
	b, _ := json.Marshal(attrs)
	return b
}

// Device describes one connected device, as carried in DeviceList.Devices
// or as the lone payload of DeviceAdded/(legacy)DeviceRemoved.
type Device struct {
	Id                     uint32 `json:"Id,omitempty"`
	DeviceName             string
	DeviceIndex            uint32
	DeviceMessageTimingGap uint32         `json:"DeviceMessageTimingGap,omitempty"`
	DeviceDisplayName      string         `json:"DeviceDisplayName,omitempty"`
	DeviceMessages         DeviceMessages `json:"DeviceMessages,omitempty"`

	// Features is not marshaled on the wire directly; it is the source
	// data BuildDeviceMessages/LegacyDeviceJSON use to re-derive the
	// DeviceMessages shape appropriate to whatever ProtocolSpecVersion
	// a session is pinned to (see translate.go).
	Features []FeatureDescriptor `json:"-"`
}

// DeviceList is the server's reply to RequestDeviceList.
type DeviceList struct {
	Id      uint32
	Devices []Device
}

// FeatureDescriptor is the wire-relevant projection of a
// deviceconfig.DeviceFeature: just enough to build a DeviceMessages block
// for any protocol version.
type FeatureDescriptor struct {
	Index       uint32
	FeatureType string   // Vibrate, Rotate, Oscillate, ..., Battery, RSSI, Button, Pressure
	Description string
	StepCount   uint32   // meaningful for output features
	Messages    []string // which generic message kinds this feature answers to
	SensorRange [][2]int // meaningful for input features
}

// BuildDeviceMessages assembles the canonical (V3) DeviceMessages block
// for a device from its features.
func BuildDeviceMessages(features []FeatureDescriptor) DeviceMessages {
	byKind := map[string][]DeviceMessageAttrs{}
	sawOutput := false
	for _, f := range features {
		for _, kind := range f.Messages {
			switch kind {
			case "ScalarCmd":
				byKind[kind] = append(byKind[kind], DeviceMessageAttrs{
					FeatureDescriptor: f.Description,
					StepCount:         f.StepCount,
					ActuatorType:      f.FeatureType,
				})
				sawOutput = true
			case "RotateCmd":
				byKind[kind] = append(byKind[kind], DeviceMessageAttrs{
					FeatureDescriptor: f.Description,
					StepCount:         f.StepCount,
				})
				sawOutput = true
			case "LinearCmd":
				byKind[kind] = append(byKind[kind], DeviceMessageAttrs{
					FeatureDescriptor: f.Description,
					StepCount:         f.StepCount,
				})
				sawOutput = true
			case "SensorReadCmd", "SensorSubscribeCmd":
				byKind[kind] = append(byKind[kind], DeviceMessageAttrs{
					FeatureDescriptor: f.Description,
					SensorType:        f.FeatureType,
					SensorRange:       f.SensorRange,
				})
			}
		}
	}
	dm := DeviceMessages{}
	for kind, attrs := range byKind {
		dm[kind] = FeatureAttrs(attrs...)
	}
	if sawOutput {
		dm["StopDeviceCmd"] = NoAttrs()
	}
	return dm
}
