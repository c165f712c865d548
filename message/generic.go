package message

// ScalarCmd addresses one or more output features with a single
// normalized [0.0, 1.0] value each. Introduced V3, replacing the
// per-actuator deprecated commands.
type ScalarCmd struct {
	Id          uint32
	DeviceIndex uint32
	Scalars     []ScalarSubcommand
}

// ScalarSubcommand is one entry of a ScalarCmd.
type ScalarSubcommand struct {
	Index        uint32
	Scalar       float64
	ActuatorType string
}

// RotateCmd spins one or more rotating features.
type RotateCmd struct {
	Id          uint32
	DeviceIndex uint32
	Rotations   []RotateSubcommand
}

// RotateSubcommand is one entry of a RotateCmd.
type RotateSubcommand struct {
	Index     uint32
	Speed     float64
	Clockwise bool
}

// LinearCmd moves one or more linear-stroke features to a position over a
// duration.
type LinearCmd struct {
	Id          uint32
	DeviceIndex uint32
	Vectors     []LinearSubcommand
}

// LinearSubcommand is one entry of a LinearCmd.
type LinearSubcommand struct {
	Index    uint32
	Duration uint32
	Position float64
}

// StopDeviceCmd halts every output feature of a device.
type StopDeviceCmd struct {
	Id          uint32
	DeviceIndex uint32
}

// SensorReadCmd requests a single sensor reading.
type SensorReadCmd struct {
	Id          uint32
	DeviceIndex uint32
	SensorIndex uint32
	SensorType  string
}

// SensorReading is the response to SensorReadCmd, or an unsolicited
// message for a subscribed sensor.
type SensorReading struct {
	Id          uint32 `json:"Id,omitempty"`
	DeviceIndex uint32
	SensorIndex uint32
	SensorType  string
	Data        []int
}

// SensorSubscribeCmd (and, with the same shape, SensorUnsubscribeCmd)
// opens/closes a server-to-client stream of SensorReading messages.
type SensorSubscribeCmd struct {
	Id          uint32
	DeviceIndex uint32
	SensorIndex uint32
	SensorType  string
}

// RawWriteCmd writes bytes directly to a named endpoint, bypassing the
// feature abstraction. Privileged; see server raw-mode gating.
type RawWriteCmd struct {
	Id                uint32
	DeviceIndex       uint32
	Endpoint          string
	Data              []byte
	WriteWithResponse bool
}

// RawReadCmd reads bytes directly from a named endpoint.
type RawReadCmd struct {
	Id             uint32
	DeviceIndex    uint32
	Endpoint       string
	ExpectedLength uint32
	WaitForData    bool
}

// RawReading is the response to RawReadCmd, or an unsolicited message for
// a subscribed raw endpoint.
type RawReading struct {
	Id          uint32 `json:"Id,omitempty"`
	DeviceIndex uint32
	Endpoint    string
	Data        []byte
}

// RawSubscribeCmd (and, with the same shape, RawUnsubscribeCmd) opens/
// closes a server-to-client stream of RawReading messages for an
// endpoint.
type RawSubscribeCmd struct {
	Id          uint32
	DeviceIndex uint32
	Endpoint    string
}
