package message

// Deprecated message types. These are never produced internally; they
// exist only so a session pinned at an old ProtocolSpecVersion can keep
// speaking them while the translators in translate.go convert to/from the
// canonical (V3) messages the rest of the server operates on.

// SingleMotorVibrateCmd causes every Vibrate feature to run at Speed.
// Deprecated after V0; superseded by VibrateCmd then ScalarCmd.
type SingleMotorVibrateCmd struct {
	Id          uint32
	DeviceIndex uint32
	Speed       float64
}

// VibrateCmd addresses individual Vibrate features by index. Deprecated
// after V2; superseded by ScalarCmd.
type VibrateCmd struct {
	Id          uint32
	DeviceIndex uint32
	Speeds      []VibrateSubcommand
}

// VibrateSubcommand is one entry of a VibrateCmd.
type VibrateSubcommand struct {
	Index uint32
	Speed float64
}

// FleshlightLaunchFW12Cmd drives a Fleshlight Launch (firmware 1.2)
// style device directly by position/speed. Deprecated after V2;
// superseded by LinearCmd.
type FleshlightLaunchFW12Cmd struct {
	Id          uint32
	DeviceIndex uint32
	Position    int
	Speed       int
}

// KiirooCmd sends a raw Kiiroo event code. Deprecated after V2; has no
// canonical successor other than the generic Scalar/Linear/Rotate
// commands the server's Kiiroo protocol handler now emits from.
type KiirooCmd struct {
	Id          uint32
	DeviceIndex uint32
	Command     int
}

// LovenseCmd sends a raw Lovense command string. Deprecated after V2.
type LovenseCmd struct {
	Id          uint32
	DeviceIndex uint32
	Command     string
}

// VorzeA10CycloneCmd drives a Vorze A10 Cyclone rotator directly.
// Deprecated after V2; superseded by RotateCmd.
type VorzeA10CycloneCmd struct {
	Id          uint32
	DeviceIndex uint32
	Speed       int
	Clockwise   bool
}

// BatteryLevelCmd requests a battery reading. Deprecated after V1;
// superseded by SensorReadCmd{SensorType: Battery}.
type BatteryLevelCmd struct {
	Id          uint32
	DeviceIndex uint32
}

// BatteryLevelReading is the response to BatteryLevelCmd.
type BatteryLevelReading struct {
	Id           uint32 `json:"Id,omitempty"`
	DeviceIndex  uint32
	BatteryLevel float64
}

// RSSILevelCmd requests a radio signal strength reading. Deprecated
// after V1; superseded by SensorReadCmd{SensorType: RSSI}.
type RSSILevelCmd struct {
	Id          uint32
	DeviceIndex uint32
}

// RSSILevelReading is the response to RSSILevelCmd.
type RSSILevelReading struct {
	Id          uint32 `json:"Id,omitempty"`
	DeviceIndex uint32
	RSSILevel   int
}
