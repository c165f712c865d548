/*
Package message contains the Buttplug wire protocol: the canonical message
union, the per-version wire shapes it differs from, and the translators
that move messages between protocol generations.
*/
package message

// SpecVersion identifies a Buttplug message spec generation. A session is
// pinned to exactly one for its lifetime.
type SpecVersion uint32

const (
	V0 SpecVersion = 0
	V1 SpecVersion = 1
	V2 SpecVersion = 2
	V3 SpecVersion = 3
	V4 SpecVersion = 4

	// CanonicalVersion is the internal representation every message is
	// translated to/from. V4 is still in development upstream, so the
	// canonical form mirrors V3 plus the deprecated messages kept for
	// downgrade purposes.
	CanonicalVersion = V3
)

// ErrorCode enumerates the taxonomy an Error message can report.
type ErrorCode uint32

const (
	ErrorUnknown ErrorCode = 0
	ErrorInit    ErrorCode = 1
	ErrorPing    ErrorCode = 2
	ErrorMsg     ErrorCode = 3
	ErrorDevice  ErrorCode = 4
)

// Log levels, kept for V0/V1 RequestLog/Log translation.
const (
	LogLevelOff   = "Off"
	LogLevelFatal = "Fatal"
	LogLevelError = "Error"
	LogLevelWarn  = "Warn"
	LogLevelInfo  = "Info"
	LogLevelDebug = "Debug"
	LogLevelTrace = "Trace"
)

// Messages is a frame: a JSON array of message objects, in either
// direction. Each element carries exactly one message.
type Messages []Message

// Message is the canonical sum type covering every message Buttplug has
// ever defined. Exactly one field is non-nil. Handling code over Message
// must be exhaustive; adding a variant here without updating Name(),
// ID(), and the translators in translate.go is a bug.
type Message struct {
	// Status
	Ok    *Ok    `json:"Ok,omitempty"`
	Error *Error `json:"Error,omitempty"`
	Ping  *Ping  `json:"Ping,omitempty"`

	// Handshake
	RequestServerInfo *RequestServerInfo `json:"RequestServerInfo,omitempty"`
	ServerInfo        *ServerInfo        `json:"ServerInfo,omitempty"`

	// Enumeration
	StartScanning     *Empty         `json:"StartScanning,omitempty"`
	StopScanning      *Empty         `json:"StopScanning,omitempty"`
	ScanningFinished  *Empty         `json:"ScanningFinished,omitempty"`
	RequestDeviceList *Empty         `json:"RequestDeviceList,omitempty"`
	DeviceList        *DeviceList    `json:"DeviceList,omitempty"`
	DeviceAdded       *Device        `json:"DeviceAdded,omitempty"`
	DeviceRemoved     *DeviceRemoved `json:"DeviceRemoved,omitempty"`

	// Generic Device
	ScalarCmd            *ScalarCmd          `json:"ScalarCmd,omitempty"`
	LinearCmd             *LinearCmd          `json:"LinearCmd,omitempty"`
	RotateCmd             *RotateCmd          `json:"RotateCmd,omitempty"`
	StopDeviceCmd         *StopDeviceCmd      `json:"StopDeviceCmd,omitempty"`
	StopAllDevices        *Empty              `json:"StopAllDevices,omitempty"`
	SensorReadCmd         *SensorReadCmd      `json:"SensorReadCmd,omitempty"`
	SensorReading         *SensorReading      `json:"SensorReading,omitempty"`
	SensorSubscribeCmd    *SensorSubscribeCmd `json:"SensorSubscribeCmd,omitempty"`
	SensorUnsubscribeCmd  *SensorSubscribeCmd `json:"SensorUnsubscribeCmd,omitempty"`

	// Raw
	RawWriteCmd       *RawWriteCmd     `json:"RawWriteCmd,omitempty"`
	RawReadCmd        *RawReadCmd      `json:"RawReadCmd,omitempty"`
	RawReading        *RawReading      `json:"RawReading,omitempty"`
	RawSubscribeCmd   *RawSubscribeCmd `json:"RawSubscribeCmd,omitempty"`
	RawUnsubscribeCmd *RawSubscribeCmd `json:"RawUnsubscribeCmd,omitempty"`

	// Deprecated (server boundary only, see translate.go)
	SingleMotorVibrateCmd   *SingleMotorVibrateCmd   `json:"SingleMotorVibrateCmd,omitempty"`
	VibrateCmd              *VibrateCmd              `json:"VibrateCmd,omitempty"`
	FleshlightLaunchFW12Cmd *FleshlightLaunchFW12Cmd `json:"FleshlightLaunchFW12Cmd,omitempty"`
	KiirooCmd               *KiirooCmd               `json:"KiirooCmd,omitempty"`
	LovenseCmd              *LovenseCmd              `json:"LovenseCmd,omitempty"`
	VorzeA10CycloneCmd      *VorzeA10CycloneCmd      `json:"VorzeA10CycloneCmd,omitempty"`
	BatteryLevelCmd         *BatteryLevelCmd         `json:"BatteryLevelCmd,omitempty"`
	BatteryLevelReading     *BatteryLevelReading     `json:"BatteryLevelReading,omitempty"`
	RSSILevelCmd            *RSSILevelCmd            `json:"RSSILevelCmd,omitempty"`
	RSSILevelReading        *RSSILevelReading        `json:"RSSILevelReading,omitempty"`

	// Kept for V0/V1 compatibility; collapsed into the server's own
	// structured log stream, never forwarded to V2+ clients (see
	// SPEC_FULL.md "Supplemented features").
	RequestLog *RequestLog `json:"RequestLog,omitempty"`
	Log        *Log        `json:"Log,omitempty"`
}

// ID returns the message id carried by whichever variant is set. Returns
// 0 for an empty Message.
func (m Message) ID() uint32 {
	switch {
	case m.Ok != nil:
		return m.Ok.Id
	case m.Error != nil:
		return m.Error.Id
	case m.Ping != nil:
		return m.Ping.Id
	case m.RequestServerInfo != nil:
		return m.RequestServerInfo.Id
	case m.ServerInfo != nil:
		return m.ServerInfo.Id
	case m.StartScanning != nil:
		return m.StartScanning.Id
	case m.StopScanning != nil:
		return m.StopScanning.Id
	case m.ScanningFinished != nil:
		return m.ScanningFinished.Id
	case m.RequestDeviceList != nil:
		return m.RequestDeviceList.Id
	case m.DeviceList != nil:
		return m.DeviceList.Id
	case m.DeviceAdded != nil:
		return m.DeviceAdded.Id
	case m.DeviceRemoved != nil:
		return m.DeviceRemoved.Id
	case m.ScalarCmd != nil:
		return m.ScalarCmd.Id
	case m.LinearCmd != nil:
		return m.LinearCmd.Id
	case m.RotateCmd != nil:
		return m.RotateCmd.Id
	case m.StopDeviceCmd != nil:
		return m.StopDeviceCmd.Id
	case m.StopAllDevices != nil:
		return m.StopAllDevices.Id
	case m.SensorReadCmd != nil:
		return m.SensorReadCmd.Id
	case m.SensorReading != nil:
		return m.SensorReading.Id
	case m.SensorSubscribeCmd != nil:
		return m.SensorSubscribeCmd.Id
	case m.SensorUnsubscribeCmd != nil:
		return m.SensorUnsubscribeCmd.Id
	case m.RawWriteCmd != nil:
		return m.RawWriteCmd.Id
	case m.RawReadCmd != nil:
		return m.RawReadCmd.Id
	case m.RawReading != nil:
		return m.RawReading.Id
	case m.RawSubscribeCmd != nil:
		return m.RawSubscribeCmd.Id
	case m.RawUnsubscribeCmd != nil:
		return m.RawUnsubscribeCmd.Id
	case m.SingleMotorVibrateCmd != nil:
		return m.SingleMotorVibrateCmd.Id
	case m.VibrateCmd != nil:
		return m.VibrateCmd.Id
	case m.FleshlightLaunchFW12Cmd != nil:
		return m.FleshlightLaunchFW12Cmd.Id
	case m.KiirooCmd != nil:
		return m.KiirooCmd.Id
	case m.LovenseCmd != nil:
		return m.LovenseCmd.Id
	case m.VorzeA10CycloneCmd != nil:
		return m.VorzeA10CycloneCmd.Id
	case m.BatteryLevelCmd != nil:
		return m.BatteryLevelCmd.Id
	case m.BatteryLevelReading != nil:
		return m.BatteryLevelReading.Id
	case m.RSSILevelCmd != nil:
		return m.RSSILevelCmd.Id
	case m.RSSILevelReading != nil:
		return m.RSSILevelReading.Id
	case m.RequestLog != nil:
		return m.RequestLog.Id
	case m.Log != nil:
		return m.Log.Id
	}
	return 0
}

// Name returns the wire message name of whichever variant is set, or ""
// for an empty Message. Used for validation, logging and minimum-version
// checks.
func (m Message) Name() string {
	switch {
	case m.Ok != nil:
		return "Ok"
	case m.Error != nil:
		return "Error"
	case m.Ping != nil:
		return "Ping"
	case m.RequestServerInfo != nil:
		return "RequestServerInfo"
	case m.ServerInfo != nil:
		return "ServerInfo"
	case m.StartScanning != nil:
		return "StartScanning"
	case m.StopScanning != nil:
		return "StopScanning"
	case m.ScanningFinished != nil:
		return "ScanningFinished"
	case m.RequestDeviceList != nil:
		return "RequestDeviceList"
	case m.DeviceList != nil:
		return "DeviceList"
	case m.DeviceAdded != nil:
		return "DeviceAdded"
	case m.DeviceRemoved != nil:
		return "DeviceRemoved"
	case m.ScalarCmd != nil:
		return "ScalarCmd"
	case m.LinearCmd != nil:
		return "LinearCmd"
	case m.RotateCmd != nil:
		return "RotateCmd"
	case m.StopDeviceCmd != nil:
		return "StopDeviceCmd"
	case m.StopAllDevices != nil:
		return "StopAllDevices"
	case m.SensorReadCmd != nil:
		return "SensorReadCmd"
	case m.SensorReading != nil:
		return "SensorReading"
	case m.SensorSubscribeCmd != nil:
		return "SensorSubscribeCmd"
	case m.SensorUnsubscribeCmd != nil:
		return "SensorUnsubscribeCmd"
	case m.RawWriteCmd != nil:
		return "RawWriteCmd"
	case m.RawReadCmd != nil:
		return "RawReadCmd"
	case m.RawReading != nil:
		return "RawReading"
	case m.RawSubscribeCmd != nil:
		return "RawSubscribeCmd"
	case m.RawUnsubscribeCmd != nil:
		return "RawUnsubscribeCmd"
	case m.SingleMotorVibrateCmd != nil:
		return "SingleMotorVibrateCmd"
	case m.VibrateCmd != nil:
		return "VibrateCmd"
	case m.FleshlightLaunchFW12Cmd != nil:
		return "FleshlightLaunchFW12Cmd"
	case m.KiirooCmd != nil:
		return "KiirooCmd"
	case m.LovenseCmd != nil:
		return "LovenseCmd"
	case m.VorzeA10CycloneCmd != nil:
		return "VorzeA10CycloneCmd"
	case m.BatteryLevelCmd != nil:
		return "BatteryLevelCmd"
	case m.BatteryLevelReading != nil:
		return "BatteryLevelReading"
	case m.RSSILevelCmd != nil:
		return "RSSILevelCmd"
	case m.RSSILevelReading != nil:
		return "RSSILevelReading"
	case m.RequestLog != nil:
		return "RequestLog"
	case m.Log != nil:
		return "Log"
	}
	return ""
}

// MinVersion is the oldest spec version that still defines this message.
// Used to enforce the invariant that a session pinned at version V never
// receives a message whose definition postdates V.
func (m Message) MinVersion() SpecVersion {
	switch m.Name() {
	case "ScalarCmd", "SensorReadCmd", "SensorReading", "SensorSubscribeCmd",
		"SensorUnsubscribeCmd", "RawWriteCmd", "RawReadCmd", "RawReading",
		"RawSubscribeCmd", "RawUnsubscribeCmd":
		return V3
	case "RotateCmd", "LinearCmd", "StopDeviceCmd", "StopAllDevices",
		"DeviceList", "DeviceAdded", "DeviceRemoved":
		return V1
	case "BatteryLevelCmd", "BatteryLevelReading", "RSSILevelCmd", "RSSILevelReading":
		return V1
	default:
		return V0
	}
}

// MaxVersion is the newest spec version this message is still defined
// for; 0 means "still current". Deprecated messages are retired once a
// client no longer needs them translated for it.
func (m Message) MaxVersion() SpecVersion {
	switch m.Name() {
	case "SingleMotorVibrateCmd", "VibrateCmd", "FleshlightLaunchFW12Cmd",
		"KiirooCmd", "LovenseCmd", "VorzeA10CycloneCmd",
		"BatteryLevelCmd", "BatteryLevelReading", "RSSILevelCmd", "RSSILevelReading":
		return V2
	case "RequestLog", "Log":
		return V1
	default:
		return 0
	}
}

// Empty is used for messages carrying only an Id.
type Empty struct {
	Id uint32
}

// Ok acknowledges a client message was processed successfully.
type Ok struct {
	Id uint32
}

// Error signals the previous client message could not be processed.
type Error struct {
	Id           uint32
	ErrorMessage string
	ErrorCode    ErrorCode
}

// Ping resets the server's watchdog timer.
type Ping struct {
	Id uint32
}

// RequestServerInfo is the mandatory first client message of a session.
type RequestServerInfo struct {
	Id             uint32
	ClientName     string
	MessageVersion uint32
}

// ServerInfo is the server's handshake reply.
type ServerInfo struct {
	Id             uint32
	ServerName     string
	MessageVersion uint32
	MaxPingTime    uint32
}

// DeviceRemoved announces a device has disconnected.
type DeviceRemoved struct {
	Id          uint32 `json:"Id,omitempty"`
	DeviceIndex uint32
}

// RequestLog (deprecated, V0/V1 only).
type RequestLog struct {
	Id       uint32
	LogLevel string
}

// Log (deprecated, V0/V1 only).
type Log struct {
	Id         uint32
	LogLevel   string
	LogMessage string
}
