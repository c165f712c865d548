package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleMotorVibrateRoundTrip(t *testing.T) {
	cmd := SingleMotorVibrateCmd{Id: 5, DeviceIndex: 0, Speed: 0.75}
	scalar := SingleMotorVibrateToScalar(cmd, []uint32{0, 1})
	assert.Len(t, scalar.Scalars, 2)
	for _, s := range scalar.Scalars {
		assert.Equal(t, ActuatorVibrate, s.ActuatorType)
		assert.Equal(t, 0.75, s.Scalar)
	}
	back, ok := ScalarToSingleMotorVibrate(scalar)
	require.True(t, ok)
	assert.Equal(t, cmd.Speed, back.Speed)
}

func TestVibrateCmdScalarRoundTrip(t *testing.T) {
	cmd := VibrateCmd{Id: 1, DeviceIndex: 0, Speeds: []VibrateSubcommand{
		{Index: 0, Speed: 0.5},
		{Index: 1, Speed: 1.0},
	}}
	scalar := VibrateCmdToScalar(cmd)
	require.Len(t, scalar.Scalars, 2)
	assert.Equal(t, uint32(0), scalar.Scalars[0].Index)
	assert.Equal(t, 0.5, scalar.Scalars[0].Scalar)

	back := ScalarToVibrateCmd(scalar)
	assert.Equal(t, cmd.Speeds, back.Speeds)

	// Non-Vibrate entries are dropped on the way back down.
	mixed := ScalarCmd{Id: 1, DeviceIndex: 0, Scalars: []ScalarSubcommand{
		{Index: 0, Scalar: 0.5, ActuatorType: ActuatorVibrate},
		{Index: 1, Scalar: 0.3, ActuatorType: ActuatorRotate},
	}}
	filtered := ScalarToVibrateCmd(mixed)
	require.Len(t, filtered.Speeds, 1)
	assert.Equal(t, uint32(0), filtered.Speeds[0].Index)
}

func TestVorzeRotateRoundTrip(t *testing.T) {
	cmd := VorzeA10CycloneCmd{Id: 7, DeviceIndex: 1, Speed: 50, Clockwise: true}
	rotate := VorzeToRotate(cmd)
	require.Len(t, rotate.Rotations, 1)
	assert.Equal(t, 0.5, rotate.Rotations[0].Speed)
	assert.True(t, rotate.Rotations[0].Clockwise)

	back, ok := RotateToVorze(rotate)
	require.True(t, ok)
	assert.Equal(t, cmd.Speed, back.Speed)
	assert.Equal(t, cmd.Clockwise, back.Clockwise)
}

func TestBatteryRSSISensorRoundTrip(t *testing.T) {
	battery := BatteryLevelCmd{Id: 3, DeviceIndex: 0}
	read := BatteryCmdToSensorRead(battery, 0)
	assert.Equal(t, SensorBattery, read.SensorType)

	reading := SensorReading{Id: 3, DeviceIndex: 0, SensorIndex: 0, SensorType: SensorBattery, Data: []int{80}}
	br := SensorReadingToBatteryReading(reading)
	assert.Equal(t, 0.8, br.BatteryLevel)

	rssi := RSSILevelCmd{Id: 4, DeviceIndex: 0}
	rread := RSSICmdToSensorRead(rssi, 1)
	assert.Equal(t, SensorRSSI, rread.SensorType)

	rreading := SensorReading{Id: 4, DeviceIndex: 0, SensorIndex: 1, SensorType: SensorRSSI, Data: []int{-42}}
	rr := SensorReadingToRSSIReading(rreading)
	assert.Equal(t, -42, rr.RSSILevel)
}

func TestFleshlightToLinearAndBack(t *testing.T) {
	cmd := FleshlightLaunchFW12Cmd{Id: 7, DeviceIndex: 1, Position: 30, Speed: 50}
	linear := FleshlightToLinear(cmd, 0)
	require.Len(t, linear.Vectors, 1)
	assert.InDelta(t, 30.0/99.0, linear.Vectors[0].Position, 0.0001)
	assert.Greater(t, linear.Vectors[0].Duration, uint32(0))

	back := LinearToFleshlight(linear, 0)
	assert.Equal(t, 30, back.Position)
}

func TestFleshlightZeroDistanceIsZeroDuration(t *testing.T) {
	cmd := FleshlightLaunchFW12Cmd{Id: 1, DeviceIndex: 0, Position: 50, Speed: 99}
	linear := FleshlightToLinear(cmd, 50)
	require.Len(t, linear.Vectors, 1)
	assert.Equal(t, uint32(0), linear.Vectors[0].Duration)
}

func TestLegacyDeviceJSONShapes(t *testing.T) {
	d := Device{
		Id:          0,
		DeviceName:  "TestVib",
		DeviceIndex: 0,
		Features: []FeatureDescriptor{
			{Index: 0, FeatureType: ActuatorVibrate, StepCount: 20, Messages: []string{"ScalarCmd"}},
			{Index: 1, FeatureType: ActuatorVibrate, StepCount: 20, Messages: []string{"ScalarCmd"}},
		},
	}
	d.DeviceMessages = BuildDeviceMessages(d.Features)

	v0, err := LegacyDeviceJSON(V0, d)
	require.NoError(t, err)
	assert.Contains(t, string(v0), `"SingleMotorVibrateCmd"`)
	assert.NotContains(t, string(v0), "FeatureCount")

	v1, err := LegacyDeviceJSON(V1, d)
	require.NoError(t, err)
	assert.Contains(t, string(v1), `"FeatureCount":2`)
	assert.NotContains(t, string(v1), "StepCount")

	v2, err := LegacyDeviceJSON(V2, d)
	require.NoError(t, err)
	assert.Contains(t, string(v2), `"StepCount":[20,20]`)

	v3, err := LegacyDeviceJSON(V3, d)
	require.NoError(t, err)
	assert.Contains(t, string(v3), `"StepCount":20`)
	assert.Contains(t, string(v3), `"ActuatorType":"Vibrate"`)
}
