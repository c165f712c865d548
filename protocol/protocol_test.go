package protocol

import (
	"testing"

	"github.com/buttplugio/buttplug-sub000/deviceconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHardware struct {
	writes []HardwareWrite
	reads  map[string][]byte
}

func (f *fakeHardware) Write(w HardwareWrite) error {
	f.writes = append(f.writes, w)
	return nil
}

func (f *fakeHardware) Read(endpoint string, expectedLength int) ([]byte, error) {
	return f.reads[endpoint], nil
}

func TestRegistryBuildUnknownProtocol(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("nope", &fakeHardware{}, deviceconfig.DeviceDefinition{})
	assert.Error(t, err)
}

func TestRegisterBuiltinsAndBuildEach(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	for _, name := range []string{"generic-actuator", "lovense", "kiiroo", "vorze-a10-cyclone", "fleshlight"} {
		assert.True(t, r.Has(name), name)
		h, err := r.Build(name, &fakeHardware{}, deviceconfig.DeviceDefinition{})
		require.NoError(t, err, name)
		require.NotNil(t, h, name)
	}
}

func TestGenericHandleScalar(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	hw := &fakeHardware{}
	h, err := r.Build("generic-actuator", hw, deviceconfig.DeviceDefinition{})
	require.NoError(t, err)

	writes, err := h.Handle(Command{Kind: "Scalar", FeatureIndex: 0, Step: 10})
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, "Vibrate0", writes[0].Endpoint)
	assert.Equal(t, []byte{10}, writes[0].Data)
}

func TestGenericHandleStopRoutesByActuatorType(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	hw := &fakeHardware{}
	h, err := r.Build("generic-actuator", hw, deviceconfig.DeviceDefinition{})
	require.NoError(t, err)

	cases := []struct {
		actuatorType string
		endpoint     string
	}{
		{"Vibrate", "Vibrate2"},
		{"Rotate", "Rotate2"},
		{"RotateWithDirection", "Rotate2"},
		{"PositionWithDuration", "Linear2"},
	}
	for _, c := range cases {
		writes, err := h.Handle(Command{Kind: "Stop", FeatureIndex: 2, ActuatorType: c.actuatorType})
		require.NoError(t, err, c.actuatorType)
		require.Len(t, writes, 1, c.actuatorType)
		assert.Equal(t, c.endpoint, writes[0].Endpoint, c.actuatorType)
		assert.Equal(t, []byte{0}, writes[0].Data, c.actuatorType)
	}
}

func TestLovenseHandleScalarFramesCommand(t *testing.T) {
	hw := &fakeHardware{}
	h := &lovenseHandler{hw: hw}

	writes, err := h.Handle(Command{Kind: "Scalar", FeatureIndex: 0, Step: 15})
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, "Vibrate1:15;", string(writes[0].Data))
}

func TestLovenseReadBattery(t *testing.T) {
	hw := &fakeHardware{reads: map[string][]byte{"rx": []byte("85;")}}
	h := &lovenseHandler{hw: hw}

	reading, err := h.Read(SensorRead{SensorIndex: 0, SensorType: "Battery"})
	require.NoError(t, err)
	assert.Equal(t, int32(85), reading.Data[0])
}

func TestVorzeHandleRotate(t *testing.T) {
	h := &vorzeHandler{}
	writes, err := h.Handle(Command{Kind: "Rotate", Step: 50, Clockwise: true})
	require.NoError(t, err)
	assert.Equal(t, []byte{50, 1}, writes[0].Data)
}

func TestKiirooHandleStop(t *testing.T) {
	h := &kiirooHandler{}
	writes, err := h.Handle(Command{Kind: "Stop"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, writes[0].Data)
}

func TestFleshlightHandleLinear(t *testing.T) {
	h := &fleshlightHandler{}
	writes, err := h.Handle(Command{Kind: "Linear", PositionStep: 50, DurationMs: 500})
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Len(t, writes[0].Data, 2)
}
