package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buttplugio/buttplug-sub000/protocol"
)

type fakeHandler struct {
	writes            []protocol.Command
	allowDup          bool
	needsFullResend   bool
}

func (f *fakeHandler) Initialize() error { return nil }

func (f *fakeHandler) Handle(cmd protocol.Command) ([]protocol.HardwareWrite, error) {
	f.writes = append(f.writes, cmd)
	return []protocol.HardwareWrite{{Endpoint: "x", Data: []byte{byte(cmd.Step)}}}, nil
}

func (f *fakeHandler) Read(req protocol.SensorRead) (protocol.SensorReading, error) {
	return protocol.SensorReading{}, nil
}

func (f *fakeHandler) OnHardwareEvent(endpoint string, data []byte) (protocol.SensorReading, bool) {
	return protocol.SensorReading{}, false
}

func (f *fakeHandler) NeedsFullLinearResend() bool      { return f.needsFullResend }
func (f *fakeHandler) AllowsDuplicateSuppression() bool { return f.allowDup }

type fakeHW struct {
	writes []protocol.HardwareWrite
}

func (h *fakeHW) Write(w protocol.HardwareWrite) error {
	h.writes = append(h.writes, w)
	return nil
}

func (h *fakeHW) Read(endpoint string, expectedLength int) ([]byte, error) { return nil, nil }

func twoVibrateFeatures() []Feature {
	return []Feature{
		{Index: 0, ActuatorType: "Vibrate", StepLow: 0, StepHigh: 20, Messages: map[string]bool{"ScalarCmd": true}},
		{Index: 1, ActuatorType: "Vibrate", StepLow: 0, StepHigh: 20, Messages: map[string]bool{"ScalarCmd": true}},
	}
}

// TestScalarQuantisationMatchesSpecExample reproduces spec.md §8 scenario
// 3: Scalars 0.5 and 1.0 on step range 0..20 quantise to steps 10 and 20.
func TestScalarQuantisationMatchesSpecExample(t *testing.T) {
	handler := &fakeHandler{allowDup: true}
	hw := &fakeHW{}
	m := NewManager(twoVibrateFeatures(), handler, hw, 0)

	err := m.ApplyScalar([]ScalarCommand{
		{FeatureIndex: 0, Scalar: 0.5, ActuatorType: "Vibrate"},
		{FeatureIndex: 1, Scalar: 1.0, ActuatorType: "Vibrate"},
	}, "ScalarCmd")
	require.NoError(t, err)
	require.Len(t, handler.writes, 2)
	assert.Equal(t, uint32(10), handler.writes[0].Step)
	assert.Equal(t, uint32(20), handler.writes[1].Step)
}

// TestScalarDuplicateSuppressed reproduces spec.md §8 scenario 3's second
// half: an identical resend produces no additional hardware write.
func TestScalarDuplicateSuppressed(t *testing.T) {
	handler := &fakeHandler{allowDup: true}
	hw := &fakeHW{}
	m := NewManager(twoVibrateFeatures(), handler, hw, 0)

	cmds := []ScalarCommand{{FeatureIndex: 0, Scalar: 0.5, ActuatorType: "Vibrate"}}
	require.NoError(t, m.ApplyScalar(cmds, "ScalarCmd"))
	require.NoError(t, m.ApplyScalar(cmds, "ScalarCmd"))
	assert.Len(t, handler.writes, 1)
}

func TestScalarOutOfRangeRejected(t *testing.T) {
	handler := &fakeHandler{}
	m := NewManager(twoVibrateFeatures(), handler, &fakeHW{}, 0)
	err := m.ApplyScalar([]ScalarCommand{{FeatureIndex: 0, Scalar: 1.5}}, "ScalarCmd")
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestScalarUnknownFeatureIndexRejected(t *testing.T) {
	handler := &fakeHandler{}
	m := NewManager(twoVibrateFeatures(), handler, &fakeHW{}, 0)
	err := m.ApplyScalar([]ScalarCommand{{FeatureIndex: 99, Scalar: 0.5}}, "ScalarCmd")
	assert.ErrorIs(t, err, ErrFeatureIndex)
}

func TestScalarUnsupportedMessageKindRejected(t *testing.T) {
	handler := &fakeHandler{}
	features := []Feature{{Index: 0, StepLow: 0, StepHigh: 20, Messages: map[string]bool{"RotateCmd": true}}}
	m := NewManager(features, handler, &fakeHW{}, 0)
	err := m.ApplyScalar([]ScalarCommand{{FeatureIndex: 0, Scalar: 0.5}}, "ScalarCmd")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestStopAllZeroesEveryFeatureAndForcesFullWritePath(t *testing.T) {
	handler := &fakeHandler{allowDup: true}
	m := NewManager(twoVibrateFeatures(), handler, &fakeHW{}, 0)

	require.NoError(t, m.ApplyScalar([]ScalarCommand{{FeatureIndex: 0, Scalar: 0.5}}, "ScalarCmd"))
	require.NoError(t, m.StopAllFeatures())

	handler.writes = nil
	// After StopAllDevices, every feature cache is zero; a subsequent
	// non-zero command must not be suppressed as a duplicate of 0.
	require.NoError(t, m.ApplyScalar([]ScalarCommand{{FeatureIndex: 0, Scalar: 0.5}}, "ScalarCmd"))
	require.Len(t, handler.writes, 1)
	assert.Equal(t, uint32(10), handler.writes[0].Step)
}

func TestLinearDedupOnFullPairAndFullResendFlag(t *testing.T) {
	features := []Feature{{Index: 0, StepLow: 0, StepHigh: 99, Messages: map[string]bool{"LinearCmd": true}}}

	handler := &fakeHandler{needsFullResend: false}
	m := NewManager(features, handler, &fakeHW{}, 0)
	cmd := []LinearCommand{{FeatureIndex: 0, Position: 0.5, DurationMs: 500}}
	require.NoError(t, m.ApplyLinear(cmd))
	require.NoError(t, m.ApplyLinear(cmd))
	assert.Len(t, handler.writes, 1)

	handlerForce := &fakeHandler{needsFullResend: true}
	mForce := NewManager(features, handlerForce, &fakeHW{}, 0)
	require.NoError(t, mForce.ApplyLinear(cmd))
	require.NoError(t, mForce.ApplyLinear(cmd))
	assert.Len(t, handlerForce.writes, 2)
}

func TestMessageGapCoalescesRapidWrites(t *testing.T) {
	handler := &fakeHandler{allowDup: true}
	m := NewManager(twoVibrateFeatures(), handler, &fakeHW{}, 50)

	require.NoError(t, m.ApplyScalar([]ScalarCommand{{FeatureIndex: 0, Scalar: 0.5}}, "ScalarCmd"))
	require.NoError(t, m.ApplyScalar([]ScalarCommand{{FeatureIndex: 0, Scalar: 1.0}}, "ScalarCmd"))
	assert.Len(t, handler.writes, 1, "second write within the gap should be coalesced")

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, m.ApplyScalar([]ScalarCommand{{FeatureIndex: 0, Scalar: 0.25}}, "ScalarCmd"))
	assert.Len(t, handler.writes, 2)
}
