package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame := Messages{
		{RequestServerInfo: &RequestServerInfo{Id: 1, ClientName: "T", MessageVersion: 3}},
	}
	b, err := EncodeFrame(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"RequestServerInfo":{"Id":1,"ClientName":"T","MessageVersion":3}}]`, string(b))

	decoded, raws, err := DecodeFrame(b)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Len(t, raws, 1)
	require.NotNil(t, decoded[0].RequestServerInfo)
	assert.Equal(t, "T", decoded[0].RequestServerInfo.ClientName)
	assert.Equal(t, uint32(1), decoded[0].ID())
	assert.Equal(t, "RequestServerInfo", decoded[0].Name())
}

func TestDecodeUnknownMessageRecoversID(t *testing.T) {
	raw := []byte(`[{"SomeFutureCmd":{"Id":9,"Whatever":true}}]`)
	decoded, raws, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "", decoded[0].Name())
	assert.Equal(t, uint32(9), ExtractID(raws[0]))
}

func TestSplitFramesHonoursLimit(t *testing.T) {
	msgs := Messages{
		{Ok: &Ok{Id: 1}},
		{Ok: &Ok{Id: 2}},
		{Ok: &Ok{Id: 3}},
	}
	batches := SplitFrames(msgs, 20)
	require.True(t, len(batches) > 1)
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.Equal(t, 3, total)
}

func TestSplitFramesNoLimit(t *testing.T) {
	msgs := Messages{{Ok: &Ok{Id: 1}}, {Ok: &Ok{Id: 2}}}
	batches := SplitFrames(msgs, 0)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}
