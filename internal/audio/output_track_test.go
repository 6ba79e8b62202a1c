package audio

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTrack(t *testing.T) *OutputTrack {
	t.Helper()
	track, err := NewOutputTrack("c1", zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(track.Stop)
	return track
}

func TestOutputTrackHeadSplitAndPushback(t *testing.T) {
	track := newTestTrack(t)

	samples := make([]float64, 1000)
	for i := range samples {
		samples[i] = float64(i) / 1000
	}
	track.Enqueue(samples, OutputSampleRate)
	require.Equal(t, 1000, track.BufferedSamples())

	frame := track.nextFrame()
	require.Equal(t, FrameSamples, len(frame))
	assert.Equal(t, samples[0], frame[0])
	assert.Equal(t, samples[479], frame[479])
	assert.Equal(t, 520, track.BufferedSamples())

	frame = track.nextFrame()
	assert.Equal(t, samples[480], frame[0])
	assert.Equal(t, 40, track.BufferedSamples())

	// Short head is zero-padded, not merged with later chunks
	frame = track.nextFrame()
	assert.Equal(t, samples[960], frame[0])
	assert.Equal(t, 0.0, frame[40])
	assert.Equal(t, 0, track.BufferedSamples())

	assert.Zero(t, track.Underruns())
}

func TestOutputTrackUnderrunPerEmptyPull(t *testing.T) {
	track := newTestTrack(t)

	for i := 1; i <= 5; i++ {
		frame := track.nextFrame()
		require.Equal(t, FrameSamples, len(frame))
		for _, s := range frame {
			assert.Equal(t, 0.0, s)
		}
		assert.Equal(t, uint64(i), track.Underruns())
	}
	assert.Equal(t, uint64(5), track.FramesSent())
}

func TestOutputTrackClearForBargeIn(t *testing.T) {
	track := newTestTrack(t)

	track.Enqueue(make([]float64, 2000), OutputSampleRate)
	track.Enqueue(make([]float64, 3000), OutputSampleRate)

	dropped := track.Clear()
	assert.Equal(t, 5000, dropped)
	assert.Equal(t, 0, track.BufferedSamples())

	// Next pull after a clear is an underrun
	track.nextFrame()
	assert.Equal(t, uint64(1), track.Underruns())
}

func TestOutputTrackResamplesOnEnqueue(t *testing.T) {
	track := newTestTrack(t)

	// 16kHz input grows by 3/2 at the 24kHz output rate
	track.Enqueue(make([]float64, 1600), 16000)
	assert.Equal(t, 2400, track.BufferedSamples())
}

func TestOutputTrackEnqueueBase64(t *testing.T) {
	track := newTestTrack(t)

	pcm := make([]byte, 960*2)
	for i := 0; i < 960; i++ {
		pcm[i*2] = 0x00
		pcm[i*2+1] = 0x40 // 16384 little-endian
	}

	err := track.EnqueueBase64(base64.StdEncoding.EncodeToString(pcm), OutputSampleRate)
	require.NoError(t, err)
	require.Equal(t, 960, track.BufferedSamples())

	frame := track.nextFrame()
	assert.InDelta(t, 0.5, frame[0], 1e-3)
}

func TestOutputTrackEnqueueBase64Invalid(t *testing.T) {
	track := newTestTrack(t)
	assert.Error(t, track.EnqueueBase64("not base64!!", OutputSampleRate))
}

func TestOutputTrackL16Encoding(t *testing.T) {
	data := encodeL16([]float64{0.5, -1.0, 2.0})

	require.Equal(t, 6, len(data))
	assert.Equal(t, byte(0x3f), data[0]) // 16383 big-endian
	assert.Equal(t, byte(0xff), data[1])

	v := int16(uint16(data[2])<<8 | uint16(data[3]))
	assert.Equal(t, int16(-32767), v)

	// Clipped to full scale
	v = int16(uint16(data[4])<<8 | uint16(data[5]))
	assert.Equal(t, int16(32767), v)
}
