package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toneWindow(freq float64, amplitude float64, frames int) []int16 {
	out := make([]int16, VADFrameSize*frames)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/TargetSampleRate))
	}
	return out
}

func TestVADRejectsSilence(t *testing.T) {
	v, err := NewVAD(2)
	require.NoError(t, err)

	silence := make([]int16, VADFrameSize*4)
	speech, speechFrames, totalFrames := v.HasSpeech(silence)

	assert.False(t, speech)
	assert.Equal(t, 0, speechFrames)
	assert.Equal(t, 4, totalFrames)
}

func TestVADPassesTone(t *testing.T) {
	for aggressiveness := 0; aggressiveness <= 3; aggressiveness++ {
		v, err := NewVAD(aggressiveness)
		require.NoError(t, err)

		window := toneWindow(440, 8000, 4)
		speech, speechFrames, totalFrames := v.HasSpeech(window)

		assert.True(t, speech, "aggressiveness %d", aggressiveness)
		assert.Equal(t, 4, speechFrames)
		assert.Equal(t, 4, totalFrames)
	}
}

func TestVADQuietNoiseFiltered(t *testing.T) {
	v, err := NewVAD(3)
	require.NoError(t, err)

	// Low-level hum stays under the aggressive threshold
	window := toneWindow(60, 300, 4)
	speech, _, _ := v.HasSpeech(window)
	assert.False(t, speech)

	// The permissive setting lets the same hum through
	v, err = NewVAD(0)
	require.NoError(t, err)
	speech, _, _ = v.HasSpeech(window)
	assert.True(t, speech)
}

func TestVADIgnoresPartialTrailingFrame(t *testing.T) {
	v, err := NewVAD(2)
	require.NoError(t, err)

	window := toneWindow(440, 8000, 1)
	window = append(window, make([]int16, VADFrameSize/2)...)

	speech, speechFrames, totalFrames := v.HasSpeech(window)
	assert.True(t, speech)
	assert.Equal(t, 1, speechFrames)
	assert.Equal(t, 1, totalFrames)
}

func TestVADFrameSizeEnforced(t *testing.T) {
	v, err := NewVAD(2)
	require.NoError(t, err)

	_, err = v.IsSpeech(make([]int16, VADFrameSize-1))
	assert.Error(t, err)
}

func TestVADAggressivenessRange(t *testing.T) {
	_, err := NewVAD(4)
	assert.Error(t, err)
	_, err = NewVAD(-1)
	assert.Error(t, err)
}

func TestDecodePCM16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		raw[i*2] = byte(uint16(s))
		raw[i*2+1] = byte(uint16(s) >> 8)
	}

	assert.Equal(t, samples, DecodePCM16(raw))
}
