package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResampleDurationExact(t *testing.T) {
	cases := []struct {
		name     string
		from, to int
		length   int
	}{
		{"48k to 16k even", 48000, 16000, 4800},
		{"48k to 16k odd", 48000, 16000, 4411},
		{"44.1k to 16k", 44100, 16000, 4410},
		{"16k to 24k", 16000, 24000, 1600},
		{"8k to 16k", 8000, 16000, 800},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := make([]float64, tc.length)
			for i := range in {
				in[i] = math.Sin(2 * math.Pi * 440 * float64(i) / float64(tc.from))
			}

			out := Resample(in, tc.from, tc.to)

			inputDuration := float64(tc.length) / float64(tc.from)
			outputDuration := float64(len(out)) / float64(tc.to)
			durationError := math.Abs(outputDuration-inputDuration) / inputDuration * 100
			assert.Less(t, durationError, 0.1, "duration drift over tolerance")
		})
	}
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	in := []float64{0.1, 0.2, 0.3}
	out := Resample(in, 16000, 16000)
	assert.Equal(t, in, out)
}

func TestResampleShortInputInterpolatesLinearly(t *testing.T) {
	// Below the kernel support the linear path takes over; a ramp must
	// stay a ramp with exact endpoints.
	in := make([]float64, 48)
	for i := range in {
		in[i] = float64(i) / 47
	}

	out := Resample(in, 48000, 16000)
	require.Equal(t, 16, len(out))

	assert.InDelta(t, 0.0, out[0], 1e-9)
	assert.InDelta(t, 1.0, out[len(out)-1], 1e-9)
	for i := 1; i < len(out); i++ {
		assert.Greater(t, out[i], out[i-1])
	}
}

func TestResampleSuppressesAliasing(t *testing.T) {
	// A 12kHz tone sits above the 8kHz Nyquist of the target rate. The
	// low-pass kernel must remove it instead of folding it down to 4kHz.
	in := make([]float64, 4800)
	for i := range in {
		in[i] = 0.5 * math.Sin(2*math.Pi*12000*float64(i)/48000)
	}

	out := Resample(in, 48000, 16000)
	require.Equal(t, 1600, len(out))

	var rms float64
	for _, s := range out {
		rms += s * s
	}
	rms = math.Sqrt(rms / float64(len(out)))
	assert.Less(t, rms, 0.02, "out-of-band energy leaked through")
}

func TestResamplePassesDCUnchanged(t *testing.T) {
	in := make([]float64, 4800)
	for i := range in {
		in[i] = 0.25
	}

	out := Resample(in, 48000, 16000)
	for i, s := range out {
		require.InDelta(t, 0.25, s, 1e-9, "sample %d", i)
	}
}

func TestResamplePreservesAmplitude(t *testing.T) {
	in := make([]float64, 4800)
	for i := range in {
		in[i] = 0.5 * math.Sin(2*math.Pi*200*float64(i)/48000)
	}

	out := Resample(in, 48000, 16000)

	var rmsIn, rmsOut float64
	for _, s := range in {
		rmsIn += s * s
	}
	for _, s := range out {
		rmsOut += s * s
	}
	rmsIn = math.Sqrt(rmsIn / float64(len(in)))
	rmsOut = math.Sqrt(rmsOut / float64(len(out)))

	assert.InDelta(t, rmsIn, rmsOut, 0.01)
}
