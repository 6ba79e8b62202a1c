package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMonoPlanarStereo(t *testing.T) {
	// Channels x samples: left channel is the first row
	frame := Frame{
		Data:    []float64{1, 2, 3, 4, 9, 9, 9, 9},
		Shape:   []int{2, 4},
		Samples: 4,
		Format:  FormatFloat,
	}

	mono, err := frame.ToMono()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, mono)
}

func TestToMonoSamplesByChannels(t *testing.T) {
	// Samples x channels: left channel is the first column
	frame := Frame{
		Data:    []float64{1, 9, 2, 9, 3, 9, 4, 9},
		Shape:   []int{4, 2},
		Samples: 4,
		Format:  FormatFloat,
	}

	mono, err := frame.ToMono()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, mono)
}

func TestToMonoInterleavedSingleRow(t *testing.T) {
	// (1, 2N) with N reported samples is interleaved stereo
	frame := Frame{
		Data:    []float64{1, 9, 2, 9, 3, 9},
		Shape:   []int{1, 6},
		Samples: 3,
		Format:  FormatFloat,
	}

	mono, err := frame.ToMono()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, mono)
}

func TestToMonoFlatInterleaved(t *testing.T) {
	frame := Frame{
		Data:    []float64{1, 9, 2, 9, 3, 9, 4, 9},
		Shape:   []int{8},
		Samples: 4,
		Format:  FormatFloat,
	}

	mono, err := frame.ToMono()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, mono)
}

func TestToMonoFlatMonoPassthrough(t *testing.T) {
	frame := Frame{
		Data:    []float64{1, 2, 3, 4},
		Shape:   []int{4},
		Samples: 4,
		Format:  FormatFloat,
	}

	mono, err := frame.ToMono()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, mono)
}

func TestToMonoShapeMismatch(t *testing.T) {
	frame := Frame{
		Data:    []float64{1, 2, 3},
		Shape:   []int{2, 4},
		Samples: 4,
	}

	_, err := frame.ToMono()
	assert.Error(t, err)
}

func TestNormalizeS16(t *testing.T) {
	frame := Frame{
		Data:    []float64{32767, -32767, 0},
		Shape:   []int{3},
		Samples: 3,
		Format:  FormatS16,
	}

	mono, err := frame.ToMono()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mono[0], 1e-9)
	assert.InDelta(t, -1.0, mono[1], 1e-9)
	assert.InDelta(t, 0.0, mono[2], 1e-9)
}

func TestNormalizeS32(t *testing.T) {
	frame := Frame{
		Data:    []float64{2147483647, -2147483647},
		Shape:   []int{2},
		Samples: 2,
		Format:  FormatS32,
	}

	mono, err := frame.ToMono()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mono[0], 1e-9)
	assert.InDelta(t, -1.0, mono[1], 1e-9)
}

func TestNormalizeFloatHeuristic(t *testing.T) {
	// Integer-scale values arriving as floats are detected by their peak
	frame := Frame{
		Data:    []float64{16384, -16384},
		Shape:   []int{2},
		Samples: 2,
		Format:  FormatFloat,
	}

	mono, err := frame.ToMono()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, mono[0], 1e-3)

	// Already-normalized floats are left alone
	frame = Frame{
		Data:    []float64{0.25, -0.25},
		Shape:   []int{2},
		Samples: 2,
		Format:  FormatFloat,
	}
	mono, err = frame.ToMono()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, mono[0], 1e-9)
}
