package audio

import (
	"fmt"
	"math"
)

// SampleFormat identifies how raw sample values are scaled
type SampleFormat int

const (
	// FormatS16 is signed 16-bit PCM
	FormatS16 SampleFormat = iota
	// FormatS32 is signed 32-bit PCM
	FormatS32
	// FormatFloat is floating point, nominally in [-1, 1]
	FormatFloat
)

const (
	maxInt16 = 32767.0
	maxInt32 = 2147483647.0
)

// Frame is one decoded audio frame from a peer track. Data is the raw sample
// buffer in row-major order; Shape describes its layout the way the decoder
// produced it (either [n] or [rows, cols]). Samples is the per-channel sample
// count the transport reported for the frame.
type Frame struct {
	Data       []float64
	Shape      []int
	Samples    int
	SampleRate int
	Format     SampleFormat
}

// ToMono reduces a frame to a single normalized channel in [-1, 1].
//
// Decoders disagree about layout: some hand back channels x samples, some
// samples x channels, and some a flat interleaved buffer twice the reported
// sample count. The layout is inferred from the shape and the reported
// sample count, and the left channel wins whenever there are two.
func (f *Frame) ToMono() ([]float64, error) {
	var mono []float64

	switch len(f.Shape) {
	case 2:
		rows, cols := f.Shape[0], f.Shape[1]
		if rows*cols != len(f.Data) {
			return nil, fmt.Errorf("frame shape [%d %d] does not match %d samples", rows, cols, len(f.Data))
		}

		switch {
		case rows == 1 && cols == f.Samples*2:
			// Interleaved stereo packed into a single row
			mono = everyOther(f.Data)
		case rows < cols:
			// Channels x samples: first row is the left channel
			mono = append([]float64(nil), f.Data[:cols]...)
		default:
			// Samples x channels: first column is the left channel
			if cols == 1 {
				mono = append([]float64(nil), f.Data...)
			} else {
				mono = make([]float64, rows)
				for i := 0; i < rows; i++ {
					mono[i] = f.Data[i*cols]
				}
			}
		}

	case 1, 0:
		if f.Samples > 0 && len(f.Data) == f.Samples*2 {
			// Interleaved stereo
			mono = everyOther(f.Data)
		} else {
			mono = append([]float64(nil), f.Data...)
		}

	default:
		return nil, fmt.Errorf("unsupported frame shape %v", f.Shape)
	}

	normalize(mono, f.Format)
	return mono, nil
}

func everyOther(data []float64) []float64 {
	out := make([]float64, 0, (len(data)+1)/2)
	for i := 0; i < len(data); i += 2 {
		out = append(out, data[i])
	}
	return out
}

// normalize scales samples into [-1, 1] in place. Float input that looks
// like unscaled integer data (peak above 10) is rescaled by the matching
// integer range.
func normalize(samples []float64, format SampleFormat) {
	switch format {
	case FormatS16:
		scale(samples, 1.0/maxInt16)
	case FormatS32:
		scale(samples, 1.0/maxInt32)
	case FormatFloat:
		peak := 0.0
		for _, s := range samples {
			if a := math.Abs(s); a > peak {
				peak = a
			}
		}
		if peak > 10.0 {
			if peak <= maxInt16 {
				scale(samples, 1.0/maxInt16)
			} else if peak <= maxInt32 {
				scale(samples, 1.0/maxInt32)
			}
		}
	}
}

func scale(samples []float64, factor float64) {
	for i := range samples {
		samples[i] *= factor
	}
}
