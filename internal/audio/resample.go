package audio

import "math"

// sincHalfWidth is the one-sided kernel support in input samples. The full
// window spans 2*sincHalfWidth samples around each output position.
const sincHalfWidth = 32

// Resample converts samples between rates with a Hann-windowed sinc kernel,
// low-passed at the narrower Nyquist so downsampling does not alias. Inputs
// shorter than the kernel support fall back to linear interpolation. The
// output length is derived from the input duration, not a rounded ratio, so
// the resampled audio keeps its exact timing. Sizing it any other way makes
// speech audibly fast or slow after enough chunks.
func Resample(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	targetLength := len(samples) * toRate / fromRate
	if targetLength <= 0 {
		return nil
	}
	if targetLength == 1 {
		return []float64{samples[0]}
	}

	if len(samples) < 2*sincHalfWidth {
		return resampleLinear(samples, targetLength)
	}
	return resampleSinc(samples, targetLength, fromRate, toRate)
}

func resampleSinc(samples []float64, targetLength, fromRate, toRate int) []float64 {
	cutoff := 1.0
	if toRate < fromRate {
		cutoff = float64(toRate) / float64(fromRate)
	}

	out := make([]float64, targetLength)
	step := float64(len(samples)-1) / float64(targetLength-1)
	for i := range out {
		pos := float64(i) * step

		lo := int(math.Ceil(pos)) - sincHalfWidth
		hi := int(math.Floor(pos)) + sincHalfWidth
		if lo < 0 {
			lo = 0
		}
		if hi > len(samples)-1 {
			hi = len(samples) - 1
		}

		// Normalizing by the kernel sum keeps unity gain even where the
		// window is truncated at the buffer edges.
		var acc, norm float64
		for j := lo; j <= hi; j++ {
			x := pos - float64(j)
			w := cutoff * sinc(cutoff*x) * hann(x)
			acc += samples[j] * w
			norm += w
		}
		if norm != 0 {
			out[i] = acc / norm
		}
	}
	return out
}

func resampleLinear(samples []float64, targetLength int) []float64 {
	out := make([]float64, targetLength)
	step := float64(len(samples)-1) / float64(targetLength-1)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-12 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func hann(x float64) float64 {
	if math.Abs(x) >= sincHalfWidth {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*x/sincHalfWidth))
}
