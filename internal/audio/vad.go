package audio

import (
	"fmt"
	"math"
)

const (
	// VADFrameDuration is the analysis window length in milliseconds
	VADFrameDuration = 30

	// VADFrameSize is the samples per analysis frame at the target rate
	VADFrameSize = TargetSampleRate * VADFrameDuration / 1000
)

// vadThresholds maps aggressiveness 0-3 to the minimum frame RMS, in int16
// scale, that counts as speech. Higher aggressiveness filters harder.
var vadThresholds = [4]float64{100, 220, 450, 900}

// VAD is an energy-based voice activity detector over fixed 30ms frames of
// 16kHz mono PCM. It is deliberately biased toward letting audio through:
// a false positive costs a little bandwidth, a false negative eats the start
// of an utterance.
type VAD struct {
	aggressiveness int
	threshold      float64
}

// NewVAD creates a detector with the given aggressiveness (0-3)
func NewVAD(aggressiveness int) (*VAD, error) {
	if aggressiveness < 0 || aggressiveness > 3 {
		return nil, fmt.Errorf("vad aggressiveness %d out of range 0-3", aggressiveness)
	}
	return &VAD{
		aggressiveness: aggressiveness,
		threshold:      vadThresholds[aggressiveness],
	}, nil
}

// Aggressiveness returns the configured level
func (v *VAD) Aggressiveness() int {
	return v.aggressiveness
}

// IsSpeech classifies one complete frame
func (v *VAD) IsSpeech(frame []int16) (bool, error) {
	if len(frame) != VADFrameSize {
		return false, fmt.Errorf("vad frame must be %d samples, got %d", VADFrameSize, len(frame))
	}

	var sum float64
	peak := 0.0
	for _, s := range frame {
		f := float64(s)
		sum += f * f
		if a := math.Abs(f); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sum / float64(len(frame)))

	// A strong transient counts even when the frame average stays low
	return rms >= v.threshold || peak >= v.threshold*8, nil
}

// HasSpeech reports whether any complete frame in the window contains
// speech. Trailing samples short of a full frame are ignored. A frame that
// fails analysis counts as speech: dropping audio on an analysis bug is the
// one failure mode this detector must never have.
func (v *VAD) HasSpeech(samples []int16) (bool, int, int) {
	speechFrames := 0
	totalFrames := 0

	for i := 0; i+VADFrameSize <= len(samples); i += VADFrameSize {
		totalFrames++
		speech, err := v.IsSpeech(samples[i : i+VADFrameSize])
		if err != nil || speech {
			speechFrames++
		}
	}
	return speechFrames > 0, speechFrames, totalFrames
}

// DecodePCM16 converts little-endian PCM16 bytes to samples. A trailing odd
// byte is dropped.
func DecodePCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return out
}
