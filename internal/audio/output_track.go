package audio

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"

	"github.com/Harshitk-cp/voicebridge/internal/metrics"
)

const (
	// OutputSampleRate is the speech model's synthesis rate
	OutputSampleRate = 24000

	// FrameSamples is the samples per outbound frame (20ms at 24kHz)
	FrameSamples = 480

	// FrameDuration is the outbound frame interval
	FrameDuration = 20 * time.Millisecond

	// MimeTypeL16 is linear 16-bit PCM, network byte order on the wire
	MimeTypeL16 = "audio/L16"
)

// OutputTrack is a jitter-buffered local audio track fed by speech model
// output. A pacer goroutine emits one 20ms frame per tick on a schedule
// anchored to the start time rather than the previous tick, so sleep jitter
// never accumulates. Empty pulls produce silence and count an underrun.
type OutputTrack struct {
	clientID string
	logger   *zap.Logger
	metrics  metrics.Collector
	track    *webrtc.TrackLocalStaticSample

	mu        sync.Mutex
	queue     [][]float64
	queued    int
	underruns uint64
	frames    uint64

	stopChan chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewOutputTrack creates the local track for one client
func NewOutputTrack(clientID string, logger *zap.Logger, collector metrics.Collector) (*OutputTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  MimeTypeL16,
			ClockRate: OutputSampleRate,
			Channels:  1,
		},
		"audio", "voicebridge-"+clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create output track: %w", err)
	}
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	return &OutputTrack{
		clientID: clientID,
		logger:   logger.With(zap.String("client_id", clientID)),
		metrics:  collector,
		track:    track,
		stopChan: make(chan struct{}),
	}, nil
}

// Track exposes the underlying local track for AddTrack
func (t *OutputTrack) Track() *webrtc.TrackLocalStaticSample {
	return t.track
}

// Start launches the pacer goroutine
func (t *OutputTrack) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	go t.pace()
}

// Stop halts the pacer
func (t *OutputTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

// EnqueueBase64 queues base64 PCM16 audio from the speech stream
func (t *OutputTrack) EnqueueBase64(data string, sampleRate int) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("failed to decode audio payload: %w", err)
	}

	pcm := DecodePCM16(raw)
	samples := make([]float64, len(pcm))
	for i, s := range pcm {
		samples[i] = float64(s) / maxInt16
	}
	t.Enqueue(samples, sampleRate)
	return nil
}

// Enqueue queues normalized samples, resampling to the output rate if needed
func (t *OutputTrack) Enqueue(samples []float64, sampleRate int) {
	if len(samples) == 0 {
		return
	}
	if sampleRate != OutputSampleRate && sampleRate > 0 {
		t.logger.Debug("resampling output audio",
			zap.Int("from", sampleRate),
			zap.Int("to", OutputSampleRate))
		samples = Resample(samples, sampleRate, OutputSampleRate)
	}

	t.mu.Lock()
	t.queue = append(t.queue, samples)
	t.queued += len(samples)
	t.mu.Unlock()
}

// Clear drops all buffered audio and returns the dropped sample count.
// Called on barge-in so stale model speech never plays over the user.
func (t *OutputTrack) Clear() int {
	t.mu.Lock()
	dropped := t.queued
	t.queue = nil
	t.queued = 0
	t.mu.Unlock()

	if dropped > 0 {
		t.logger.Debug("cleared output buffer", zap.Int("dropped_samples", dropped))
	}
	return dropped
}

// Underruns returns how many frames were emitted as silence for lack of data
func (t *OutputTrack) Underruns() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.underruns
}

// FramesSent returns how many frames the pacer has emitted
func (t *OutputTrack) FramesSent() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// BufferedSamples returns the queued sample count
func (t *OutputTrack) BufferedSamples() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queued
}

func (t *OutputTrack) pace() {
	start := time.Now()

	for {
		t.mu.Lock()
		frames := t.frames
		t.mu.Unlock()

		expected := start.Add(time.Duration(frames) * FrameDuration)
		if wait := time.Until(expected); wait > 0 {
			select {
			case <-t.stopChan:
				return
			case <-time.After(wait):
			}
		} else {
			select {
			case <-t.stopChan:
				return
			default:
			}
		}

		frame := t.nextFrame()
		if err := t.track.WriteSample(media.Sample{
			Data:     encodeL16(frame),
			Duration: FrameDuration,
		}); err != nil {
			t.logger.Error("failed to write audio sample", zap.Error(err))
		}
	}
}

// nextFrame pulls one frame's worth of samples. The head chunk is split when
// it is longer than a frame, with the remainder pushed back to the front; a
// short head is zero-padded rather than merged with the next chunk. An empty
// queue yields silence and counts an underrun.
func (t *OutputTrack) nextFrame() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frames++

	if len(t.queue) == 0 {
		t.underruns++
		t.metrics.AudioUnderrun(t.clientID)
		return make([]float64, FrameSamples)
	}

	head := t.queue[0]
	t.queue = t.queue[1:]

	if len(head) >= FrameSamples {
		frame := head[:FrameSamples]
		if len(head) > FrameSamples {
			remaining := head[FrameSamples:]
			t.queue = append([][]float64{remaining}, t.queue...)
		}
		t.queued -= FrameSamples
		return frame
	}

	frame := make([]float64, FrameSamples)
	copy(frame, head)
	t.queued -= len(head)
	return frame
}

// encodeL16 converts normalized samples to big-endian PCM16, the byte order
// RTP uses for L16 payloads
func encodeL16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := uint16(int16(s * maxInt16))
		out[i*2] = byte(v >> 8)
		out[i*2+1] = byte(v)
	}
	return out
}
