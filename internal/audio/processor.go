package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/voicebridge/internal/metrics"
	"github.com/Harshitk-cp/voicebridge/internal/model"
)

const (
	// TargetSampleRate is the speech stream's required input rate
	TargetSampleRate = 16000

	// TargetChannels is the speech stream's required channel count
	TargetChannels = 1

	defaultChunkSamples  = 4096
	defaultFlushInterval = 10
	defaultGainReduction = 0.8
)

// ProcessorOptions tunes the ingestion pipeline. Zero values fall back to
// defaults.
type ProcessorOptions struct {
	// ChunkSamples is the accumulation threshold before a flush
	ChunkSamples int

	// FlushInterval forces a flush every N frames even below the threshold
	FlushInterval int

	// GainReduction is applied after normalization to leave headroom
	GainReduction float64
}

// ProcessorStats is a snapshot of pipeline counters
type ProcessorStats struct {
	FramesProcessed     uint64 `json:"frames_processed"`
	FramesIgnored       uint64 `json:"frames_ignored_before_ready"`
	PacketsForwarded    uint64 `json:"packets_forwarded"`
	BytesForwarded      uint64 `json:"bytes_forwarded"`
	ConversionErrors    uint64 `json:"conversion_errors"`
	TimingCheckFailures uint64 `json:"timing_check_failures"`
}

// Processor turns decoded peer audio frames into 16kHz mono PCM16 packets
// for the speech stream. Frames that arrive before the session is ready are
// counted and discarded rather than buffered: audio from before the model is
// listening is stale by definition.
type Processor struct {
	clientID string
	logger   *zap.Logger
	metrics  metrics.Collector
	opts     ProcessorOptions

	ready    func() bool
	onPacket func(model.AudioPacket)

	mu         sync.Mutex
	buffer     []float64
	sampleRate int
	frameCount int
	stats      ProcessorStats
	stopped    bool
}

// NewProcessor creates a Processor for one client. The ready callback gates
// ingestion; onPacket receives each finished packet.
func NewProcessor(clientID string, opts ProcessorOptions, ready func() bool, onPacket func(model.AudioPacket), logger *zap.Logger, collector metrics.Collector) *Processor {
	if opts.ChunkSamples <= 0 {
		opts.ChunkSamples = defaultChunkSamples
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.GainReduction <= 0 || opts.GainReduction > 1 {
		opts.GainReduction = defaultGainReduction
	}
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &Processor{
		clientID: clientID,
		logger:   logger.With(zap.String("client_id", clientID)),
		metrics:  collector,
		opts:     opts,
		ready:    ready,
		onPacket: onPacket,
	}
}

// ProcessFrame ingests one decoded frame
func (p *Processor) ProcessFrame(frame Frame) {
	p.mu.Lock()

	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stats.FramesProcessed++
	p.frameCount++
	p.metrics.AudioFrameReceived(p.clientID, len(frame.Data)*2)

	if p.ready != nil && !p.ready() {
		p.stats.FramesIgnored++
		ignored := p.stats.FramesIgnored
		p.mu.Unlock()

		p.metrics.AudioFrameDroppedNotReady(p.clientID)
		if ignored%50 == 1 {
			p.logger.Debug("ignoring audio before session readiness",
				zap.Uint64("ignored", ignored))
		}
		return
	}

	mono, err := frame.ToMono()
	if err != nil {
		p.stats.ConversionErrors++
		p.mu.Unlock()

		p.metrics.ErrorOccurred(p.clientID, "frame_convert")
		p.logger.Error("failed to convert audio frame", zap.Error(err))
		return
	}

	p.buffer = append(p.buffer, mono...)
	p.sampleRate = frame.SampleRate

	var packet model.AudioPacket
	flushed := false
	if len(p.buffer) >= p.opts.ChunkSamples || p.frameCount%p.opts.FlushInterval == 0 {
		packet, flushed = p.flushLocked()
	}
	onPacket := p.onPacket
	p.mu.Unlock()

	if flushed && onPacket != nil {
		onPacket(packet)
	}
}

// Flush forces out whatever is buffered
func (p *Processor) Flush() {
	p.mu.Lock()
	packet, flushed := p.flushLocked()
	onPacket := p.onPacket
	p.mu.Unlock()

	if flushed && onPacket != nil {
		onPacket(packet)
	}
}

// Clear discards buffered audio without forwarding it. Used on barge-in
// so a stale partial chunk never trails the interruption.
func (p *Processor) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = nil
}

// Stop discards buffered audio and refuses further frames
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.buffer = nil
}

// Stats returns a snapshot of the pipeline counters
func (p *Processor) Stats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// IgnoredFrames returns how many frames arrived before session readiness
func (p *Processor) IgnoredFrames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.FramesIgnored
}

// flushLocked drains the buffer into a packet. Caller holds p.mu and is
// responsible for invoking the packet callback after unlocking.
func (p *Processor) flushLocked() (model.AudioPacket, bool) {
	if len(p.buffer) == 0 {
		return model.AudioPacket{}, false
	}
	samples := p.buffer
	p.buffer = nil

	if p.sampleRate != TargetSampleRate && p.sampleRate > 0 {
		inputDuration := float64(len(samples)) / float64(p.sampleRate)
		samples = Resample(samples, p.sampleRate, TargetSampleRate)

		outputDuration := float64(len(samples)) / float64(TargetSampleRate)
		if inputDuration > 0 {
			durationError := math.Abs(outputDuration-inputDuration) / inputDuration * 100
			if durationError > 0.1 {
				p.stats.TimingCheckFailures++
				p.logger.Error("resample timing drift over tolerance",
					zap.Float64("error_percent", durationError))
			}
		}
	}
	if len(samples) == 0 {
		return model.AudioPacket{}, false
	}

	// Renormalize overdriven audio before the gain stage
	peak := 0.0
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak > 1.0 {
		scale(samples, 1.0/peak)
	}
	scale(samples, p.opts.GainReduction)

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*maxInt16)))
	}

	packet := model.AudioPacket{
		AudioData:  base64.StdEncoding.EncodeToString(pcm),
		SampleRate: TargetSampleRate,
		Channels:   TargetChannels,
		Format:     "pcm16",
		Timestamp:  time.Now().UnixMilli(),
		ClientID:   p.clientID,
		SizeBytes:  len(pcm),
	}

	p.stats.PacketsForwarded++
	p.stats.BytesForwarded += uint64(len(pcm))
	p.metrics.AudioPacketForwarded(p.clientID, len(pcm))

	return packet, true
}
