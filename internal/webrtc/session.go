package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/voicebridge/internal/audio"
	"github.com/Harshitk-cp/voicebridge/internal/bridge"
	"github.com/Harshitk-cp/voicebridge/internal/metrics"
	"github.com/Harshitk-cp/voicebridge/internal/model"
	"github.com/Harshitk-cp/voicebridge/internal/protocol"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// audioQueueDepth bounds the per-client forwarding queue. When full the
// oldest packet is evicted so fresh audio wins over stale audio.
const audioQueueDepth = 32

// SessionDeps carries the shared collaborators every client session needs.
type SessionDeps struct {
	StreamFactory bridge.StreamFactory
	Tools         *bridge.ToolRegistry
	VAD           *audio.VAD
	MessengerOpts protocol.Options
	ProcessorOpts audio.ProcessorOptions
	Logger        *zap.Logger
	Collector     metrics.Collector

	// SystemPrompt, when set, makes the bridge open each model session
	// itself instead of waiting for a client-driven prompt.
	SystemPrompt string
	VoiceID      string
}

// dataChannelSender adapts a pion data channel to the messenger's sender.
type dataChannelSender struct {
	dc *webrtc.DataChannel
}

func (s *dataChannelSender) Send(data []byte) error {
	return s.dc.Send(data)
}

func (s *dataChannelSender) IsOpen() bool {
	return s.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// ClientSession owns everything bound to one remote peer: the peer
// connection, the reliable messenger on its data channel, the ingestion
// pipeline, the paced output track, and the model bridge.
type ClientSession struct {
	clientID string
	logger   *zap.Logger
	metrics  metrics.Collector

	pc          *webrtc.PeerConnection
	dataChannel *webrtc.DataChannel
	messenger   *protocol.Messenger
	processor   *audio.Processor
	outputTrack *audio.OutputTrack
	bridge      *bridge.Session

	audioQueue chan model.AudioPacket

	mu           sync.Mutex
	lastActivity time.Time
	createdAt    time.Time

	cancel    context.CancelFunc
	closeOnce sync.Once

	onClosedMu sync.Mutex
	onClosed   func()
}

// newClientSession assembles the per-client object graph around an already
// created peer connection, output track, and data channel, then starts the
// model bridge and the audio forwarding loop.
func newClientSession(ctx context.Context, clientID string, pc *webrtc.PeerConnection, outputTrack *audio.OutputTrack, dc *webrtc.DataChannel, deps SessionDeps) (*ClientSession, error) {
	logger := deps.Logger.With(zap.String("client_id", clientID))
	if deps.Collector == nil {
		deps.Collector = metrics.NewNoopCollector()
	}

	stream, err := deps.StreamFactory(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("open model stream for %s: %w", clientID, err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	cs := &ClientSession{
		clientID:     clientID,
		logger:       logger,
		metrics:      deps.Collector,
		pc:           pc,
		dataChannel:  dc,
		outputTrack:  outputTrack,
		audioQueue:   make(chan model.AudioPacket, audioQueueDepth),
		lastActivity: time.Now(),
		createdAt:    time.Now(),
		cancel:       cancel,
	}

	cs.messenger = protocol.NewMessenger(clientID, &dataChannelSender{dc: dc}, deps.MessengerOpts, deps.Logger, deps.Collector)

	cs.bridge = bridge.NewSession(clientID, stream, deps.Tools, deps.VAD, bridge.Callbacks{
		OnEvent: func(event json.RawMessage) {
			cs.messenger.SendEvent(event, true)
		},
		OnAudioOutput: func(base64Audio string, sampleRate int) {
			if err := cs.outputTrack.EnqueueBase64(base64Audio, sampleRate); err != nil {
				logger.Warn("failed to enqueue model audio", zap.Error(err))
			}
		},
		OnBargeIn: func() {
			cs.processor.Clear()
			dropped := cs.outputTrack.Clear()
			logger.Info("cleared playback for barge-in", zap.Int("dropped_samples", dropped))
		},
		OnClosed: func() {
			cs.Close()
		},
	}, deps.Logger, deps.Collector)

	cs.messenger.SetEventCallback(func(event json.RawMessage) {
		cs.touch()
		if err := cs.bridge.HandleClientEvent(sessionCtx, event); err != nil {
			logger.Error("client event rejected", zap.Error(err))
		}
	})

	cs.processor = audio.NewProcessor(clientID, deps.ProcessorOpts, func() bool {
		return cs.bridge.Active() && cs.bridge.Ready()
	}, cs.enqueuePacket, deps.Logger, deps.Collector)

	dc.OnOpen(func() {
		logger.Info("data channel open", zap.String("label", dc.Label()))
		cs.touch()
		cs.messenger.FlushQueue()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		cs.touch()
		cs.messenger.HandleIncoming(msg.Data)
	})
	dc.OnClose(func() {
		logger.Info("data channel closed")
	})

	if err := cs.bridge.Start(sessionCtx); err != nil {
		cancel()
		stream.Close()
		return nil, err
	}
	if deps.SystemPrompt != "" {
		if err := cs.bridge.Bootstrap(sessionCtx, deps.SystemPrompt, deps.VoiceID); err != nil {
			logger.Error("session bootstrap failed", zap.Error(err))
		}
	}
	cs.outputTrack.Start()
	go cs.forwardLoop(sessionCtx)

	return cs, nil
}

// enqueuePacket hands one processed chunk to the forwarding loop, evicting
// the oldest queued packet when the queue is full.
func (cs *ClientSession) enqueuePacket(packet model.AudioPacket) {
	for {
		select {
		case cs.audioQueue <- packet:
			return
		default:
		}
		select {
		case stale := <-cs.audioQueue:
			cs.logger.Debug("evicting stale audio packet",
				zap.Int("size_bytes", stale.SizeBytes))
		default:
		}
	}
}

// forwardLoop delivers queued packets to the model stream in arrival order.
func (cs *ClientSession) forwardLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case packet := <-cs.audioQueue:
			if err := cs.bridge.ForwardAudio(ctx, packet); err != nil {
				cs.logger.Warn("audio forward failed", zap.Error(err))
				cs.metrics.ErrorOccurred(cs.clientID, "audio_forward")
			}
		}
	}
}

// remoteTrack is the slice of *webrtc.TrackRemote the ingest loop needs.
type remoteTrack interface {
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// ingestTrack drains one remote audio track into the processor.
func (cs *ClientSession) ingestTrack(track remoteTrack) {
	codec := track.Codec()
	cs.logger.Info("remote track started",
		zap.String("codec", codec.MimeType),
		zap.Uint32("clock_rate", codec.ClockRate))

	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			cs.logger.Info("remote track ended", zap.Error(err))
			return
		}
		if len(packet.Payload) == 0 {
			continue
		}
		frame, err := decodePayload(codec, packet.Payload)
		if err != nil {
			cs.logger.Warn("dropping undecodable payload", zap.Error(err))
			cs.metrics.ErrorOccurred(cs.clientID, "payload_decode")
			continue
		}
		cs.touch()
		cs.processor.ProcessFrame(frame)
	}
}

// setOnClosed installs the teardown hook. The registry uses it to drop
// its entry when the session closes.
func (cs *ClientSession) setOnClosed(hook func()) {
	cs.onClosedMu.Lock()
	cs.onClosed = hook
	cs.onClosedMu.Unlock()
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

// LastActivity reports the most recent inbound traffic time.
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastActivity
}

// Snapshot assembles the stats view exposed over HTTP.
func (cs *ClientSession) Snapshot() model.SessionSnapshot {
	messengerStats := cs.messenger.Stats()
	processorStats := cs.processor.Stats()
	return model.SessionSnapshot{
		ClientID:        cs.clientID,
		ConnectionState: cs.pc.ConnectionState().String(),
		MessagesSent:    messengerStats.MessagesSent,
		MessagesAcked:   messengerStats.MessagesAcked,
		MessagesRetried: messengerStats.MessagesRetried,
		MessagesFailed:  messengerStats.MessagesDropped,
		ChunksRebuilt:   messengerStats.ChunksReassembled,
		FramesIn:        processorStats.FramesProcessed,
		FramesOut:       cs.outputTrack.FramesSent(),
		Underruns:       cs.outputTrack.Underruns(),
	}
}

// Close tears the whole client session down exactly once.
func (cs *ClientSession) Close() {
	cs.closeOnce.Do(func() {
		cs.logger.Info("closing client session")
		cs.cancel()
		cs.processor.Stop()
		cs.outputTrack.Stop()
		cs.messenger.Reset()
		go cs.bridge.Close()
		if err := cs.pc.Close(); err != nil {
			cs.logger.Warn("peer connection close failed", zap.Error(err))
		}
		cs.onClosedMu.Lock()
		hook := cs.onClosed
		cs.onClosedMu.Unlock()
		if hook != nil {
			hook()
		}
	})
}
