package webrtc

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/voicebridge/internal/audio"
	"github.com/Harshitk-cp/voicebridge/internal/metrics"
	"github.com/Harshitk-cp/voicebridge/internal/model"
	"github.com/Harshitk-cp/voicebridge/internal/signaling"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Master is the initiator role: it waits for offers relayed from remote
// peers, answers them, and owns the resulting client sessions.
type Master struct {
	ctx        context.Context
	api        *webrtc.API
	peerConfig webrtc.Configuration
	relay      *signaling.Client
	registry   *Registry
	deps       SessionDeps
	logger     *zap.Logger
}

// NewMaster creates the initiator role handler.
func NewMaster(ctx context.Context, api *webrtc.API, peerConfig webrtc.Configuration, relay *signaling.Client, registry *Registry, deps SessionDeps) *Master {
	if deps.Collector == nil {
		deps.Collector = metrics.NewNoopCollector()
	}
	return &Master{
		ctx:        ctx,
		api:        api,
		peerConfig: peerConfig,
		relay:      relay,
		registry:   registry,
		deps:       deps,
		logger:     deps.Logger.With(zap.String("role", "master")),
	}
}

// HandleSignal dispatches one relay message. Decode failures are logged
// and the message discarded.
func (m *Master) HandleSignal(msg model.SignalMessage) {
	switch msg.Action {
	case model.ActionSDPOffer:
		if err := m.handleOffer(msg.SenderClientID, msg.MessagePayload); err != nil {
			m.logger.Error("failed to handle offer",
				zap.String("client_id", msg.SenderClientID),
				zap.Error(err))
			m.deps.Collector.PeerFailure(msg.SenderClientID, "offer")
		}
	case model.ActionICECandidate:
		m.handleCandidate(msg.SenderClientID, msg.MessagePayload)
	case model.ActionSDPAnswer:
		m.logger.Warn("unexpected answer in initiator role",
			zap.String("client_id", msg.SenderClientID))
	default:
		m.logger.Warn("discarding unknown signaling action",
			zap.String("action", msg.Action))
	}
}

func (m *Master) handleOffer(clientID, payload string) error {
	var offer webrtc.SessionDescription
	if err := signaling.DecodePayload(payload, &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	m.logger.Info("received offer", zap.String("client_id", clientID))

	pc, err := m.api.NewPeerConnection(m.peerConfig)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	outputTrack, err := audio.NewOutputTrack(clientID, m.deps.Logger, m.deps.Collector)
	if err != nil {
		pc.Close()
		return err
	}

	// Track and channel registration must precede negotiation, or they
	// are absent from the answer.
	sender, err := pc.AddTrack(outputTrack.Track())
	if err != nil {
		pc.Close()
		return fmt.Errorf("add output track: %w", err)
	}
	go drainRTCP(sender)

	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}

	session, err := newClientSession(m.ctx, clientID, pc, outputTrack, dc, m.deps)
	if err != nil {
		pc.Close()
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go session.ingestTrack(track)
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := m.relay.Send(model.ActionICECandidate, clientID, candidate.ToJSON()); err != nil {
			m.logger.Warn("failed to relay ICE candidate", zap.Error(err))
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Info("peer connection state changed",
			zap.String("client_id", clientID),
			zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			m.deps.Collector.PeerConnected(clientID)
		case webrtc.PeerConnectionStateFailed:
			m.deps.Collector.PeerFailure(clientID, "connection")
			session.Close()
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			m.deps.Collector.PeerDisconnected(clientID)
			session.Close()
		}
	})

	m.registry.Put(clientID, session)

	if err := pc.SetRemoteDescription(offer); err != nil {
		session.Close()
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		session.Close()
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		session.Close()
		return fmt.Errorf("set local description: %w", err)
	}

	if err := m.relay.Send(model.ActionSDPAnswer, clientID, pc.LocalDescription()); err != nil {
		session.Close()
		return fmt.Errorf("relay answer: %w", err)
	}
	m.logger.Info("sent answer", zap.String("client_id", clientID))
	return nil
}

func (m *Master) handleCandidate(clientID, payload string) {
	session, ok := m.registry.Get(clientID)
	if !ok {
		m.logger.Warn("dropping ICE candidate without peer connection",
			zap.String("client_id", clientID))
		return
	}

	var candidate webrtc.ICECandidateInit
	if err := signaling.DecodePayload(payload, &candidate); err != nil {
		m.logger.Warn("discarding undecodable ICE candidate", zap.Error(err))
		return
	}
	if err := session.pc.AddICECandidate(candidate); err != nil {
		m.logger.Warn("failed to add ICE candidate",
			zap.String("client_id", clientID),
			zap.Error(err))
	}
}

// drainRTCP consumes sender reports so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
