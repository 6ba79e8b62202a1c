package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/voicebridge/internal/audio"
	"github.com/Harshitk-cp/voicebridge/internal/metrics"
	"github.com/Harshitk-cp/voicebridge/internal/model"
	"github.com/Harshitk-cp/voicebridge/internal/signaling"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	startAttempts   = 3
	startRetryDelay = 5 * time.Second
)

// Viewer is the responder role: it constructs the offer locally, sends it
// through the relay to the remote peer, and finalizes the connection when
// the matching answer arrives. Duplicate or out-of-state answers are
// rejected by a single-use guard.
type Viewer struct {
	ctx        context.Context
	api        *webrtc.API
	peerConfig webrtc.Configuration
	relay      *signaling.Client
	registry   *Registry
	deps       SessionDeps
	remoteID   string
	logger     *zap.Logger

	mu              sync.Mutex
	session         *ClientSession
	answerProcessed bool
}

// NewViewer creates the responder role handler. remoteID addresses the
// peer the offer is relayed to.
func NewViewer(ctx context.Context, api *webrtc.API, peerConfig webrtc.Configuration, relay *signaling.Client, registry *Registry, deps SessionDeps, remoteID string) *Viewer {
	if deps.Collector == nil {
		deps.Collector = metrics.NewNoopCollector()
	}
	return &Viewer{
		ctx:        ctx,
		api:        api,
		peerConfig: peerConfig,
		relay:      relay,
		registry:   registry,
		deps:       deps,
		remoteID:   remoteID,
		logger:     deps.Logger.With(zap.String("role", "viewer")),
	}
}

// Start builds the local peer connection and sends the offer, retrying a
// bounded number of times before surfacing a hard failure.
func (v *Viewer) Start() error {
	var err error
	for attempt := 1; attempt <= startAttempts; attempt++ {
		if err = v.startOnce(); err == nil {
			return nil
		}
		v.logger.Warn("viewer start failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < startAttempts {
			select {
			case <-time.After(startRetryDelay):
			case <-v.ctx.Done():
				return v.ctx.Err()
			}
		}
	}
	return fmt.Errorf("start viewer after %d attempts: %w", startAttempts, err)
}

func (v *Viewer) startOnce() error {
	pc, err := v.api.NewPeerConnection(v.peerConfig)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	outputTrack, err := audio.NewOutputTrack(v.remoteID, v.deps.Logger, v.deps.Collector)
	if err != nil {
		pc.Close()
		return err
	}
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

	session, err := newClientSession(v.ctx, v.remoteID, pc, outputTrack, dc, v.deps)
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
		if err := v.relay.Send(model.ActionICECandidate, v.remoteID, candidate.ToJSON()); err != nil {
			v.logger.Warn("failed to relay ICE candidate", zap.Error(err))
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		v.logger.Info("peer connection state changed", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			v.deps.Collector.PeerConnected(v.remoteID)
		case webrtc.PeerConnectionStateFailed:
			v.deps.Collector.PeerFailure(v.remoteID, "connection")
			session.Close()
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			v.deps.Collector.PeerDisconnected(v.remoteID)
			session.Close()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		session.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		session.Close()
		return fmt.Errorf("set local description: %w", err)
	}
	if err := v.relay.Send(model.ActionSDPOffer, v.remoteID, pc.LocalDescription()); err != nil {
		session.Close()
		return fmt.Errorf("relay offer: %w", err)
	}

	v.mu.Lock()
	v.session = session
	v.answerProcessed = false
	v.mu.Unlock()
	v.registry.Put(v.remoteID, session)

	v.logger.Info("sent offer", zap.String("remote_id", v.remoteID))
	return nil
}

// HandleSignal dispatches one relay message.
func (v *Viewer) HandleSignal(msg model.SignalMessage) {
	switch msg.Action {
	case model.ActionSDPAnswer:
		if err := v.handleAnswer(msg.MessagePayload); err != nil {
			v.logger.Error("failed to handle answer", zap.Error(err))
		}
	case model.ActionICECandidate:
		v.handleCandidate(msg.MessagePayload)
	case model.ActionSDPOffer:
		v.logger.Warn("unexpected offer in responder role",
			zap.String("client_id", msg.SenderClientID))
	default:
		v.logger.Warn("discarding unknown signaling action",
			zap.String("action", msg.Action))
	}
}

func (v *Viewer) handleAnswer(payload string) error {
	v.mu.Lock()
	session := v.session
	if session == nil {
		v.mu.Unlock()
		return fmt.Errorf("answer received before offer was sent")
	}
	if v.answerProcessed {
		v.mu.Unlock()
		v.logger.Warn("ignoring duplicate answer")
		return nil
	}
	if session.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		v.mu.Unlock()
		return fmt.Errorf("answer in signaling state %s", session.pc.SignalingState())
	}
	v.answerProcessed = true
	v.mu.Unlock()

	var answer webrtc.SessionDescription
	if err := signaling.DecodePayload(payload, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := session.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	v.logger.Info("answer applied")
	return nil
}

func (v *Viewer) handleCandidate(payload string) {
	v.mu.Lock()
	session := v.session
	v.mu.Unlock()
	if session == nil {
		v.logger.Warn("dropping ICE candidate without peer connection")
		return
	}

	var candidate webrtc.ICECandidateInit
	if err := signaling.DecodePayload(payload, &candidate); err != nil {
		v.logger.Warn("discarding undecodable ICE candidate", zap.Error(err))
		return
	}
	if err := session.pc.AddICECandidate(candidate); err != nil {
		v.logger.Warn("failed to add ICE candidate", zap.Error(err))
	}
}
