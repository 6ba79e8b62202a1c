package webrtc

import (
	"context"
	"testing"

	"github.com/Harshitk-cp/voicebridge/internal/signaling"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func buildViewer(t *testing.T) (*Viewer, *ClientSession) {
	t.Helper()
	session, _ := buildSession(t)
	t.Cleanup(session.Close)

	v := &Viewer{
		ctx:    context.Background(),
		logger: zap.NewNop(),
	}
	v.session = session
	return v, session
}

// remoteAnswer negotiates against the session's offer with a second local
// peer so the answer SDP is genuine.
func remoteAnswer(t *testing.T, offer webrtc.SessionDescription) string {
	t.Helper()
	api, err := NewAPI()
	require.NoError(t, err)
	pc, err := api.NewPeerConnection(PeerConfiguration(nil))
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	require.NoError(t, pc.SetRemoteDescription(offer))
	answer, err := pc.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(answer))

	payload, err := signaling.EncodePayload(pc.LocalDescription())
	require.NoError(t, err)
	return payload
}

func TestViewerRejectsAnswerBeforeOffer(t *testing.T) {
	v := &Viewer{ctx: context.Background(), logger: zap.NewNop()}
	assert.Error(t, v.handleAnswer("irrelevant"))
}

func TestViewerIgnoresDuplicateAnswer(t *testing.T) {
	v, session := buildViewer(t)

	offer, err := session.pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, session.pc.SetLocalDescription(offer))

	payload := remoteAnswer(t, *session.pc.LocalDescription())

	require.NoError(t, v.handleAnswer(payload))
	assert.Equal(t, webrtc.SignalingStateStable, session.pc.SignalingState())

	// The second copy is dropped by the single-use guard, not re-applied.
	require.NoError(t, v.handleAnswer(payload))
}

func TestViewerRejectsAnswerOutOfState(t *testing.T) {
	v, session := buildViewer(t)

	// No local offer is pending, so any answer is out of state.
	assert.Error(t, v.handleAnswer("ignored"))
	assert.Equal(t, webrtc.SignalingStateStable, session.pc.SignalingState())
}
