package webrtc

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/voicebridge/internal/audio"
	"github.com/Harshitk-cp/voicebridge/internal/bridge"
	"github.com/Harshitk-cp/voicebridge/internal/model"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubStream struct {
	mu       sync.Mutex
	sent     []json.RawMessage
	incoming chan json.RawMessage
	closed   bool
}

func newStubStream() *stubStream {
	return &stubStream{incoming: make(chan json.RawMessage, 16)}
}

func (s *stubStream) Send(_ context.Context, event json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make(json.RawMessage, len(event))
	copy(buf, event)
	s.sent = append(s.sent, buf)
	return nil
}

func (s *stubStream) Receive(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case event, ok := <-s.incoming:
		if !ok {
			return nil, io.EOF
		}
		return event, nil
	}
}

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubStream) sentEvents() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.sent...)
}

// scriptedTrack plays a fixed sequence of RTP payloads into the ingest loop.
type scriptedTrack struct {
	codec    webrtc.RTPCodecParameters
	payloads [][]byte
	pos      int
}

func (s *scriptedTrack) Codec() webrtc.RTPCodecParameters { return s.codec }

func (s *scriptedTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if s.pos >= len(s.payloads) {
		return nil, nil, io.EOF
	}
	packet := &rtp.Packet{Payload: s.payloads[s.pos]}
	s.pos++
	return packet, nil, nil
}

func l16Payload(samples int, amplitude int16) []byte {
	payload := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.BigEndian.PutUint16(payload[i*2:], uint16(amplitude))
	}
	return payload
}

func audioPacketN(i int) model.AudioPacket {
	data := base64.StdEncoding.EncodeToString([]byte{byte(i), byte(i)})
	return model.AudioPacket{AudioData: data, SizeBytes: i + 1}
}

func buildSession(t *testing.T) (*ClientSession, *stubStream) {
	t.Helper()

	api, err := NewAPI()
	require.NoError(t, err)
	pc, err := api.NewPeerConnection(PeerConfiguration(nil))
	require.NoError(t, err)
	outputTrack, err := audio.NewOutputTrack("client-1", zap.NewNop(), nil)
	require.NoError(t, err)
	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	require.NoError(t, err)

	stream := newStubStream()
	deps := SessionDeps{
		StreamFactory: func(_ context.Context, _ string) (bridge.Stream, error) {
			return stream, nil
		},
		Tools:  bridge.NewToolRegistry(),
		Logger: zap.NewNop(),
	}
	session, err := newClientSession(context.Background(), "client-1", pc, outputTrack, dc, deps)
	require.NoError(t, err)
	return session, stream
}

func TestClientSessionAssemblesAndCloses(t *testing.T) {
	session, stream := buildSession(t)

	snapshot := session.Snapshot()
	assert.Equal(t, "client-1", snapshot.ClientID)
	assert.NotEmpty(t, snapshot.ConnectionState)

	closed := make(chan struct{})
	session.setOnClosed(func() { close(closed) })

	session.Close()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("onClosed hook never fired")
	}

	require.Eventually(t, stream.isClosed, 3*time.Second, 50*time.Millisecond,
		"model stream must be closed with the session")
}

func TestClientSessionEvictsStaleAudioWhenQueueFull(t *testing.T) {
	session, _ := buildSession(t)
	defer session.Close()

	// Stop the consumer so the queue actually fills.
	session.cancel()
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < audioQueueDepth+5; i++ {
		session.enqueuePacket(audioPacketN(i))
	}
	assert.Equal(t, audioQueueDepth, len(session.audioQueue))

	// The five oldest packets were evicted, so the head is packet 5.
	head := <-session.audioQueue
	assert.Equal(t, 6, head.SizeBytes)
}

func TestIngestDiscardsAudioBeforeModelReady(t *testing.T) {
	session, stream := buildSession(t)
	defer session.Close()

	payloads := make([][]byte, 10)
	for i := range payloads {
		payloads[i] = l16Payload(480, 1000)
	}
	session.ingestTrack(&scriptedTrack{
		codec:    codecParams(audio.MimeTypeL16, 16000),
		payloads: payloads,
	})

	assert.Equal(t, uint64(10), session.processor.IgnoredFrames())
	assert.Empty(t, session.audioQueue)
	assert.Empty(t, stream.sentEvents())
}

func TestIngestForwardsAudioOnceModelReady(t *testing.T) {
	session, stream := buildSession(t)
	defer session.Close()

	ctx := context.Background()
	require.NoError(t, session.bridge.SendEvent(ctx, bridge.PromptStartEvent("prompt-1", "", nil)))
	require.NoError(t, session.bridge.SendEvent(ctx, bridge.ContentStartAudioEvent("prompt-1", "audio-1")))
	require.True(t, session.bridge.Ready())

	session.ingestTrack(&scriptedTrack{
		codec:    codecParams(audio.MimeTypeL16, 16000),
		payloads: [][]byte{l16Payload(4096, 1000)},
	})

	require.Eventually(t, func() bool {
		for _, event := range stream.sentEvents() {
			if strings.Contains(string(event), `"audioInput"`) {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
	assert.Zero(t, session.processor.IgnoredFrames())
}

func TestRegistryReplaceAndRemove(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	defer registry.CloseAll()

	first, _ := buildSession(t)
	registry.Put("client-1", first)
	assert.Equal(t, 1, registry.Count())

	second, _ := buildSession(t)
	registry.Put("client-1", second)
	assert.Equal(t, 1, registry.Count())

	got, ok := registry.Get("client-1")
	require.True(t, ok)
	assert.Same(t, second, got)

	snapshots := registry.Snapshots()
	require.Len(t, snapshots, 1)
	assert.Equal(t, "client-1", snapshots[0].ClientID)

	second.Close()
	require.Eventually(t, func() bool { return registry.Count() == 0 },
		time.Second, 10*time.Millisecond)
}
