package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/voicebridge/internal/audio"
	"github.com/Harshitk-cp/voicebridge/internal/metrics"
	"github.com/Harshitk-cp/voicebridge/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// closeGracePeriod lets a trailing completion event arrive before the
	// duplex stream is torn down.
	closeGracePeriod = 1500 * time.Millisecond

	// readyTimeout bounds how long audio forwarding waits for the stream
	// to acknowledge the prompt and audio content names.
	readyTimeout = 30 * time.Second
	readyPoll    = 100 * time.Millisecond
)

// Stream is a duplex connection to the speech model. Send and Receive
// carry complete JSON event documents.
type Stream interface {
	Send(ctx context.Context, event json.RawMessage) error
	Receive(ctx context.Context) (json.RawMessage, error)
	Close() error
}

// Callbacks route model output back into the owning peer session.
type Callbacks struct {
	// OnEvent receives every model event for forwarding to the client.
	OnEvent func(event json.RawMessage)
	// OnAudioOutput receives decoded model speech for the output track.
	OnAudioOutput func(base64Audio string, sampleRate int)
	// OnBargeIn fires when the client interrupts model speech.
	OnBargeIn func()
	// OnClosed fires once when the session has fully shut down.
	OnClosed func()
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	EventsSent      uint64 `json:"events_sent"`
	EventsReceived  uint64 `json:"events_received"`
	AudioChunksSent uint64 `json:"audio_chunks_sent"`
	VADDropped      uint64 `json:"vad_dropped"`
	ToolInvocations uint64 `json:"tool_invocations"`
}

// Session bridges one client's data channel to a model stream. It learns
// the prompt and audio content names from the outbound event flow, runs
// the response loop, and dispatches tool invocations.
type Session struct {
	clientID  string
	stream    Stream
	tools     *ToolRegistry
	vad       *audio.VAD
	callbacks Callbacks
	logger    *zap.Logger
	collector metrics.Collector

	mu               sync.Mutex
	active           bool
	promptName       string
	audioContentName string
	toolName         string
	toolUseID        string
	toolContent      string
	stats            Stats

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	grace     time.Duration
	readyWait time.Duration
}

// NewSession wires a model stream to the given callbacks. vad may be nil
// to disable speech gating.
func NewSession(clientID string, stream Stream, tools *ToolRegistry, vad *audio.VAD, callbacks Callbacks, logger *zap.Logger, collector metrics.Collector) *Session {
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &Session{
		clientID:  clientID,
		stream:    stream,
		tools:     tools,
		vad:       vad,
		callbacks: callbacks,
		logger:    logger.With(zap.String("client_id", clientID)),
		collector: collector,
		done:      make(chan struct{}),
		grace:     closeGracePeriod,
		readyWait: readyTimeout,
	}
}

// Start marks the session active and launches the response loop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return fmt.Errorf("session already started for client %s", s.clientID)
	}
	s.active = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.collector.SessionStarted(s.clientID)
	go s.responseLoop(loopCtx)
	return nil
}

// Bootstrap sends the opening event sequence for a server-driven session:
// sessionStart, promptStart with the registered tools, a system prompt
// text block, and the streaming audio block. Client-driven sessions skip
// this and send their own events over the data channel.
func (s *Session) Bootstrap(ctx context.Context, systemPrompt, voiceID string) error {
	promptName := uuid.NewString()
	textContentName := uuid.NewString()
	audioContentName := uuid.NewString()

	specs := make([]ToolSpec, 0, len(s.tools.Names()))
	for _, name := range s.tools.Names() {
		specs = append(specs, ToolSpec{
			Name:        name,
			Description: fmt.Sprintf("tool %s", name),
			InputSchema: `{"type":"object","properties":{}}`,
		})
	}

	sequence := []json.RawMessage{
		SessionStartEvent(DefaultInferenceConfig()),
		PromptStartEvent(promptName, voiceID, specs),
		ContentStartTextEvent(promptName, textContentName),
		TextInputEvent(promptName, textContentName, systemPrompt),
		ContentEndEvent(promptName, textContentName),
		ContentStartAudioEvent(promptName, audioContentName),
	}
	for _, event := range sequence {
		if err := s.SendEvent(ctx, event); err != nil {
			return fmt.Errorf("bootstrap session %s: %w", s.clientID, err)
		}
	}
	return nil
}

// SendEvent forwards one event document to the model stream, learning the
// prompt and audio content names along the way. A sessionEnd event triggers
// a graceful close after the send.
func (s *Session) SendEvent(ctx context.Context, event json.RawMessage) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return model.ErrSessionClosed
	}
	name, body := parseEvent(event)
	switch name {
	case "promptStart":
		if v, ok := body["promptName"].(string); ok && v != "" {
			s.promptName = v
		}
	case "contentStart":
		if t, _ := body["type"].(string); t == "AUDIO" {
			if v, ok := body["contentName"].(string); ok && v != "" {
				s.audioContentName = v
			}
		}
	}
	s.stats.EventsSent++
	s.mu.Unlock()

	if err := s.stream.Send(ctx, event); err != nil {
		return fmt.Errorf("send event to model stream: %w", err)
	}
	if name == "sessionEnd" {
		go s.Close()
	}
	return nil
}

// HandleClientEvent routes one event delivered by the data channel. A
// barge-in control message clears playback; everything else is forwarded
// to the model stream.
func (s *Session) HandleClientEvent(ctx context.Context, event json.RawMessage) error {
	var control struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(event, &control); err == nil && control.Type == "BARGE_IN" {
		s.logger.Info("barge-in received, clearing playback")
		if s.callbacks.OnBargeIn != nil {
			s.callbacks.OnBargeIn()
		}
		return nil
	}
	return s.SendEvent(ctx, event)
}

// Ready reports whether the stream has acknowledged both correlation names.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptName != "" && s.audioContentName != ""
}

// Active reports whether the session accepts events.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ForwardAudio sends one processed audio packet upstream as an audioInput
// event. It waits up to the readiness timeout for correlation names, then
// falls back to client-derived names rather than hanging.
func (s *Session) ForwardAudio(ctx context.Context, packet model.AudioPacket) error {
	if !s.Active() {
		return model.ErrSessionClosed
	}
	if !s.waitReady(ctx) {
		s.mu.Lock()
		if s.promptName == "" {
			s.promptName = "prompt-" + s.clientID
		}
		if s.audioContentName == "" {
			s.audioContentName = "audio-" + s.clientID
		}
		s.mu.Unlock()
		s.logger.Warn("session not acknowledged in time, using fallback names")
	}

	if s.vad != nil {
		pcm, err := base64.StdEncoding.DecodeString(packet.AudioData)
		if err != nil {
			return fmt.Errorf("decode audio packet: %w", err)
		}
		if speech, speechFrames, totalFrames := s.vad.HasSpeech(audio.DecodePCM16(pcm)); !speech {
			s.logger.Debug("chunk dropped by speech gate",
				zap.Int("speech_frames", speechFrames),
				zap.Int("total_frames", totalFrames))
			s.mu.Lock()
			s.stats.VADDropped++
			s.mu.Unlock()
			s.collector.AudioFrameDroppedByVAD(s.clientID)
			return nil
		}
	}

	s.mu.Lock()
	promptName, contentName := s.promptName, s.audioContentName
	s.stats.AudioChunksSent++
	s.mu.Unlock()

	event := AudioInputEvent(promptName, contentName, packet.AudioData)
	if err := s.stream.Send(ctx, event); err != nil {
		return fmt.Errorf("forward audio to model stream: %w", err)
	}
	return nil
}

func (s *Session) waitReady(ctx context.Context) bool {
	deadline := time.Now().Add(s.readyWait)
	for time.Now().Before(deadline) {
		if s.Ready() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		case <-time.After(readyPoll):
		}
	}
	return s.Ready()
}

// Stats returns a snapshot of session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close shuts the session down: a short grace wait for trailing events,
// then stream close and response loop cancellation.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		time.Sleep(s.grace)

		s.mu.Lock()
		s.active = false
		cancel := s.cancel
		s.mu.Unlock()

		if err := s.stream.Close(); err != nil {
			s.logger.Warn("model stream close failed", zap.Error(err))
		}
		if cancel != nil {
			cancel()
		}
		close(s.done)

		s.collector.SessionClosed(s.clientID)
		s.logger.Info("session closed")
		if s.callbacks.OnClosed != nil {
			s.callbacks.OnClosed()
		}
	})
}

func (s *Session) responseLoop(ctx context.Context) {
	for {
		raw, err := s.stream.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("model stream receive failed", zap.Error(err))
				s.collector.ErrorOccurred(s.clientID, "stream_receive")
				go s.Close()
			}
			return
		}
		s.handleModelEvent(ctx, raw)
	}
}

func (s *Session) handleModelEvent(ctx context.Context, raw json.RawMessage) {
	name, body := parseEvent(raw)

	s.mu.Lock()
	s.stats.EventsReceived++
	switch name {
	case "toolUse":
		s.toolName, _ = body["toolName"].(string)
		s.toolUseID, _ = body["toolUseId"].(string)
		s.toolContent, _ = body["content"].(string)
	}
	s.mu.Unlock()

	switch name {
	case "audioOutput":
		if content, ok := body["content"].(string); ok && s.callbacks.OnAudioOutput != nil {
			s.callbacks.OnAudioOutput(content, OutputSampleRate)
		}
	case "contentEnd":
		if t, _ := body["type"].(string); t == "TOOL" {
			s.completeToolUse(ctx)
		}
	}

	if s.callbacks.OnEvent != nil {
		s.callbacks.OnEvent(raw)
	}
}

// completeToolUse runs the buffered tool invocation and sends its result
// back as a contentStart/toolResult/contentEnd sequence.
func (s *Session) completeToolUse(ctx context.Context) {
	s.mu.Lock()
	toolName, toolUseID, toolContent := s.toolName, s.toolUseID, s.toolContent
	promptName := s.promptName
	s.toolName, s.toolUseID, s.toolContent = "", "", ""
	s.stats.ToolInvocations++
	s.mu.Unlock()

	if toolName == "" {
		s.logger.Warn("tool content ended without a buffered toolUse")
		return
	}

	s.logger.Info("dispatching tool", zap.String("tool", toolName), zap.String("tool_use_id", toolUseID))
	result, ok := s.tools.Dispatch(ctx, toolName, toolContent, s.logger)
	s.collector.ToolInvoked(toolName, ok)

	contentName := uuid.NewString()
	sequence := []json.RawMessage{
		ContentStartToolEvent(promptName, contentName, toolUseID),
		ToolResultEvent(promptName, contentName, result),
		ContentEndEvent(promptName, contentName),
	}
	for _, event := range sequence {
		if err := s.stream.Send(ctx, event); err != nil {
			s.logger.Error("tool result send failed", zap.String("tool", toolName), zap.Error(err))
			s.collector.ErrorOccurred(s.clientID, "tool_result_send")
			return
		}
	}
}

// parseEvent extracts the event name and body from a {"event":{name:{...}}}
// document. Unrecognized documents return an empty name.
func parseEvent(raw json.RawMessage) (string, map[string]interface{}) {
	var doc struct {
		Event map[string]json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || len(doc.Event) == 0 {
		return "", nil
	}
	for name, inner := range doc.Event {
		body := make(map[string]interface{})
		if err := json.Unmarshal(inner, &body); err != nil {
			return name, nil
		}
		return name, body
	}
	return "", nil
}
