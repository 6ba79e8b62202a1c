package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Harshitk-cp/voicebridge/internal/metrics"
	"github.com/Harshitk-cp/voicebridge/internal/model"
	"github.com/Harshitk-cp/voicebridge/pkg/util"
)

const (
	defaultAckTimeout    = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryBase     = 1 * time.Second
	defaultSweepInterval = 10 * time.Second

	deliveredCap   = 1000
	deliveredEvict = 500
)

// Sender abstracts the data channel send side
type Sender interface {
	Send(data []byte) error
	IsOpen() bool
}

// Options tunes the reliability behavior. Zero values fall back to defaults.
type Options struct {
	AckTimeout    time.Duration
	MaxRetries    int
	RetryBase     time.Duration
	SweepInterval time.Duration

	// SendLimit caps outbound event forwarding; zero disables the limiter
	SendLimit rate.Limit
	SendBurst int
}

// Stats is a point-in-time snapshot of messenger counters
type Stats struct {
	MessagesSent      uint64 `json:"messages_sent"`
	MessagesReceived  uint64 `json:"messages_received"`
	MessagesAcked     uint64 `json:"messages_acked"`
	MessagesRetried   uint64 `json:"messages_retried"`
	MessagesDropped   uint64 `json:"messages_dropped"`
	MessagesQueued    uint64 `json:"messages_queued"`
	ChunksSent        uint64 `json:"chunks_sent"`
	ChunksReceived    uint64 `json:"chunks_received"`
	ChunksReassembled uint64 `json:"chunks_reassembled"`
	OutOfOrder        uint64 `json:"out_of_order_messages"`
	Duplicates        uint64 `json:"duplicate_messages"`
	RateLimited       uint64 `json:"rate_limited_messages"`
	Errors            uint64 `json:"errors"`
}

type pendingSend struct {
	message     model.ChannelMessage
	retryCount  int
	lastAttempt time.Time
	ackDeadline time.Time
}

// Messenger provides reliable, ordered, deduplicated application messaging
// over one client's data channel. Outbound messages larger than the channel
// frame limit are chunked; ack-required messages are retried with
// exponential backoff until acknowledged or retry-exhausted. Inbound events
// are delivered to the event callback in strict sequence order.
//
// Heartbeat messages are acknowledged but never initiated here: liveness
// comes from the peer connection state, not an application ping.
type Messenger struct {
	clientID string
	logger   *zap.Logger
	metrics  metrics.Collector
	opts     Options

	mu           sync.Mutex
	sender       Sender
	outSeq       uint64
	expectedSeq  uint64
	pending      map[string]*pendingSend
	outOfOrder   map[uint64]model.ChannelMessage
	delivered    map[string]struct{}
	deliveredLog []string
	sendQueue    [][]byte
	reassembler  *Reassembler
	limiter      *rate.Limiter
	stats        Stats
	closed       bool

	onEvent  func(event json.RawMessage)
	onFailed func(messageID string)

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMessenger creates a Messenger for one client and starts its retry
// sweeper. Call Reset to stop it.
func NewMessenger(clientID string, sender Sender, opts Options, logger *zap.Logger, collector metrics.Collector) *Messenger {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	m := &Messenger{
		clientID:    clientID,
		logger:      logger.With(zap.String("client_id", clientID)),
		metrics:     collector,
		opts:        opts,
		sender:      sender,
		expectedSeq: 1,
		pending:     make(map[string]*pendingSend),
		outOfOrder:  make(map[uint64]model.ChannelMessage),
		delivered:   make(map[string]struct{}),
		reassembler: NewReassembler(),
		stopChan:    make(chan struct{}),
	}
	if opts.SendLimit > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = int(opts.SendLimit)
		}
		m.limiter = rate.NewLimiter(opts.SendLimit, burst)
	}

	go m.sweepLoop()
	return m
}

// SetEventCallback sets the callback invoked for each in-order inbound event
func (m *Messenger) SetEventCallback(cb func(event json.RawMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = cb
}

// SetFailureCallback sets the callback invoked when a message exhausts its retries
func (m *Messenger) SetFailureCallback(cb func(messageID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailed = cb
}

// SendEvent wraps an event in a response envelope and sends it. Returns
// false when the messenger is closed or the send was refused.
func (m *Messenger) SendEvent(event json.RawMessage, requireAck bool) bool {
	m.mu.Lock()
	if m.closed || m.sender == nil {
		m.mu.Unlock()
		return false
	}

	if m.limiter != nil && !m.limiter.Allow() {
		m.stats.RateLimited++
		m.mu.Unlock()
		m.logger.Warn("outbound event rate limited")
		return false
	}

	m.outSeq++
	msg := model.ChannelMessage{
		ID:             util.MessageID(),
		Type:           model.MessageTypeS2SResponse,
		Timestamp:      time.Now().UnixMilli(),
		SequenceNumber: m.outSeq,
		RequireAck:     requireAck,
		Event:          event,
	}

	err := m.sendMessageLocked(msg)
	if err == nil && requireAck {
		now := time.Now()
		m.pending[msg.ID] = &pendingSend{
			message:     msg,
			lastAttempt: now,
			ackDeadline: now.Add(m.opts.AckTimeout),
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("failed to send event", zap.Error(err))
		return false
	}
	return true
}

// HandleIncoming processes one raw message from the data channel
func (m *Messenger) HandleIncoming(data []byte) {
	var msg model.ChannelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.mu.Lock()
		m.stats.Errors++
		m.mu.Unlock()
		m.metrics.ErrorOccurred(m.clientID, "unmarshal")
		m.logger.Error("failed to parse channel message", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.stats.MessagesReceived++
	m.mu.Unlock()

	switch msg.Type {
	case model.MessageTypeAck:
		m.handleAck(msg)
	case model.MessageTypeChunk:
		m.handleChunk(msg)
	case model.MessageTypeHeartbeat:
		// Acknowledged but never answered with our own heartbeat; the peer
		// connection state is the liveness signal.
		if msg.RequireAck {
			m.sendAck(msg.ID)
		}
	case model.MessageTypeS2SEvent, model.MessageTypeS2SResponse:
		m.handleEvent(msg)
	default:
		m.logger.Warn("unknown channel message type", zap.String("type", msg.Type))
	}
}

// FlushQueue sends messages that were queued while the channel was not open
func (m *Messenger) FlushQueue() {
	m.mu.Lock()
	queued := m.sendQueue
	m.sendQueue = nil
	sender := m.sender
	m.mu.Unlock()

	if sender == nil {
		return
	}
	for _, data := range queued {
		if err := sender.Send(data); err != nil {
			m.logger.Error("failed to flush queued message", zap.Error(err))
			return
		}
		m.metrics.MessageSent(m.clientID)
	}
	if len(queued) > 0 {
		m.logger.Info("flushed queued messages", zap.Int("count", len(queued)))
	}
}

// Stats returns a snapshot of the messenger counters
func (m *Messenger) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// PendingRetries returns the number of unacknowledged ack-required messages
func (m *Messenger) PendingRetries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Reset stops the sweeper and releases all per-client state
func (m *Messenger) Reset() {
	m.stopOnce.Do(func() { close(m.stopChan) })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sender = nil
	m.pending = make(map[string]*pendingSend)
	m.outOfOrder = make(map[uint64]model.ChannelMessage)
	m.delivered = make(map[string]struct{})
	m.deliveredLog = nil
	m.sendQueue = nil
	m.reassembler = NewReassembler()
}

func (m *Messenger) handleAck(msg model.ChannelMessage) {
	m.mu.Lock()
	_, ok := m.pending[msg.MessageID]
	if ok {
		delete(m.pending, msg.MessageID)
		m.stats.MessagesAcked++
	}
	m.mu.Unlock()

	if ok {
		m.metrics.MessageAcked(m.clientID)
	} else {
		m.logger.Debug("ack for unknown message", zap.String("message_id", msg.MessageID))
	}
}

func (m *Messenger) handleChunk(msg model.ChannelMessage) {
	m.mu.Lock()
	m.stats.ChunksReceived++
	reassembler := m.reassembler
	m.mu.Unlock()

	if msg.RequireAck {
		m.sendAck(msg.ID)
	}

	reassembled, complete, err := reassembler.Add(msg)
	if err != nil {
		m.mu.Lock()
		m.stats.Errors++
		m.mu.Unlock()
		m.metrics.ErrorOccurred(m.clientID, "chunk")
		m.logger.Error("failed to buffer chunk", zap.Error(err))
		return
	}
	if !complete {
		return
	}

	m.mu.Lock()
	m.stats.ChunksReassembled++
	m.mu.Unlock()
	m.metrics.ChunkReassembled(m.clientID)

	m.HandleIncoming(reassembled)
}

func (m *Messenger) handleEvent(msg model.ChannelMessage) {
	if msg.RequireAck {
		m.sendAck(msg.ID)
	}

	// Unsequenced events bypass ordering entirely
	if msg.SequenceNumber == 0 {
		m.deliver(msg)
		return
	}

	m.mu.Lock()

	if msg.ID != "" {
		if _, seen := m.delivered[msg.ID]; seen {
			m.stats.Duplicates++
			m.mu.Unlock()
			m.metrics.MessageDeduplicated(m.clientID)
			return
		}
	}

	switch {
	case msg.SequenceNumber == m.expectedSeq:
		ready := []model.ChannelMessage{msg}
		m.markDeliveredLocked(msg.ID)
		m.expectedSeq++

		// Drain any buffered messages that are now in order
		for {
			next, ok := m.outOfOrder[m.expectedSeq]
			if !ok {
				break
			}
			delete(m.outOfOrder, m.expectedSeq)
			m.markDeliveredLocked(next.ID)
			ready = append(ready, next)
			m.expectedSeq++
		}
		m.mu.Unlock()

		for _, r := range ready {
			m.deliver(r)
		}

	case msg.SequenceNumber > m.expectedSeq:
		m.stats.OutOfOrder++
		m.outOfOrder[msg.SequenceNumber] = msg
		expected := m.expectedSeq
		m.mu.Unlock()
		m.logger.Debug("buffered out-of-order message",
			zap.Uint64("expected", expected),
			zap.Uint64("got", msg.SequenceNumber))

	default:
		// Older than expected: late duplicate
		m.stats.Duplicates++
		m.mu.Unlock()
		m.metrics.MessageDeduplicated(m.clientID)
	}
}

func (m *Messenger) deliver(msg model.ChannelMessage) {
	m.mu.Lock()
	cb := m.onEvent
	m.mu.Unlock()

	if cb != nil && msg.Event != nil {
		cb(msg.Event)
	}
}

// markDeliveredLocked records a delivered message id, evicting the oldest
// half of the set when it outgrows its cap. Caller holds m.mu.
func (m *Messenger) markDeliveredLocked(id string) {
	if id == "" {
		return
	}
	m.delivered[id] = struct{}{}
	m.deliveredLog = append(m.deliveredLog, id)

	if len(m.delivered) > deliveredCap {
		for _, old := range m.deliveredLog[:deliveredEvict] {
			delete(m.delivered, old)
		}
		m.deliveredLog = append([]string(nil), m.deliveredLog[deliveredEvict:]...)
	}
}

func (m *Messenger) sendAck(messageID string) {
	if messageID == "" {
		return
	}
	ack := model.ChannelMessage{
		ID:        util.MessageID(),
		Type:      model.MessageTypeAck,
		MessageID: messageID,
		Timestamp: time.Now().UnixMilli(),
	}

	m.mu.Lock()
	err := m.sendMessageLocked(ack)
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("failed to send ack", zap.String("message_id", messageID), zap.Error(err))
	}
}

// sendMessageLocked serializes and sends a message, chunking when it exceeds
// the channel frame limit. Caller holds m.mu.
func (m *Messenger) sendMessageLocked(msg model.ChannelMessage) error {
	serialized, err := json.Marshal(msg)
	if err != nil {
		m.stats.Errors++
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	if len(serialized) <= MaxMessageSize {
		return m.sendRawLocked(serialized)
	}

	chunks := SplitMessage(serialized, msg.RequireAck)
	m.logger.Info("sending chunked message",
		zap.String("message_id", msg.ID),
		zap.Int("chunks", len(chunks)))

	for _, chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			m.stats.Errors++
			return fmt.Errorf("failed to serialize chunk: %w", err)
		}
		if err := m.sendRawLocked(data); err != nil {
			return err
		}
		m.stats.ChunksSent++
		m.metrics.ChunkSent(m.clientID)
	}
	return nil
}

func (m *Messenger) sendRawLocked(data []byte) error {
	if m.sender == nil {
		return model.ErrChannelClosed
	}
	if !m.sender.IsOpen() {
		// Channel exists but is not open yet: hold the message for FlushQueue
		m.sendQueue = append(m.sendQueue, data)
		m.stats.MessagesQueued++
		return nil
	}
	if err := m.sender.Send(data); err != nil {
		return fmt.Errorf("data channel send failed: %w", err)
	}
	m.stats.MessagesSent++
	m.metrics.MessageSent(m.clientID)
	return nil
}

func (m *Messenger) sweepLoop() {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// sweep retries unacknowledged messages whose backoff has elapsed and drops
// the ones that exhausted their retries. The retry delay doubles with each
// attempt.
func (m *Messenger) sweep(now time.Time) {
	m.mu.Lock()

	type resend struct {
		id  string
		msg model.ChannelMessage
	}
	var (
		resends []resend
		failed  []string
	)

	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := m.pending[id]
		if now.Before(p.ackDeadline) {
			continue
		}

		if p.retryCount >= m.opts.MaxRetries {
			delete(m.pending, id)
			m.stats.MessagesDropped++
			failed = append(failed, id)
			continue
		}

		delay := m.opts.RetryBase * time.Duration(1<<p.retryCount)
		if now.Sub(p.lastAttempt) < delay {
			continue
		}

		p.retryCount++
		p.lastAttempt = now
		m.stats.MessagesRetried++
		resends = append(resends, resend{id: id, msg: p.message})
	}

	for _, r := range resends {
		if err := m.sendMessageLocked(r.msg); err != nil {
			m.logger.Error("retry send failed", zap.String("message_id", r.id), zap.Error(err))
		}
	}

	onFailed := m.onFailed
	m.mu.Unlock()

	for _, r := range resends {
		m.metrics.MessageRetried(m.clientID)
		m.logger.Info("retried unacknowledged message", zap.String("message_id", r.id))
	}
	for _, id := range failed {
		m.metrics.MessageDropped(m.clientID)
		m.logger.Error("message exceeded max retries, dropping", zap.String("message_id", id))
		if onFailed != nil {
			onFailed(id)
		}
	}

	m.reassembler.Sweep(now)
}
