package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamDialTimeout  = 15 * time.Second
)

// StreamConfig locates the speech model's websocket endpoint.
type StreamConfig struct {
	URL    string
	APIKey string
}

// WebSocketStream is a Stream over one websocket connection. Events are
// exchanged as JSON text frames.
type WebSocketStream struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	recvChan  chan json.RawMessage
	closeChan chan struct{}
	recvErr   error
	recvMu    sync.Mutex
	closeOnce sync.Once
}

// DialModelStream connects to the model endpoint and starts the reader.
func DialModelStream(ctx context.Context, cfg StreamConfig, logger *zap.Logger) (*WebSocketStream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: streamDialTimeout}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial model stream %s: %w", cfg.URL, err)
	}

	s := &WebSocketStream{
		conn:      conn,
		logger:    logger,
		recvChan:  make(chan json.RawMessage, 64),
		closeChan: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *WebSocketStream) readLoop() {
	defer close(s.recvChan)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.recvMu.Lock()
			s.recvErr = err
			s.recvMu.Unlock()
			return
		}
		if !json.Valid(data) {
			s.logger.Warn("discarding non-JSON frame from model stream")
			continue
		}
		// Nobody drains recvChan after Close, so a plain send could park
		// this goroutine forever on a chatty stream.
		select {
		case s.recvChan <- json.RawMessage(data):
		case <-s.closeChan:
			return
		}
	}
}

// Send writes one event document as a text frame.
func (s *WebSocketStream) Send(_ context.Context, event json.RawMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, event); err != nil {
		return fmt.Errorf("write to model stream: %w", err)
	}
	return nil
}

// Receive blocks until the next event document or connection failure.
func (s *WebSocketStream) Receive(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case event, ok := <-s.recvChan:
		if !ok {
			s.recvMu.Lock()
			err := s.recvErr
			s.recvMu.Unlock()
			if err == nil {
				err = fmt.Errorf("model stream closed")
			}
			return nil, err
		}
		return event, nil
	}
}

// Close shuts the connection down. Safe to call more than once.
func (s *WebSocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeChan)
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(streamWriteTimeout))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// StreamFactory opens a model stream for one client session.
type StreamFactory func(ctx context.Context, clientID string) (Stream, error)

// NewWebSocketStreamFactory returns a factory dialing the configured
// endpoint once per session.
func NewWebSocketStreamFactory(cfg StreamConfig, logger *zap.Logger) StreamFactory {
	return func(ctx context.Context, clientID string) (Stream, error) {
		return DialModelStream(ctx, cfg, logger.With(zap.String("client_id", clientID)))
	}
}
