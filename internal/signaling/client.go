package signaling

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Harshitk-cp/voicebridge/internal/model"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxConnectAttempts = 3
	connectRetryDelay  = 5 * time.Second

	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
)

// MessageHandler receives every decoded relay message.
type MessageHandler func(msg model.SignalMessage)

// Options configures a relay client.
type Options struct {
	// URL is the websocket endpoint of the signaling relay.
	URL string
	// ClientID identifies this peer on the relay.
	ClientID string
	// Role is sent to the relay so it can pair initiators with responders.
	Role string
	// AuthSecret, when set, signs a short-lived token appended to the URL.
	AuthSecret string
	// TokenTTL bounds the token lifetime. Defaults to one hour.
	TokenTTL time.Duration
}

// Client maintains one websocket connection to the signaling relay and
// dispatches decoded messages to a handler.
type Client struct {
	opts    Options
	logger  *zap.Logger
	handler MessageHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	stopChan  chan struct{}
}

// NewClient creates a relay client. handler is invoked from the read loop
// goroutine, one message at a time.
func NewClient(opts Options, handler MessageHandler, logger *zap.Logger) *Client {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	return &Client{
		opts:     opts,
		logger:   logger.With(zap.String("client_id", opts.ClientID)),
		handler:  handler,
		stopChan: make(chan struct{}),
	}
}

// Connect dials the relay, retrying a bounded number of times before
// surfacing a hard failure, and starts the read loop.
func (c *Client) Connect() error {
	endpoint, err := c.buildURL()
	if err != nil {
		return fmt.Errorf("build signaling url: %w", err)
	}

	var conn *websocket.Conn
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		conn, _, err = websocket.DefaultDialer.Dial(endpoint, nil)
		if err == nil {
			break
		}
		c.logger.Warn("signaling connect failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < maxConnectAttempts {
			select {
			case <-time.After(connectRetryDelay):
			case <-c.stopChan:
				return fmt.Errorf("signaling client stopped during connect")
			}
		}
	}
	if err != nil {
		return fmt.Errorf("connect to signaling relay after %d attempts: %w", maxConnectAttempts, err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected to signaling relay", zap.String("url", c.opts.URL))
	go c.readLoop(conn)
	go c.pingLoop(conn)
	return nil
}

func (c *Client) buildURL() (string, error) {
	parsed, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("clientId", c.opts.ClientID)
	if c.opts.Role != "" {
		query.Set("role", c.opts.Role)
	}
	if c.opts.AuthSecret != "" {
		token, err := c.signToken()
		if err != nil {
			return "", fmt.Errorf("sign auth token: %w", err)
		}
		query.Set("token", token)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (c *Client) signToken() (string, error) {
	claims := jwt.MapClaims{
		"client_id": c.opts.ClientID,
		"role":      c.opts.Role,
		"exp":       time.Now().Add(c.opts.TokenTTL).Unix(),
		"iat":       time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.opts.AuthSecret))
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.markDisconnected()
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("signaling read failed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		// A frame the relay garbled must not take the whole link down.
		var msg model.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("discarding undecodable signaling frame", zap.Error(err))
			continue
		}
		if msg.Action == "" {
			c.logger.Warn("discarding signaling message without action")
			continue
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker((pongWait * 7) / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-c.stopChan:
			return
		}
	}
}

// Send encodes payload as base64 JSON and writes it to the relay wrapped
// in an action envelope addressed to recipientID.
func (c *Client) Send(action, recipientID string, payload interface{}) error {
	encoded, err := EncodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", action, err)
	}

	msg := model.SignalMessage{
		Action:            action,
		MessagePayload:    encoded,
		RecipientClientID: recipientID,
		SenderClientID:    c.opts.ClientID,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return fmt.Errorf("signaling relay not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s to signaling relay: %w", action, err)
	}
	return nil
}

// Connected reports whether the relay connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// Close tears the relay connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	c.connected = false
	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		return c.conn.Close()
	}
	return nil
}

// EncodePayload serializes v to JSON and base64-encodes it for the relay.
func EncodePayload(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayload reverses EncodePayload into v.
func DecodePayload(encoded string, v interface{}) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode base64 payload: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
