package metrics

import "net/http"

// NoopCollector implements Collector without recording anything. Used in
// tests and when metrics are disabled.
type NoopCollector struct{}

// NewNoopCollector creates a new NoopCollector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (c *NoopCollector) PeerConnected(clientID string)                       {}
func (c *NoopCollector) PeerDisconnected(clientID string)                    {}
func (c *NoopCollector) PeerFailure(clientID, reason string)                 {}
func (c *NoopCollector) MessageSent(clientID string)                         {}
func (c *NoopCollector) MessageAcked(clientID string)                        {}
func (c *NoopCollector) MessageRetried(clientID string)                      {}
func (c *NoopCollector) MessageDropped(clientID string)                      {}
func (c *NoopCollector) MessageDeduplicated(clientID string)                 {}
func (c *NoopCollector) ChunkSent(clientID string)                           {}
func (c *NoopCollector) ChunkReassembled(clientID string)                    {}
func (c *NoopCollector) AudioFrameReceived(clientID string, sizeBytes int)   {}
func (c *NoopCollector) AudioPacketForwarded(clientID string, sizeBytes int) {}
func (c *NoopCollector) AudioFrameDroppedByVAD(clientID string)              {}
func (c *NoopCollector) AudioFrameDroppedNotReady(clientID string)           {}
func (c *NoopCollector) AudioUnderrun(clientID string)                       {}
func (c *NoopCollector) SessionStarted(clientID string)                      {}
func (c *NoopCollector) SessionClosed(clientID string)                       {}
func (c *NoopCollector) ToolInvoked(toolName string, success bool)           {}
func (c *NoopCollector) ErrorOccurred(clientID, errorType string)            {}

// Handler returns a handler that reports metrics as disabled
func (c *NoopCollector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics disabled", http.StatusNotFound)
	})
}
