package webrtc

import (
	"sync"
	"time"

	"github.com/Harshitk-cp/voicebridge/internal/model"
	"go.uber.org/zap"
)

const (
	monitorInterval = 30 * time.Second
	staleTimeout    = 2 * time.Minute
)

// Registry tracks the live client sessions and reaps stale ones.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*ClientSession

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates the session registry and starts its monitor.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:   logger,
		sessions: make(map[string]*ClientSession),
		stopChan: make(chan struct{}),
	}
	go r.monitor()
	return r
}

// Put registers a session and installs its teardown hook, closing any
// previous session for the same client.
func (r *Registry) Put(clientID string, session *ClientSession) {
	session.setOnClosed(func() { r.removeIfCurrent(clientID, session) })

	r.mu.Lock()
	previous, exists := r.sessions[clientID]
	r.sessions[clientID] = session
	r.mu.Unlock()

	if exists && previous != session {
		r.logger.Warn("replacing existing session", zap.String("client_id", clientID))
		previous.Close()
	}
}

// removeIfCurrent drops the registry entry only when it still points at
// the closing session, so a replacement is never evicted by its
// predecessor's teardown.
func (r *Registry) removeIfCurrent(clientID string, session *ClientSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[clientID] == session {
		delete(r.sessions, clientID)
	}
}

// Get returns the session for clientID, if any.
func (r *Registry) Get(clientID string) (*ClientSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[clientID]
	return session, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshots assembles the stats view for every live session.
func (r *Registry) Snapshots() []model.SessionSnapshot {
	r.mu.RLock()
	sessions := make([]*ClientSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	snapshots := make([]model.SessionSnapshot, 0, len(sessions))
	for _, session := range sessions {
		snapshots = append(snapshots, session.Snapshot())
	}
	return snapshots
}

// CloseAll tears down every session and stops the monitor.
func (r *Registry) CloseAll() {
	r.stopOnce.Do(func() { close(r.stopChan) })

	r.mu.Lock()
	sessions := make([]*ClientSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*ClientSession)
	r.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}

func (r *Registry) monitor() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			r.mu.RLock()
			stale := make([]*ClientSession, 0)
			for clientID, session := range r.sessions {
				if now.Sub(session.LastActivity()) > staleTimeout {
					r.logger.Info("reaping stale session",
						zap.String("client_id", clientID),
						zap.Time("last_activity", session.LastActivity()))
					stale = append(stale, session)
				}
			}
			r.mu.RUnlock()

			for _, session := range stale {
				session.Close()
			}
		case <-r.stopChan:
			return
		}
	}
}
