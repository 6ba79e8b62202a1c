package model

import "errors"

// Common errors shared across packages
var (
	// ErrChannelClosed is returned when a send is attempted on a closed data channel
	ErrChannelClosed = errors.New("data channel closed")

	// ErrMessageTooLarge is returned when a message exceeds the channel limit
	// and chunking is disabled
	ErrMessageTooLarge = errors.New("message exceeds channel limit")

	// ErrSessionNotReady is returned when audio arrives before the speech
	// session has learned its stream identifiers
	ErrSessionNotReady = errors.New("speech session not ready")

	// ErrSessionClosed is returned on operations against a closed session
	ErrSessionClosed = errors.New("speech session closed")

	// ErrNoPeerConnection is returned when signaling arrives for an unknown peer
	ErrNoPeerConnection = errors.New("no active peer connection")

	// ErrToolNotFound is returned when a tool name has no registered handler
	ErrToolNotFound = errors.New("tool not found")
)
