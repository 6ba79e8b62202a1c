package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageID generates a data channel message ID: msg_<millis>_<8 hex chars>
func MessageID() string {
	return prefixedID("msg")
}

// ChunkID generates a chunk set ID: chunk_<millis>_<8 hex chars>
func ChunkID() string {
	return prefixedID("chunk")
}

// SessionID generates a unique session identifier
func SessionID() string {
	return uuid.NewString()
}

func prefixedID(prefix string) string {
	timestamp := time.Now().UnixMilli()

	// Generate 4 random bytes (8 hex characters)
	randomBytes := make([]byte, 4)
	_, err := rand.Read(randomBytes)
	if err != nil {
		// Fallback to time-based ID if random generation fails
		return fmt.Sprintf("%s_%d_%08x", prefix, timestamp, timestamp&0xffffffff)
	}

	return fmt.Sprintf("%s_%d_%s", prefix, timestamp, hex.EncodeToString(randomBytes))
}
