package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/voicebridge/internal/model"
	"github.com/Harshitk-cp/voicebridge/pkg/util"
)

const (
	// MaxMessageSize is the data channel frame limit
	MaxMessageSize = 65536

	// ChunkSize is the payload size per chunk, kept under the frame limit
	ChunkSize = 60000

	// chunkBufferTTL bounds how long a partial chunk set is kept
	chunkBufferTTL = 30 * time.Second
)

// SplitMessage splits a serialized message into chunk messages. Split points
// never land inside a multi-byte UTF-8 sequence, so every chunk stays a valid
// JSON string. The final chunk carries the ack flag when the original message
// asked for one.
func SplitMessage(serialized []byte, requireAck bool) []model.ChannelMessage {
	var boundaries []int
	for start := 0; start < len(serialized); {
		end := start + ChunkSize
		if end >= len(serialized) {
			end = len(serialized)
		} else {
			// Back off any UTF-8 continuation bytes
			for end > start && serialized[end]&0xC0 == 0x80 {
				end--
			}
		}
		boundaries = append(boundaries, end)
		start = end
	}

	chunkID := util.ChunkID()
	totalChunks := len(boundaries)

	chunks := make([]model.ChannelMessage, 0, totalChunks)
	start := 0
	for i, end := range boundaries {
		isLast := i == totalChunks-1
		chunks = append(chunks, model.ChannelMessage{
			ID:          util.MessageID(),
			Type:        model.MessageTypeChunk,
			Timestamp:   time.Now().UnixMilli(),
			ChunkID:     chunkID,
			ChunkIndex:  i,
			TotalChunks: totalChunks,
			IsLast:      isLast,
			Data:        string(serialized[start:end]),
			RequireAck:  requireAck && isLast,
		})
		start = end
	}
	return chunks
}

// Reassembler rebuilds original messages from chunk messages. Partial sets
// that never complete are dropped after a TTL.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[string]*chunkBuffer
}

type chunkBuffer struct {
	parts     []string
	received  int
	createdAt time.Time
}

// NewReassembler creates a new Reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{
		buffers: make(map[string]*chunkBuffer),
	}
}

// Add records one chunk. When the set completes it returns the reassembled
// message bytes and true; otherwise it returns nil and false.
func (r *Reassembler) Add(chunk model.ChannelMessage) ([]byte, bool, error) {
	if chunk.ChunkID == "" || chunk.TotalChunks <= 0 || chunk.Data == "" {
		return nil, false, fmt.Errorf("invalid chunk %q: index %d of %d", chunk.ChunkID, chunk.ChunkIndex, chunk.TotalChunks)
	}
	if chunk.ChunkIndex < 0 || chunk.ChunkIndex >= chunk.TotalChunks {
		return nil, false, fmt.Errorf("chunk index %d out of range for %q", chunk.ChunkIndex, chunk.ChunkID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buffer, ok := r.buffers[chunk.ChunkID]
	if !ok {
		buffer = &chunkBuffer{
			parts:     make([]string, chunk.TotalChunks),
			createdAt: time.Now(),
		}
		r.buffers[chunk.ChunkID] = buffer
	}

	if chunk.TotalChunks != len(buffer.parts) {
		delete(r.buffers, chunk.ChunkID)
		return nil, false, fmt.Errorf("chunk count mismatch for %q: %d vs %d", chunk.ChunkID, chunk.TotalChunks, len(buffer.parts))
	}

	if buffer.parts[chunk.ChunkIndex] == "" {
		buffer.parts[chunk.ChunkIndex] = chunk.Data
		buffer.received++
	}

	if buffer.received < len(buffer.parts) {
		return nil, false, nil
	}

	delete(r.buffers, chunk.ChunkID)

	size := 0
	for _, part := range buffer.parts {
		size += len(part)
	}
	reassembled := make([]byte, 0, size)
	for _, part := range buffer.parts {
		reassembled = append(reassembled, part...)
	}
	return reassembled, true, nil
}

// Sweep drops partial chunk sets older than the TTL and returns how many
// were dropped.
func (r *Reassembler) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, buffer := range r.buffers {
		if now.Sub(buffer.createdAt) > chunkBufferTTL {
			delete(r.buffers, id)
			dropped++
		}
	}
	return dropped
}

// Pending returns the number of incomplete chunk sets
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}
