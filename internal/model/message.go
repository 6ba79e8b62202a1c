package model

import "encoding/json"

// SignalMessage represents a message exchanged over the signaling relay.
// The payload is a base64-encoded JSON document (SDP or ICE candidate).
type SignalMessage struct {
	Action            string `json:"action"`
	MessagePayload    string `json:"messagePayload"`
	RecipientClientID string `json:"recipientClientId,omitempty"`
	SenderClientID    string `json:"senderClientId,omitempty"`
}

// Signaling actions
const (
	ActionSDPOffer     = "SDP_OFFER"
	ActionSDPAnswer    = "SDP_ANSWER"
	ActionICECandidate = "ICE_CANDIDATE"
)

// ChannelMessage represents an application message on the data channel.
// Exactly one of the type-specific field groups is populated.
type ChannelMessage struct {
	Type           string `json:"type"`
	ID             string `json:"id,omitempty"`
	SequenceNumber uint64 `json:"sequenceNumber,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	RequireAck     bool   `json:"requireAck,omitempty"`

	// S2S_EVENT / S2S_RESPONSE
	Event json.RawMessage `json:"event,omitempty"`

	// ACK
	MessageID string `json:"messageId,omitempty"`

	// CHUNK
	ChunkID     string `json:"chunkId,omitempty"`
	ChunkIndex  int    `json:"chunkIndex,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	IsLast      bool   `json:"isLast,omitempty"`
	Data        string `json:"data,omitempty"`
}

// Data channel message types
const (
	MessageTypeS2SEvent    = "S2S_EVENT"
	MessageTypeS2SResponse = "S2S_RESPONSE"
	MessageTypeAck         = "ACK"
	MessageTypeChunk       = "CHUNK"
	MessageTypeHeartbeat   = "HEARTBEAT"
)

// AudioPacket represents one batch of processed microphone audio, ready to
// be forwarded to the speech stream.
type AudioPacket struct {
	AudioData  string `json:"audioData"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
	Timestamp  int64  `json:"timestamp"`
	ClientID   string `json:"client_id"`
	SizeBytes  int    `json:"size_bytes"`
}

// SessionSnapshot is the per-client view exposed on the stats endpoint.
type SessionSnapshot struct {
	ClientID        string `json:"client_id"`
	ConnectionState string `json:"connection_state"`
	MessagesSent    uint64 `json:"messages_sent"`
	MessagesAcked   uint64 `json:"messages_acked"`
	MessagesRetried uint64 `json:"messages_retried"`
	MessagesFailed  uint64 `json:"messages_failed"`
	ChunksRebuilt   uint64 `json:"chunks_rebuilt"`
	FramesIn        uint64 `json:"frames_in"`
	FramesOut       uint64 `json:"frames_out"`
	Underruns       uint64 `json:"underruns"`
}
