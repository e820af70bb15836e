package domain

import "time"

// StreamInfo is the persisted view of a stream, queried before admitting a
// performer join. The persistence layer owns the full record; the control
// plane only needs these fields.
type StreamInfo struct {
	ID         StreamID  `json:"id"`
	HostUserID UserID    `json:"host_user_id"`
	Title      string    `json:"title"`
	Live       bool      `json:"live"`
	CreatedAt  time.Time `json:"created_at"`
}

// Tip is a tipping event flowing through the signaling boundary. The
// financial ledger write is delegated to external services; this struct only
// carries what the control plane validates and rebroadcasts.
type Tip struct {
	ID         string    `json:"id"`
	StreamID   StreamID  `json:"stream_id"`
	FromUserID UserID    `json:"from_user_id"`
	ToUserID   UserID    `json:"to_user_id"`
	Amount     int64     `json:"amount"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatMessage is a chat event rebroadcast to the room.
type ChatMessage struct {
	StreamID   StreamID  `json:"stream_id"`
	FromUserID UserID    `json:"from_user_id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}
