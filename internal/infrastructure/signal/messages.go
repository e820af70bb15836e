package signal

import (
	"encoding/json"
	"time"

	"tipcast/internal/core/domain"
)

// Inbound message types. The set is closed: anything else is rejected with
// an error reply.
const (
	TypeJoinStream       = "join_stream"
	TypeLeaveStream      = "leave_stream"
	TypeCreateTransport  = "create_transport"
	TypeConnectTransport = "connect_transport"
	TypeCreateProducer   = "create_producer"
	TypeCreateConsumer   = "create_consumer"
	TypeSendTip          = "send_tip"
	TypeSendMessage      = "send_message"
)

// Outbound message types.
const (
	TypeJoined             = "joined"
	TypeUserJoined         = "user_joined"
	TypeUserLeft           = "user_left"
	TypeTransportCreated   = "transport_created"
	TypeTransportConnected = "transport_connected"
	TypeProducerCreated    = "producer_created"
	TypeNewProducer        = "new_producer"
	TypeProducerClosed     = "producer_closed"
	TypeConsumerCreated    = "consumer_created"
	TypeConsumerClosed     = "consumer_closed"
	TypeTipReceived        = "tip_received"
	TypeMessageReceived    = "message_received"
	TypeStreamStarted      = "stream_started"
	TypeStreamEnded        = "stream_ended"
	TypeError              = "error"
)

// InboundMessage is the envelope every client message arrives in.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinStreamPayload struct {
	StreamID domain.StreamID `json:"stream_id"`
}

type CreateTransportPayload struct {
	Direction domain.TransportDirection `json:"direction"`
}

type ConnectTransportPayload struct {
	Direction       domain.TransportDirection `json:"direction"`
	DTLSFingerprint string                    `json:"dtls_fingerprint"`
	DTLSRole        string                    `json:"dtls_role,omitempty"`
}

type CreateProducerPayload struct {
	Kind      domain.MediaKind `json:"kind"`
	MimeType  string           `json:"mime_type"`
	ClockRate uint32           `json:"clock_rate"`
	Channels  uint16           `json:"channels,omitempty"`
}

type CreateConsumerPayload struct {
	ProducerID domain.ProducerID `json:"producer_id"`
	MimeTypes  []string          `json:"mime_types"`
}

type SendTipPayload struct {
	Amount  int64  `json:"amount"`
	Message string `json:"message,omitempty"`
}

type SendMessagePayload struct {
	Text string `json:"text"`
}

// OutboundMessage is the envelope for every server push and reply.
type OutboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ProducerInfo describes an existing producer to a joining participant.
type ProducerInfo struct {
	ProducerID domain.ProducerID `json:"producer_id"`
	UserID     domain.UserID     `json:"user_id"`
	Kind       domain.MediaKind  `json:"kind"`
}

type JoinedPayload struct {
	RoomID    domain.RoomID   `json:"room_id"`
	StreamID  domain.StreamID `json:"stream_id"`
	Role      domain.Role     `json:"role"`
	Producers []ProducerInfo  `json:"producers"`
}

type UserJoinedPayload struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username,omitempty"`
	Role     domain.Role   `json:"role"`
}

type UserLeftPayload struct {
	UserID domain.UserID `json:"user_id"`
}

type TransportCreatedPayload struct {
	TransportID string                    `json:"transport_id"`
	Direction   domain.TransportDirection `json:"direction"`
}

type TransportConnectedPayload struct {
	Direction domain.TransportDirection `json:"direction"`
}

type ProducerCreatedPayload struct {
	ProducerID domain.ProducerID `json:"producer_id"`
	Kind       domain.MediaKind  `json:"kind"`
}

type NewProducerPayload struct {
	ProducerID domain.ProducerID `json:"producer_id"`
	UserID     domain.UserID     `json:"user_id"`
	Kind       domain.MediaKind  `json:"kind"`
}

type ProducerClosedPayload struct {
	ProducerID domain.ProducerID `json:"producer_id"`
}

type ConsumerCreatedPayload struct {
	ConsumerID domain.ConsumerID `json:"consumer_id"`
	ProducerID domain.ProducerID `json:"producer_id"`
}

type ConsumerClosedPayload struct {
	ConsumerID domain.ConsumerID `json:"consumer_id"`
}

type TipReceivedPayload struct {
	TipID      string          `json:"tip_id"`
	StreamID   domain.StreamID `json:"stream_id"`
	FromUserID domain.UserID   `json:"from_user_id"`
	Amount     int64           `json:"amount"`
	Message    string          `json:"message,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type MessageReceivedPayload struct {
	StreamID   domain.StreamID `json:"stream_id"`
	FromUserID domain.UserID   `json:"from_user_id"`
	Username   string          `json:"username,omitempty"`
	Text       string          `json:"text"`
	CreatedAt  time.Time       `json:"created_at"`
}

type StreamStartedPayload struct {
	StreamID domain.StreamID `json:"stream_id"`
}

type StreamEndedPayload struct {
	StreamID domain.StreamID `json:"stream_id"`
	Reason   string          `json:"reason"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
