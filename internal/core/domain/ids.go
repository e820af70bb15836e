package domain

type (
	StreamID    string
	RoomID      string
	ConnID      string
	UserID      string
	WorkerID    string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// Role of a participant inside a room.
type Role string

const (
	RoleViewer    Role = "viewer"
	RolePerformer Role = "performer"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RolePerformer
}

// MediaKind of a producer track.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Valid reports whether the kind is one of the known values.
func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// TransportDirection distinguishes the send and receive media channels.
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// Valid reports whether the direction is one of the known values.
func (d TransportDirection) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}
