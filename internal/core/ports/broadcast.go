package ports

import "tipcast/internal/core/domain"

// Broadcaster pushes server events to connected clients. Both the realtime
// gateway and the HTTP layer receive the same instance at startup, so
// neither reaches into the other.
type Broadcaster interface {
	// ToConn sends an event to a single connection. Unknown connections are
	// ignored.
	ToConn(connID domain.ConnID, event interface{})
	// ToRoom sends an event to every member of a room.
	ToRoom(roomID domain.RoomID, event interface{})
	// ToRoomExcept sends an event to every member of a room except one
	// connection, typically the originator.
	ToRoomExcept(roomID domain.RoomID, skip domain.ConnID, event interface{})
}
