package domain

// RoomState is the lifecycle state of a room.
//
//	CREATED -> ACTIVE   first participant joins
//	ACTIVE  -> DRAINING participant count reaches zero
//	DRAINING -> ACTIVE  a join arrives before the inactivity threshold
//	DRAINING -> DELETED sweep finds the room past the threshold
type RoomState string

const (
	RoomCreated  RoomState = "CREATED"
	RoomActive   RoomState = "ACTIVE"
	RoomDraining RoomState = "DRAINING"
	RoomDeleted  RoomState = "DELETED"
)

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s RoomState) CanTransition(next RoomState) bool {
	switch s {
	case RoomCreated:
		return next == RoomActive || next == RoomDeleted
	case RoomActive:
		return next == RoomDraining
	case RoomDraining:
		return next == RoomActive || next == RoomDeleted
	default:
		return false
	}
}
