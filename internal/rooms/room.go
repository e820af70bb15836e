package rooms

import (
	"sync"
	"time"

	"tipcast/internal/core/domain"
	"tipcast/internal/core/ports"
)

// Room groups all participants connected to one live stream. It is bound to
// exactly one worker and owns one router on it.
type Room struct {
	id       domain.RoomID
	streamID domain.StreamID
	workerID domain.WorkerID
	router   ports.Router

	// mu guards everything below. Engine calls are never made under mu.
	mu             sync.Mutex
	state          domain.RoomState
	participants   map[domain.ConnID]*Session
	producerOwners map[domain.ProducerID]domain.ConnID
	consumerOwners map[domain.ConsumerID]domain.ConnID
	viewers        int
	performers     int
	lastActivity   time.Time
}

func newRoom(id domain.RoomID, streamID domain.StreamID, workerID domain.WorkerID, router ports.Router, now time.Time) *Room {
	return &Room{
		id:             id,
		streamID:       streamID,
		workerID:       workerID,
		router:         router,
		state:          domain.RoomCreated,
		participants:   make(map[domain.ConnID]*Session),
		producerOwners: make(map[domain.ProducerID]domain.ConnID),
		consumerOwners: make(map[domain.ConsumerID]domain.ConnID),
		lastActivity:   now,
	}
}

// ID returns the room id.
func (r *Room) ID() domain.RoomID { return r.id }

// StreamID returns the stream this room serves.
func (r *Room) StreamID() domain.StreamID { return r.streamID }

// WorkerID returns the owning worker.
func (r *Room) WorkerID() domain.WorkerID { return r.workerID }

// State returns the current lifecycle state.
func (r *Room) State() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ParticipantCount returns the number of participants.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Counts returns the viewer and performer counters.
func (r *Room) Counts() (viewers, performers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewers, r.performers
}

// LastActivity returns the last join/leave/producer timestamp.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// Session returns the participant session for a connection, or nil.
func (r *Room) Session(connID domain.ConnID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants[connID]
}

// Sessions returns all current participant sessions.
func (r *Room) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.participants))
	for _, s := range r.participants {
		out = append(out, s)
	}
	return out
}

// ProducerOwner returns the connection owning a producer, or false.
func (r *Room) ProducerOwner(id domain.ProducerID) (domain.ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.producerOwners[id]
	return conn, ok
}

// ProducerCount returns the number of live producers in the room.
func (r *Room) ProducerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producerOwners)
}

// ConsumerCount returns the number of live consumers in the room.
func (r *Room) ConsumerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.consumerOwners)
}

// touch must be called with mu held.
func (r *Room) touch(now time.Time) {
	r.lastActivity = now
}

// setState must be called with mu held. Illegal transitions are ignored;
// the state machine only ever moves along documented edges.
func (r *Room) setState(next domain.RoomState) bool {
	if !r.state.CanTransition(next) {
		return false
	}
	r.state = next
	return true
}
