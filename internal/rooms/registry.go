// Package rooms implements the room registry: room lifecycle, participant
// sessions, and transport/producer/consumer bookkeeping on top of the SFU
// engine.
package rooms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tipcast/internal/core/domain"
	"tipcast/internal/core/ports"
	"tipcast/internal/engine"
	apperrors "tipcast/pkg/errors"
	"tipcast/pkg/scheduler"
	"tipcast/pkg/tracing"

	"go.uber.org/zap"
)

// Config controls room capacity and drain behavior.
type Config struct {
	MaxParticipants     int
	InactivityThreshold time.Duration
}

// Events are upward notifications fired when the engine closes media objects
// from its side. The signaling layer turns them into client pushes.
type Events struct {
	ProducerClosed func(roomID domain.RoomID, streamID domain.StreamID, producerID domain.ProducerID)
	ConsumerClosed func(roomID domain.RoomID, streamID domain.StreamID, connID domain.ConnID, consumerID domain.ConsumerID)
}

// Registry maps stream rooms to workers and owns their lifecycle.
type Registry struct {
	pool   *engine.Pool
	cfg    Config
	clock  scheduler.Clock
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room

	eventsMu sync.RWMutex
	events   Events
}

// NewRegistry creates an empty registry.
func NewRegistry(pool *engine.Pool, cfg Config, clock scheduler.Clock, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		pool:   pool,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		rooms:  make(map[domain.RoomID]*Room),
	}
}

// SetEvents registers the upward event callbacks.
func (reg *Registry) SetEvents(ev Events) {
	reg.eventsMu.Lock()
	defer reg.eventsMu.Unlock()
	reg.events = ev
}

func (reg *Registry) eventsSnapshot() Events {
	reg.eventsMu.RLock()
	defer reg.eventsMu.RUnlock()
	return reg.events
}

// Room returns the room by id, or nil.
func (reg *Registry) Room(id domain.RoomID) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[id]
}

// Rooms returns a snapshot of all registered rooms.
func (reg *Registry) Rooms() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		out = append(out, room)
	}
	return out
}

// RoomCount returns the number of registered rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// ParticipantCount returns the total participants across all rooms.
func (reg *Registry) ParticipantCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	total := 0
	for _, r := range reg.rooms {
		total += r.ParticipantCount()
	}
	return total
}

// CreateOrGet returns the room for roomID, creating it on the least-loaded
// worker when absent. Idempotent; concurrent callers for the same room may
// race to create, the loser's router is closed again.
func (reg *Registry) CreateOrGet(ctx context.Context, roomID domain.RoomID, streamID domain.StreamID) (*Room, error) {
	reg.mu.RLock()
	if room, ok := reg.rooms[roomID]; ok {
		reg.mu.RUnlock()
		return room, nil
	}
	reg.mu.RUnlock()

	ref, err := reg.pool.OptimalWorker()
	if err != nil {
		return nil, apperrors.NewEngineError(fmt.Errorf("no live worker available: %w", err))
	}

	ctx, span := tracing.TraceEngineCall(ctx, "create_router", string(roomID))
	router, err := ref.Worker.CreateRouter(ctx, ports.RouterOptions{})
	span.End()
	if err != nil {
		return nil, apperrors.NewEngineError(fmt.Errorf("create router: %w", err))
	}

	room := newRoom(roomID, streamID, ref.ID, router, reg.clock.Now())

	reg.mu.Lock()
	if existing, ok := reg.rooms[roomID]; ok {
		reg.mu.Unlock()
		// Lost the creation race; discard our router.
		if closeErr := router.Close(); closeErr != nil {
			reg.logger.Warnw("error closing redundant router", "room_id", roomID, "error", closeErr)
		}
		return existing, nil
	}
	reg.rooms[roomID] = room
	reg.mu.Unlock()

	reg.pool.AssignRoom(ref.ID)

	reg.logger.Infow("room created",
		"room_id", roomID,
		"stream_id", streamID,
		"worker_id", ref.ID,
	)
	return room, nil
}

// AddParticipant creates a session in the room. Re-joining with an existing
// connection id returns the existing session unchanged.
func (reg *Registry) AddParticipant(roomID domain.RoomID, connID domain.ConnID, userID domain.UserID, role domain.Role) (*Session, error) {
	if !role.Valid() {
		return nil, apperrors.NewValidationError("invalid role")
	}

	room := reg.Room(roomID)
	if room == nil {
		return nil, apperrors.NewNotFoundError("room")
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.state == domain.RoomDeleted {
		return nil, apperrors.NewNotFoundError("room")
	}
	if existing, ok := room.participants[connID]; ok {
		return existing, nil
	}
	if len(room.participants) >= reg.cfg.MaxParticipants {
		return nil, apperrors.NewCapacityError("room is full").
			WithContext("room_id", string(roomID)).
			WithContext("max_participants", reg.cfg.MaxParticipants)
	}

	now := reg.clock.Now()
	session := newSession(connID, userID, role, now)
	room.participants[connID] = session
	switch role {
	case domain.RolePerformer:
		room.performers++
	default:
		room.viewers++
	}
	room.touch(now)

	// First join activates a fresh room; a join during drain cancels it.
	switch room.state {
	case domain.RoomCreated:
		room.setState(domain.RoomActive)
	case domain.RoomDraining:
		room.setState(domain.RoomActive)
		reg.logger.Infow("room drain cancelled by rejoin", "room_id", roomID)
	}

	return session, nil
}

// RemoveParticipant tears down the session and every media object it owns.
// An empty room transitions to DRAINING; deletion is deferred to the sweep
// so brief reconnects do not thrash the router.
func (reg *Registry) RemoveParticipant(roomID domain.RoomID, connID domain.ConnID) error {
	room := reg.Room(roomID)
	if room == nil {
		return apperrors.NewNotFoundError("room")
	}

	room.mu.Lock()
	session, ok := room.participants[connID]
	if !ok {
		room.mu.Unlock()
		return apperrors.NewNotFoundError("participant")
	}
	delete(room.participants, connID)
	switch session.role {
	case domain.RolePerformer:
		room.performers--
	default:
		room.viewers--
	}
	for id, owner := range room.producerOwners {
		if owner == connID {
			delete(room.producerOwners, id)
		}
	}
	for id, owner := range room.consumerOwners {
		if owner == connID {
			delete(room.consumerOwners, id)
		}
	}
	now := reg.clock.Now()
	room.touch(now)
	empty := len(room.participants) == 0
	if empty {
		room.setState(domain.RoomDraining)
	}
	room.mu.Unlock()

	reg.closeSessionMedia(roomID, session)

	if empty {
		reg.logger.Infow("room draining", "room_id", roomID)
	}
	return nil
}

// closeSessionMedia closes everything a torn-down session owned. Engine
// errors here are logged, not surfaced; the participant is already gone.
func (reg *Registry) closeSessionMedia(roomID domain.RoomID, session *Session) {
	transports, producers, consumers := session.teardown()
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			reg.logger.Warnw("error closing consumer", "room_id", roomID, "consumer_id", c.ID(), "error", err)
		}
	}
	for _, p := range producers {
		if err := p.Close(); err != nil {
			reg.logger.Warnw("error closing producer", "room_id", roomID, "producer_id", p.ID(), "error", err)
		}
	}
	for _, t := range transports {
		if err := t.Close(); err != nil {
			reg.logger.Warnw("error closing transport", "room_id", roomID, "transport_id", t.ID(), "error", err)
		}
	}
}

// CreateTransport creates the participant's transport for one direction.
// A second transport for the same direction is rejected explicitly.
func (reg *Registry) CreateTransport(ctx context.Context, roomID domain.RoomID, connID domain.ConnID, dir domain.TransportDirection) (ports.Transport, error) {
	if !dir.Valid() {
		return nil, apperrors.NewValidationError("invalid transport direction")
	}

	room := reg.Room(roomID)
	if room == nil {
		return nil, apperrors.NewNotFoundError("room")
	}
	session := room.Session(connID)
	if session == nil {
		return nil, apperrors.NewNotFoundError("participant")
	}

	session.opMu.Lock()
	defer session.opMu.Unlock()

	if session.isGone() {
		return nil, apperrors.NewNotFoundError("participant")
	}
	if session.transport(dir) != nil {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("%s transport already exists; close it before creating another", dir))
	}

	ctx, span := tracing.TraceEngineCall(ctx, "create_transport", string(roomID))
	transport, err := room.router.CreateTransport(ctx, ports.TransportOptions{Direction: dir})
	span.End()
	if err != nil {
		reg.logger.Errorw("engine transport creation failed",
			"room_id", roomID,
			"conn_id", connID,
			"direction", dir,
			"error", err,
		)
		return nil, apperrors.NewEngineError(err)
	}

	session.mu.Lock()
	if session.gone {
		session.mu.Unlock()
		// Participant disconnected while the engine call was in flight.
		_ = transport.Close()
		return nil, apperrors.NewNotFoundError("participant")
	}
	session.transports[dir] = transport
	session.mu.Unlock()

	// The engine may tear the transport down from its side; detach and
	// cascade when it does.
	transport.OnClosed(func() {
		reg.onTransportClosed(roomID, connID, dir)
	})

	return transport, nil
}

// onTransportClosed detaches a transport the engine closed and cascades to
// the producers or consumers that rode on it.
func (reg *Registry) onTransportClosed(roomID domain.RoomID, connID domain.ConnID, dir domain.TransportDirection) {
	room := reg.Room(roomID)
	if room == nil {
		return
	}
	session := room.Session(connID)
	if session == nil {
		return
	}

	_, producers, consumers := session.detachTransport(dir)

	room.mu.Lock()
	for _, p := range producers {
		delete(room.producerOwners, domain.ProducerID(p.ID()))
	}
	for _, c := range consumers {
		delete(room.consumerOwners, domain.ConsumerID(c.ID()))
	}
	room.mu.Unlock()

	for _, p := range producers {
		_ = p.Close()
	}
	for _, c := range consumers {
		_ = c.Close()
	}

	reg.logger.Infow("transport closed by engine",
		"room_id", roomID,
		"conn_id", connID,
		"direction", dir,
	)
}

// ConnectTransport completes the client-side handshake for a transport.
func (reg *Registry) ConnectTransport(ctx context.Context, roomID domain.RoomID, connID domain.ConnID, dir domain.TransportDirection, params ports.TransportConnectParams) error {
	if !dir.Valid() {
		return apperrors.NewValidationError("invalid transport direction")
	}

	room := reg.Room(roomID)
	if room == nil {
		return apperrors.NewNotFoundError("room")
	}
	session := room.Session(connID)
	if session == nil {
		return apperrors.NewNotFoundError("participant")
	}

	session.opMu.Lock()
	defer session.opMu.Unlock()

	transport := session.transport(dir)
	if transport == nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s transport", dir))
	}
	ctx, span := tracing.TraceEngineCall(ctx, "connect_transport", string(roomID))
	err := transport.Connect(ctx, params)
	span.End()
	if err != nil {
		reg.logger.Errorw("engine transport connect failed",
			"room_id", roomID,
			"conn_id", connID,
			"direction", dir,
			"error", err,
		)
		return apperrors.NewEngineError(err)
	}
	return nil
}

// CreateProducer publishes a media track for a performer. Requires an
// existing send transport.
func (reg *Registry) CreateProducer(ctx context.Context, roomID domain.RoomID, connID domain.ConnID, kind domain.MediaKind, params ports.ProducerParams) (ports.Producer, error) {
	if !kind.Valid() {
		return nil, apperrors.NewValidationError("invalid media kind")
	}

	room := reg.Room(roomID)
	if room == nil {
		return nil, apperrors.NewNotFoundError("room")
	}
	session := room.Session(connID)
	if session == nil {
		return nil, apperrors.NewNotFoundError("participant")
	}
	if session.Role() != domain.RolePerformer {
		return nil, apperrors.NewAuthorizationError("only performers may produce media")
	}

	session.opMu.Lock()
	defer session.opMu.Unlock()

	if session.isGone() {
		return nil, apperrors.NewNotFoundError("participant")
	}
	transport := session.transport(domain.DirectionSend)
	if transport == nil {
		return nil, apperrors.NewNotFoundError("send transport")
	}

	ctx, span := tracing.TraceEngineCall(ctx, "produce", string(roomID))
	producer, err := transport.Produce(ctx, kind, params)
	span.End()
	if err != nil {
		reg.logger.Errorw("engine produce failed",
			"room_id", roomID,
			"conn_id", connID,
			"kind", kind,
			"error", err,
		)
		return nil, apperrors.NewEngineError(err)
	}

	producerID := domain.ProducerID(producer.ID())

	session.mu.Lock()
	if session.gone {
		session.mu.Unlock()
		_ = producer.Close()
		return nil, apperrors.NewNotFoundError("participant")
	}
	session.producers[producerID] = producer
	session.mu.Unlock()

	room.mu.Lock()
	room.producerOwners[producerID] = connID
	room.touch(reg.clock.Now())
	streamID := room.streamID
	room.mu.Unlock()

	producer.OnClosed(func() {
		reg.onProducerClosed(roomID, streamID, connID, producerID)
	})

	reg.logger.Infow("producer created",
		"room_id", roomID,
		"conn_id", connID,
		"producer_id", producerID,
		"kind", kind,
	)
	return producer, nil
}

// onProducerClosed detaches a producer closed from the engine side and
// propagates the closure upward. Downstream consumers are invalidated by the
// engine's own consumer-closed signals.
func (reg *Registry) onProducerClosed(roomID domain.RoomID, streamID domain.StreamID, connID domain.ConnID, producerID domain.ProducerID) {
	room := reg.Room(roomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	delete(room.producerOwners, producerID)
	room.mu.Unlock()

	if session := room.Session(connID); session != nil {
		session.detachProducer(producerID)
	}

	if ev := reg.eventsSnapshot(); ev.ProducerClosed != nil {
		ev.ProducerClosed(roomID, streamID, producerID)
	}
}

// CreateConsumer subscribes a participant to a producer in the same room.
// Requires an existing recv transport and a compatible capability set.
func (reg *Registry) CreateConsumer(ctx context.Context, roomID domain.RoomID, connID domain.ConnID, producerID domain.ProducerID, caps ports.ConsumerCapabilities) (ports.Consumer, error) {
	room := reg.Room(roomID)
	if room == nil {
		return nil, apperrors.NewNotFoundError("room")
	}
	session := room.Session(connID)
	if session == nil {
		return nil, apperrors.NewNotFoundError("participant")
	}
	if _, ok := room.ProducerOwner(producerID); !ok {
		return nil, apperrors.NewNotFoundError("producer")
	}

	session.opMu.Lock()
	defer session.opMu.Unlock()

	if session.isGone() {
		return nil, apperrors.NewNotFoundError("participant")
	}
	transport := session.transport(domain.DirectionRecv)
	if transport == nil {
		return nil, apperrors.NewNotFoundError("recv transport")
	}
	if !room.router.CanConsume(string(producerID), caps) {
		return nil, apperrors.NewValidationError("incompatible consumer capabilities")
	}

	ctx, span := tracing.TraceEngineCall(ctx, "consume", string(roomID))
	consumer, err := transport.Consume(ctx, string(producerID), caps)
	span.End()
	if err != nil {
		reg.logger.Errorw("engine consume failed",
			"room_id", roomID,
			"conn_id", connID,
			"producer_id", producerID,
			"error", err,
		)
		return nil, apperrors.NewEngineError(err)
	}

	consumerID := domain.ConsumerID(consumer.ID())

	session.mu.Lock()
	if session.gone {
		session.mu.Unlock()
		_ = consumer.Close()
		return nil, apperrors.NewNotFoundError("participant")
	}
	session.consumers[consumerID] = consumer
	session.mu.Unlock()

	room.mu.Lock()
	room.consumerOwners[consumerID] = connID
	room.touch(reg.clock.Now())
	streamID := room.streamID
	room.mu.Unlock()

	consumer.OnClosed(func() {
		reg.onConsumerClosed(roomID, streamID, connID, consumerID)
	})

	return consumer, nil
}

// onConsumerClosed detaches a consumer closed from the engine side and
// propagates the closure upward.
func (reg *Registry) onConsumerClosed(roomID domain.RoomID, streamID domain.StreamID, connID domain.ConnID, consumerID domain.ConsumerID) {
	room := reg.Room(roomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	delete(room.consumerOwners, consumerID)
	room.mu.Unlock()

	if session := room.Session(connID); session != nil {
		session.detachConsumer(consumerID)
	}

	if ev := reg.eventsSnapshot(); ev.ConsumerClosed != nil {
		ev.ConsumerClosed(roomID, streamID, connID, consumerID)
	}
}

// SweepInactive deletes rooms whose last activity is older than the
// inactivity threshold: DRAINING rooms, and CREATED rooms that never got a
// participant (the join that created them was torn down mid-way). Rooms with
// participants are never deleted.
func (reg *Registry) SweepInactive(ctx context.Context) error {
	now := reg.clock.Now()

	reg.mu.RLock()
	var stale []*Room
	for _, room := range reg.rooms {
		room.mu.Lock()
		sweepable := room.state == domain.RoomDraining ||
			(room.state == domain.RoomCreated && len(room.participants) == 0)
		if sweepable && now.Sub(room.lastActivity) >= reg.cfg.InactivityThreshold {
			stale = append(stale, room)
		}
		room.mu.Unlock()
	}
	reg.mu.RUnlock()

	for _, room := range stale {
		if err := reg.Delete(ctx, room.ID()); err != nil {
			reg.logger.Warnw("sweep failed to delete room", "room_id", room.ID(), "error", err)
		}
	}

	if len(stale) > 0 {
		reg.logger.Infow("swept inactive rooms", "count", len(stale))
	}
	return nil
}

// Delete removes a room, closing all media and the router, and releases the
// worker's load. Idempotent. A room that still has participants is only
// deleted after their sessions are torn down here, which happens solely on
// worker loss; the sweep never reaches a populated room.
func (reg *Registry) Delete(ctx context.Context, roomID domain.RoomID) error {
	reg.mu.Lock()
	room, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	delete(reg.rooms, roomID)
	reg.mu.Unlock()

	room.mu.Lock()
	sessions := make([]*Session, 0, len(room.participants))
	for _, s := range room.participants {
		sessions = append(sessions, s)
	}
	room.participants = make(map[domain.ConnID]*Session)
	room.producerOwners = make(map[domain.ProducerID]domain.ConnID)
	room.consumerOwners = make(map[domain.ConsumerID]domain.ConnID)
	if room.state == domain.RoomActive {
		room.setState(domain.RoomDraining)
	}
	room.setState(domain.RoomDeleted)
	room.mu.Unlock()

	for _, s := range sessions {
		reg.closeSessionMedia(roomID, s)
	}
	if err := room.router.Close(); err != nil {
		reg.logger.Warnw("error closing router", "room_id", roomID, "error", err)
	}
	reg.pool.ReleaseRoom(room.workerID)

	reg.logger.Infow("room deleted", "room_id", roomID, "stream_id", room.streamID)
	return nil
}

// TerminateOnWorker deletes every room bound to a dead worker and returns
// their ids so the signaling layer can tell clients to rejoin. Rooms are not
// migrated to the replacement worker.
func (reg *Registry) TerminateOnWorker(workerID domain.WorkerID) []*Room {
	reg.mu.RLock()
	var doomed []*Room
	for _, room := range reg.rooms {
		if room.workerID == workerID {
			doomed = append(doomed, room)
		}
	}
	reg.mu.RUnlock()

	for _, room := range doomed {
		if err := reg.Delete(context.Background(), room.ID()); err != nil {
			reg.logger.Warnw("failed to terminate room on dead worker",
				"room_id", room.ID(),
				"worker_id", workerID,
				"error", err,
			)
		}
	}
	if len(doomed) > 0 {
		reg.logger.Warnw("terminated rooms on dead worker",
			"worker_id", workerID,
			"rooms", len(doomed),
		)
	}
	return doomed
}

// Close deletes every room. Used on shutdown.
func (reg *Registry) Close(ctx context.Context) {
	reg.mu.RLock()
	ids := make([]domain.RoomID, 0, len(reg.rooms))
	for id := range reg.rooms {
		ids = append(ids, id)
	}
	reg.mu.RUnlock()

	for _, id := range ids {
		_ = reg.Delete(ctx, id)
	}
}
