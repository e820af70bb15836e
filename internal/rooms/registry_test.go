package rooms

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tipcast/internal/core/domain"
	"tipcast/internal/core/ports"
	"tipcast/internal/engine"
	"tipcast/internal/enginetest"
	apperrors "tipcast/pkg/errors"
	"tipcast/pkg/retry"
	"tipcast/pkg/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T, workers int, cfg Config) (*Registry, *enginetest.Engine, *engine.Pool, *scheduler.ManualClock) {
	t.Helper()

	eng := enginetest.NewEngine()
	pool := engine.NewPool(eng, engine.Config{
		InitialWorkers: workers,
		MaxWorkers:     workers,
		BasePort:       40000,
		PortsPerWorker: 1000,
		RoomsPerWorker: 100,
	}, retry.Config{MaxAttempts: 1}, zap.NewNop().Sugar())
	require.NoError(t, pool.Initialize(context.Background()))

	if cfg.MaxParticipants == 0 {
		cfg.MaxParticipants = 500
	}
	if cfg.InactivityThreshold == 0 {
		cfg.InactivityThreshold = 30 * time.Minute
	}

	clock := scheduler.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	reg := NewRegistry(pool, cfg, clock, zap.NewNop().Sugar())
	return reg, eng, pool, clock
}

func join(t *testing.T, reg *Registry, roomID domain.RoomID, connID domain.ConnID, role domain.Role) *Session {
	t.Helper()
	s, err := reg.AddParticipant(roomID, connID, domain.UserID("user-"+string(connID)), role)
	require.NoError(t, err)
	return s
}

func TestCreateOrGetIsIdempotent(t *testing.T) {
	reg, eng, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	r1, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	r2, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)

	assert.Same(t, r1, r2)
	assert.Equal(t, domain.RoomCreated, r1.State())
	assert.Len(t, eng.Workers()[0].Routers(), 1)
}

func TestCreateOrGetBalancesAcrossWorkers(t *testing.T) {
	reg, _, pool, _ := newTestRegistry(t, 2, Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := reg.CreateOrGet(ctx, domain.RoomID(fmt.Sprintf("room-%d", i)), "stream")
		require.NoError(t, err)
	}

	loads := make([]int, 0, 2)
	for _, st := range pool.Snapshot() {
		loads = append(loads, st.Load)
	}
	assert.ElementsMatch(t, []int{2, 2}, loads)
}

func TestAddParticipantEnforcesCapacity(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{MaxParticipants: 2})
	ctx := context.Background()

	_, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)

	join(t, reg, "room-1", "c1", domain.RolePerformer)
	join(t, reg, "room-1", "c2", domain.RoleViewer)

	_, err = reg.AddParticipant("room-1", "c3", "u3", domain.RoleViewer)
	assert.Equal(t, apperrors.ErrCodeCapacity, apperrors.CodeOf(err))

	// Leaving frees a slot.
	require.NoError(t, reg.RemoveParticipant("room-1", "c2"))
	_, err = reg.AddParticipant("room-1", "c3", "u3", domain.RoleViewer)
	assert.NoError(t, err)
}

func TestFirstJoinActivatesRoom(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	room, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	require.Equal(t, domain.RoomCreated, room.State())

	join(t, reg, "room-1", "c1", domain.RoleViewer)
	assert.Equal(t, domain.RoomActive, room.State())
}

func TestLastLeaveDrainsAndRejoinCancelsDrain(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	room, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)

	join(t, reg, "room-1", "c1", domain.RoleViewer)
	require.NoError(t, reg.RemoveParticipant("room-1", "c1"))
	assert.Equal(t, domain.RoomDraining, room.State())

	join(t, reg, "room-1", "c1", domain.RoleViewer)
	assert.Equal(t, domain.RoomActive, room.State())
}

func TestRemoveParticipantClosesOwnedMedia(t *testing.T) {
	reg, eng, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	room, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	join(t, reg, "room-1", "c1", domain.RolePerformer)
	join(t, reg, "room-1", "c2", domain.RoleViewer)

	sendT, err := reg.CreateTransport(ctx, "room-1", "c1", domain.DirectionSend)
	require.NoError(t, err)
	producer, err := reg.CreateProducer(ctx, "room-1", "c1", domain.MediaVideo, ports.ProducerParams{MimeType: "video/vp8"})
	require.NoError(t, err)

	recvT, err := reg.CreateTransport(ctx, "room-1", "c2", domain.DirectionRecv)
	require.NoError(t, err)
	consumer, err := reg.CreateConsumer(ctx, "room-1", "c2", domain.ProducerID(producer.ID()), ports.ConsumerCapabilities{MimeTypes: []string{"video/vp8"}})
	require.NoError(t, err)

	require.NoError(t, reg.RemoveParticipant("room-1", "c1"))

	assert.True(t, producer.(*enginetest.Producer).Closed())
	assert.True(t, sendT.(*enginetest.Transport).Closed())
	assert.False(t, recvT.(*enginetest.Transport).Closed())

	// No residual ownership entries for the departed participant.
	_, owned := room.ProducerOwner(domain.ProducerID(producer.ID()))
	assert.False(t, owned)
	assert.Equal(t, 0, room.ProducerCount())

	require.NoError(t, reg.RemoveParticipant("room-1", "c2"))
	assert.True(t, consumer.(*enginetest.Consumer).Closed())
	assert.Equal(t, 0, room.ConsumerCount())
	assert.Equal(t, 0, room.ParticipantCount())
	assert.Len(t, eng.Workers(), 1)
}

func TestDuplicateTransportDirectionIsRejected(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	_, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	join(t, reg, "room-1", "c1", domain.RolePerformer)

	_, err = reg.CreateTransport(ctx, "room-1", "c1", domain.DirectionSend)
	require.NoError(t, err)

	_, err = reg.CreateTransport(ctx, "room-1", "c1", domain.DirectionSend)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))

	// The other direction remains available.
	_, err = reg.CreateTransport(ctx, "room-1", "c1", domain.DirectionRecv)
	assert.NoError(t, err)
}

func TestProduceRequiresPerformerRole(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	_, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	join(t, reg, "room-1", "c1", domain.RoleViewer)

	_, err = reg.CreateTransport(ctx, "room-1", "c1", domain.DirectionSend)
	require.NoError(t, err)

	_, err = reg.CreateProducer(ctx, "room-1", "c1", domain.MediaAudio, ports.ProducerParams{MimeType: "audio/opus"})
	assert.Equal(t, apperrors.ErrCodeAuthorization, apperrors.CodeOf(err))
}

func TestProduceRequiresSendTransport(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	_, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	join(t, reg, "room-1", "c1", domain.RolePerformer)

	_, err = reg.CreateProducer(ctx, "room-1", "c1", domain.MediaAudio, ports.ProducerParams{MimeType: "audio/opus"})
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestConsumeRejectsIncompatibleCapabilities(t *testing.T) {
	reg, eng, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	_, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	join(t, reg, "room-1", "c1", domain.RolePerformer)
	join(t, reg, "room-1", "c2", domain.RoleViewer)

	_, err = reg.CreateTransport(ctx, "room-1", "c1", domain.DirectionSend)
	require.NoError(t, err)
	producer, err := reg.CreateProducer(ctx, "room-1", "c1", domain.MediaVideo, ports.ProducerParams{MimeType: "video/vp8"})
	require.NoError(t, err)

	_, err = reg.CreateTransport(ctx, "room-1", "c2", domain.DirectionRecv)
	require.NoError(t, err)

	eng.Workers()[0].Routers()[0].CanConsumeFn = func(producerID string, caps ports.ConsumerCapabilities) bool {
		return false
	}
	_, err = reg.CreateConsumer(ctx, "room-1", "c2", domain.ProducerID(producer.ID()), ports.ConsumerCapabilities{MimeTypes: []string{"video/h264"}})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
}

func TestConsumeUnknownProducer(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	_, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	join(t, reg, "room-1", "c1", domain.RoleViewer)

	_, err = reg.CreateTransport(ctx, "room-1", "c1", domain.DirectionRecv)
	require.NoError(t, err)

	_, err = reg.CreateConsumer(ctx, "room-1", "c1", "prod_missing", ports.ConsumerCapabilities{})
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestEngineSideProducerCloseFiresEvent(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	var gotRoom domain.RoomID
	var gotProducer domain.ProducerID
	reg.SetEvents(Events{
		ProducerClosed: func(roomID domain.RoomID, streamID domain.StreamID, producerID domain.ProducerID) {
			gotRoom = roomID
			gotProducer = producerID
		},
	})

	room, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	session := join(t, reg, "room-1", "c1", domain.RolePerformer)

	_, err = reg.CreateTransport(ctx, "room-1", "c1", domain.DirectionSend)
	require.NoError(t, err)
	producer, err := reg.CreateProducer(ctx, "room-1", "c1", domain.MediaAudio, ports.ProducerParams{MimeType: "audio/opus"})
	require.NoError(t, err)

	producer.(*enginetest.Producer).TriggerClosed()

	assert.Equal(t, domain.RoomID("room-1"), gotRoom)
	assert.Equal(t, domain.ProducerID(producer.ID()), gotProducer)
	assert.Empty(t, session.ProducerIDs())
	assert.Equal(t, 0, room.ProducerCount())
}

func TestEngineSideTransportCloseCascades(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	room, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	session := join(t, reg, "room-1", "c1", domain.RolePerformer)

	transport, err := reg.CreateTransport(ctx, "room-1", "c1", domain.DirectionSend)
	require.NoError(t, err)
	producer, err := reg.CreateProducer(ctx, "room-1", "c1", domain.MediaAudio, ports.ProducerParams{MimeType: "audio/opus"})
	require.NoError(t, err)

	transport.(*enginetest.Transport).TriggerClosed()

	assert.True(t, producer.(*enginetest.Producer).Closed())
	assert.Empty(t, session.ProducerIDs())
	assert.Equal(t, 0, room.ProducerCount())

	// Direction slot is free again after the engine-side close.
	_, err = reg.CreateTransport(ctx, "room-1", "c1", domain.DirectionSend)
	assert.NoError(t, err)
}

func TestSweepDeletesDrainedRoomsAfterThreshold(t *testing.T) {
	reg, eng, pool, clock := newTestRegistry(t, 1, Config{InactivityThreshold: 30 * time.Minute})
	ctx := context.Background()

	room, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	join(t, reg, "room-1", "c1", domain.RoleViewer)
	require.NoError(t, reg.RemoveParticipant("room-1", "c1"))
	require.Equal(t, domain.RoomDraining, room.State())

	clock.Advance(10 * time.Minute)
	require.NoError(t, reg.SweepInactive(ctx))
	assert.NotNil(t, reg.Room("room-1"), "drained room survives before the threshold")

	clock.Advance(20 * time.Minute)
	require.NoError(t, reg.SweepInactive(ctx))
	assert.Nil(t, reg.Room("room-1"))
	assert.Equal(t, domain.RoomDeleted, room.State())
	assert.True(t, eng.Workers()[0].Routers()[0].Closed())
	assert.Equal(t, 0, pool.Snapshot()[0].Load)
}

func TestSweepDeletesEmptyCreatedRoomsAfterThreshold(t *testing.T) {
	reg, _, pool, clock := newTestRegistry(t, 1, Config{InactivityThreshold: 30 * time.Minute})
	ctx := context.Background()

	// A join torn down between room creation and AddParticipant leaves the
	// room in CREATED with no participants. The sweep must reclaim it.
	room, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	require.Equal(t, domain.RoomCreated, room.State())

	clock.Advance(10 * time.Minute)
	require.NoError(t, reg.SweepInactive(ctx))
	assert.NotNil(t, reg.Room("room-1"), "empty room survives before the threshold")

	clock.Advance(20 * time.Minute)
	require.NoError(t, reg.SweepInactive(ctx))
	assert.Nil(t, reg.Room("room-1"))
	assert.Equal(t, 0, pool.Snapshot()[0].Load)
}

func TestSweepSparesActiveRooms(t *testing.T) {
	reg, _, _, clock := newTestRegistry(t, 1, Config{InactivityThreshold: 30 * time.Minute})
	ctx := context.Background()

	_, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	join(t, reg, "room-1", "c1", domain.RoleViewer)

	clock.Advance(2 * time.Hour)
	require.NoError(t, reg.SweepInactive(ctx))
	assert.NotNil(t, reg.Room("room-1"))
}

func TestDeleteIsIdempotent(t *testing.T) {
	reg, _, pool, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	_, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, "room-1"))
	require.NoError(t, reg.Delete(ctx, "room-1"))
	assert.Equal(t, 0, pool.Snapshot()[0].Load)
}

func TestTerminateOnWorkerDeletesItsRooms(t *testing.T) {
	reg, _, pool, _ := newTestRegistry(t, 2, Config{})
	ctx := context.Background()

	r1, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	r2, err := reg.CreateOrGet(ctx, "room-2", "stream-2")
	require.NoError(t, err)
	require.NotEqual(t, r1.WorkerID(), r2.WorkerID())
	join(t, reg, "room-1", "c1", domain.RoleViewer)

	terminated := reg.TerminateOnWorker(r1.WorkerID())

	require.Len(t, terminated, 1)
	assert.Equal(t, domain.RoomID("room-1"), terminated[0].ID())
	assert.Equal(t, domain.StreamID("stream-1"), terminated[0].StreamID())
	assert.Nil(t, reg.Room("room-1"))
	assert.NotNil(t, reg.Room("room-2"))
	assert.Equal(t, 2, len(pool.Snapshot()))
}

func TestRejoinWithSameConnIDReturnsExistingSession(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	room, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	s1 := join(t, reg, "room-1", "c1", domain.RoleViewer)
	s2 := join(t, reg, "room-1", "c1", domain.RoleViewer)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, room.ParticipantCount())
}

func TestViewerAndPerformerCounts(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t, 1, Config{})
	ctx := context.Background()

	room, err := reg.CreateOrGet(ctx, "room-1", "stream-1")
	require.NoError(t, err)
	join(t, reg, "room-1", "c1", domain.RolePerformer)
	join(t, reg, "room-1", "c2", domain.RoleViewer)
	join(t, reg, "room-1", "c3", domain.RoleViewer)

	viewers, performers := room.Counts()
	assert.Equal(t, 2, viewers)
	assert.Equal(t, 1, performers)

	require.NoError(t, reg.RemoveParticipant("room-1", "c2"))
	viewers, performers = room.Counts()
	assert.Equal(t, 1, viewers)
	assert.Equal(t, 1, performers)
}
