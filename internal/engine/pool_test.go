package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"tipcast/internal/core/domain"
	"tipcast/internal/enginetest"
	"tipcast/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newTestPool(t *testing.T, eng *enginetest.Engine, workers int) *Pool {
	t.Helper()
	cfg := Config{
		InitialWorkers: workers,
		MaxWorkers:     8,
		AutoScale:      false,
		ScaleThreshold: 0.8,
		RoomsPerWorker: 100,
		BasePort:       40000,
		PortsPerWorker: 1000,
	}
	p := NewPool(eng, cfg, testRetry(), zap.NewNop().Sugar())
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func TestInitializeAssignsDisjointPortRanges(t *testing.T) {
	eng := enginetest.NewEngine()
	newTestPool(t, eng, 3)

	workers := eng.Workers()
	require.Len(t, workers, 3)
	assert.Equal(t, uint16(40000), workers[0].Opts.MinPort)
	assert.Equal(t, uint16(40999), workers[0].Opts.MaxPort)
	assert.Equal(t, uint16(41000), workers[1].Opts.MinPort)
	assert.Equal(t, uint16(42000), workers[2].Opts.MinPort)
}

func TestInitializeFirstWorkerFailureIsFatal(t *testing.T) {
	eng := enginetest.NewEngine()
	eng.FailNext(1, errors.New("bind: address in use"))

	cfg := Config{InitialWorkers: 2, MaxWorkers: 4, ScaleThreshold: 0.8, RoomsPerWorker: 100, BasePort: 40000, PortsPerWorker: 100}
	p := NewPool(eng, cfg, testRetry(), zap.NewNop().Sugar())
	assert.Error(t, p.Initialize(context.Background()))
}

func TestInitializeLaterWorkerFailureIsRetriedAsync(t *testing.T) {
	eng := enginetest.NewEngine()
	eng.FailCall(2, errors.New("bind: address in use"))

	cfg := Config{InitialWorkers: 2, MaxWorkers: 4, ScaleThreshold: 0.8, RoomsPerWorker: 100, BasePort: 40000, PortsPerWorker: 100}
	p := NewPool(eng, cfg, testRetry(), zap.NewNop().Sugar())
	require.NoError(t, p.Initialize(context.Background()))

	// The second slot fills in from the background retry.
	assert.Eventually(t, func() bool {
		alive := 0
		for _, st := range p.Snapshot() {
			if st.Alive {
				alive++
			}
		}
		return alive == 2
	}, time.Second, 5*time.Millisecond)
}

func TestOptimalWorkerPicksMinLoadLowestIndex(t *testing.T) {
	eng := enginetest.NewEngine()
	p := newTestPool(t, eng, 3)

	// All empty: lowest index wins.
	ref, err := p.OptimalWorker()
	require.NoError(t, err)
	assert.Equal(t, 0, ref.Index)

	p.AssignRoom(ref.ID)

	ref, err = p.OptimalWorker()
	require.NoError(t, err)
	assert.Equal(t, 1, ref.Index)

	p.AssignRoom(ref.ID)

	// 0 and 1 loaded, 2 empty.
	ref, err = p.OptimalWorker()
	require.NoError(t, err)
	assert.Equal(t, 2, ref.Index)

	// Tie between all at load 1: lowest index again.
	p.AssignRoom(ref.ID)
	ref, err = p.OptimalWorker()
	require.NoError(t, err)
	assert.Equal(t, 0, ref.Index)
}

func TestSequentialPlacementNeverPilesOnOneWorker(t *testing.T) {
	eng := enginetest.NewEngine()
	p := newTestPool(t, eng, 2)

	for i := 0; i < 3; i++ {
		ref, err := p.OptimalWorker()
		require.NoError(t, err)
		p.AssignRoom(ref.ID)
	}

	stats := p.Snapshot()
	require.Len(t, stats, 2)
	loads := []int{stats[0].Load, stats[1].Load}
	assert.ElementsMatch(t, []int{2, 1}, loads)
}

func TestReleaseRoomDecrementsLoad(t *testing.T) {
	eng := enginetest.NewEngine()
	p := newTestPool(t, eng, 1)

	ref, err := p.OptimalWorker()
	require.NoError(t, err)
	p.AssignRoom(ref.ID)
	p.AssignRoom(ref.ID)
	p.ReleaseRoom(ref.ID)

	stats := p.Snapshot()
	assert.Equal(t, 1, stats[0].Load)

	// Never goes negative.
	p.ReleaseRoom(ref.ID)
	p.ReleaseRoom(ref.ID)
	assert.Equal(t, 0, p.Snapshot()[0].Load)
}

func TestAutoScaleAddsWorkerAboveThreshold(t *testing.T) {
	eng := enginetest.NewEngine()
	cfg := Config{
		InitialWorkers: 1,
		MaxWorkers:     2,
		AutoScale:      true,
		ScaleThreshold: 0.5,
		RoomsPerWorker: 4,
		BasePort:       40000,
		PortsPerWorker: 100,
	}
	p := NewPool(eng, cfg, testRetry(), zap.NewNop().Sugar())
	require.NoError(t, p.Initialize(context.Background()))

	ref, err := p.OptimalWorker()
	require.NoError(t, err)
	// 3 rooms on capacity 4 -> 0.75 > 0.5, crosses the threshold.
	p.AssignRoom(ref.ID)
	p.AssignRoom(ref.ID)
	p.AssignRoom(ref.ID)

	assert.Eventually(t, func() bool {
		return len(p.Snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestAutoScaleRespectsMaxWorkers(t *testing.T) {
	eng := enginetest.NewEngine()
	cfg := Config{
		InitialWorkers: 1,
		MaxWorkers:     1,
		AutoScale:      true,
		ScaleThreshold: 0.1,
		RoomsPerWorker: 2,
		BasePort:       40000,
		PortsPerWorker: 100,
	}
	p := NewPool(eng, cfg, testRetry(), zap.NewNop().Sugar())
	require.NoError(t, p.Initialize(context.Background()))

	ref, _ := p.OptimalWorker()
	for i := 0; i < 5; i++ {
		p.AssignRoom(ref.ID)
	}

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, p.Snapshot(), 1)
}

func TestWorkerDeathReplacesWorkerAndReportsLostRooms(t *testing.T) {
	eng := enginetest.NewEngine()
	p := newTestPool(t, eng, 2)

	var lost []domain.WorkerID
	lostCh := make(chan domain.WorkerID, 1)
	p.OnWorkerLost(func(id domain.WorkerID) {
		lost = append(lost, id)
		lostCh <- id
	})

	ref, err := p.OptimalWorker()
	require.NoError(t, err)
	p.AssignRoom(ref.ID)

	eng.Workers()[ref.Index].Kill(errors.New("segfault"))

	select {
	case id := <-lostCh:
		assert.Equal(t, ref.ID, id)
	case <-time.After(time.Second):
		t.Fatal("worker-lost callback never fired")
	}

	// A replacement worker eventually appears at the same slot with zero load.
	assert.Eventually(t, func() bool {
		for _, st := range p.Snapshot() {
			if st.Index == ref.Index && st.Alive && st.ID != ref.ID && st.Load == 0 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestOptimalWorkerSkipsDeadWorkers(t *testing.T) {
	eng := enginetest.NewEngine()
	cfg := Config{
		InitialWorkers: 2,
		MaxWorkers:     2,
		ScaleThreshold: 0.8,
		RoomsPerWorker: 100,
		BasePort:       40000,
		PortsPerWorker: 100,
	}
	// Retry that never succeeds keeps the dead slot empty.
	rc := retry.Config{MaxAttempts: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	p := NewPool(eng, cfg, rc, zap.NewNop().Sugar())
	require.NoError(t, p.Initialize(context.Background()))

	eng.FailNext(1000, errors.New("no ports left"))
	eng.Workers()[0].Kill(errors.New("crash"))

	assert.Eventually(t, func() bool {
		ref, err := p.OptimalWorker()
		return err == nil && ref.Index == 1
	}, time.Second, 5*time.Millisecond)
}
