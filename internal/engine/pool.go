// Package engine owns the pool of SFU workers and their load accounting.
package engine

import (
	"context"
	"fmt"
	"sync"

	"tipcast/internal/core/domain"
	"tipcast/internal/core/ports"
	"tipcast/pkg/retry"

	"go.uber.org/zap"
)

// Config controls pool sizing and placement.
type Config struct {
	InitialWorkers int
	MaxWorkers     int
	AutoScale      bool
	// ScaleThreshold is the average load factor (rooms per worker divided by
	// RoomsPerWorker) above which one extra worker is created.
	ScaleThreshold float64
	RoomsPerWorker int
	BasePort       uint16
	PortsPerWorker uint16
}

// WorkerRef identifies a live worker for room placement.
type WorkerRef struct {
	ID     domain.WorkerID
	Index  int
	Worker ports.EngineWorker
}

// WorkerStats is a read-only snapshot of one slot.
type WorkerStats struct {
	ID    domain.WorkerID
	Index int
	Load  int
	Alive bool
}

type slot struct {
	index  int
	worker ports.EngineWorker
	id     domain.WorkerID
	load   int
	alive  bool
}

// Pool owns a fixed-then-elastic set of engine workers. A worker's load is
// the number of rooms currently assigned to it.
type Pool struct {
	engine   ports.Engine
	cfg      Config
	retryCfg retry.Config
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	slots   []*slot
	scaling bool
	closed  bool

	// onWorkerLost is invoked with the dead worker's id before a replacement
	// is created. Rooms bound to that worker are terminated by the owner of
	// this callback; they are never migrated.
	onWorkerLost func(id domain.WorkerID)
}

// NewPool creates an empty pool. Call Initialize before use.
func NewPool(eng ports.Engine, cfg Config, retryCfg retry.Config, logger *zap.SugaredLogger) *Pool {
	return &Pool{
		engine:   eng,
		cfg:      cfg,
		retryCfg: retryCfg,
		logger:   logger,
	}
}

// OnWorkerLost registers the room-termination callback for dead workers.
func (p *Pool) OnWorkerLost(fn func(id domain.WorkerID)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWorkerLost = fn
}

// Initialize creates the initial workers. Failure to create the very first
// worker is fatal and returned to the caller; failures on later slots are
// logged and retried in the background.
func (p *Pool) Initialize(ctx context.Context) error {
	for i := 0; i < p.cfg.InitialWorkers; i++ {
		if err := p.createWorkerAt(ctx, i); err != nil {
			if i == 0 {
				return fmt.Errorf("failed to create first worker: %w", err)
			}
			p.logger.Errorw("worker creation failed, retrying in background",
				"index", i,
				"error", err,
			)
			go func(index int) {
				retryErr := retry.Do(context.Background(), p.retryCfg, func() error {
					return p.createWorkerAt(context.Background(), index)
				})
				if retryErr != nil {
					p.logger.Errorw("worker creation retries exhausted", "index", index, "error", retryErr)
				}
			}(i)
		}
	}
	return nil
}

// portRange returns the disjoint range for a slot index.
func (p *Pool) portRange(index int) (uint16, uint16) {
	min := p.cfg.BasePort + uint16(index)*p.cfg.PortsPerWorker
	return min, min + p.cfg.PortsPerWorker - 1
}

// createWorkerAt creates a worker and installs it at the given slot index,
// extending the slot slice if needed.
func (p *Pool) createWorkerAt(ctx context.Context, index int) error {
	minPort, maxPort := p.portRange(index)
	w, err := p.engine.CreateWorker(ctx, ports.WorkerOptions{MinPort: minPort, MaxPort: maxPort})
	if err != nil {
		return err
	}

	s := &slot{
		index:  index,
		worker: w,
		id:     domain.WorkerID(w.ID()),
		alive:  true,
	}
	w.OnDied(func(deathErr error) {
		p.handleWorkerDeath(index, s.id, deathErr)
	})

	p.mu.Lock()
	for len(p.slots) <= index {
		p.slots = append(p.slots, nil)
	}
	p.slots[index] = s
	p.mu.Unlock()

	p.logger.Infow("worker created",
		"worker_id", s.id,
		"index", index,
		"port_min", minPort,
		"port_max", maxPort,
	)
	return nil
}

// OptimalWorker returns the live worker with minimum load; ties break to the
// lowest slot index.
func (p *Pool) OptimalWorker() (*WorkerRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *slot
	for _, s := range p.slots {
		if s == nil || !s.alive {
			continue
		}
		if best == nil || s.load < best.load {
			best = s
		}
	}
	if best == nil {
		return nil, domain.ErrWorkerNotFound
	}
	return &WorkerRef{ID: best.id, Index: best.index, Worker: best.worker}, nil
}

// AssignRoom increments the worker's load and may trigger a scale-up check.
func (p *Pool) AssignRoom(id domain.WorkerID) {
	p.mu.Lock()
	if s := p.slotByID(id); s != nil {
		s.load++
	}
	shouldScale := p.shouldScaleUpLocked()
	p.mu.Unlock()

	if shouldScale {
		go p.scaleUp()
	}
}

// ReleaseRoom decrements the worker's load. Unknown ids (e.g. a worker
// already replaced after a crash) are ignored.
func (p *Pool) ReleaseRoom(id domain.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.slotByID(id); s != nil && s.load > 0 {
		s.load--
	}
}

// slotByID must be called with mu held.
func (p *Pool) slotByID(id domain.WorkerID) *slot {
	for _, s := range p.slots {
		if s != nil && s.id == id {
			return s
		}
	}
	return nil
}

// shouldScaleUpLocked must be called with mu held.
func (p *Pool) shouldScaleUpLocked() bool {
	if !p.cfg.AutoScale || p.scaling || p.closed {
		return false
	}

	alive := 0
	totalLoad := 0
	for _, s := range p.slots {
		if s != nil && s.alive {
			alive++
			totalLoad += s.load
		}
	}
	if alive == 0 || len(p.slots) >= p.cfg.MaxWorkers {
		return false
	}

	avg := float64(totalLoad) / float64(alive) / float64(p.cfg.RoomsPerWorker)
	if avg <= p.cfg.ScaleThreshold {
		return false
	}
	p.scaling = true
	return true
}

// scaleUp appends one worker slot. Creation failure is logged and retried.
func (p *Pool) scaleUp() {
	p.mu.Lock()
	index := len(p.slots)
	p.mu.Unlock()

	p.logger.Infow("scaling up worker pool", "new_index", index)
	err := retry.Do(context.Background(), p.retryCfg, func() error {
		return p.createWorkerAt(context.Background(), index)
	})

	p.mu.Lock()
	p.scaling = false
	p.mu.Unlock()

	if err != nil {
		p.logger.Errorw("scale-up failed", "index", index, "error", err)
	}
}

// handleWorkerDeath marks the slot dead, terminates its rooms through the
// registered callback, and asynchronously creates a replacement at the same
// slot. A crash is never surfaced to individual callers.
func (p *Pool) handleWorkerDeath(index int, id domain.WorkerID, cause error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	s := p.slots[index]
	if s == nil || s.id != id || !s.alive {
		// Stale death signal for an already replaced worker.
		p.mu.Unlock()
		return
	}
	s.alive = false
	s.load = 0
	lost := p.onWorkerLost
	p.mu.Unlock()

	p.logger.Errorw("worker died",
		"worker_id", id,
		"index", index,
		"error", cause,
	)

	if lost != nil {
		lost(id)
	}

	go func() {
		err := retry.Do(context.Background(), p.retryCfg, func() error {
			return p.createWorkerAt(context.Background(), index)
		})
		if err != nil {
			p.logger.Errorw("worker replacement failed", "index", index, "error", err)
		}
	}()
}

// Snapshot returns per-worker stats for health and metrics reporting.
func (p *Pool) Snapshot() []WorkerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]WorkerStats, 0, len(p.slots))
	for _, s := range p.slots {
		if s == nil {
			continue
		}
		stats = append(stats, WorkerStats{ID: s.id, Index: s.index, Load: s.load, Alive: s.alive})
	}
	return stats
}

// Close shuts down all workers.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	slots := make([]*slot, len(p.slots))
	copy(slots, p.slots)
	p.mu.Unlock()

	for _, s := range slots {
		if s == nil || !s.alive {
			continue
		}
		if err := s.worker.Close(); err != nil {
			p.logger.Warnw("error closing worker", "worker_id", s.id, "error", err)
		}
	}
	return nil
}
