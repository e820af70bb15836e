// Package scheduler runs named periodic tasks over an injectable clock, so
// tests advance a virtual clock instead of sleeping on wall-clock time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler owns a set of periodic tasks and stops them together.
type Scheduler struct {
	clock  Clock
	logger *zap.SugaredLogger

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler driven by the given clock.
func New(clock Clock, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		clock:  clock,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Every runs fn every interval until the scheduler is stopped. A panic or
// error in one run does not cancel the task.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	// Register with the clock before returning, so ticks advanced right
	// after Every are delivered rather than lost.
	ticker := s.clock.NewTicker(interval)

	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C():
				s.runOnce(name, fn)
			case <-s.done:
				return
			}
		}
	}()
}

func (s *Scheduler) runOnce(name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("scheduled task panicked", "task", name, "panic", r)
		}
	}()

	if err := fn(context.Background()); err != nil {
		s.logger.Warnw("scheduled task failed", "task", name, "error", err)
	}
}

// Stop cancels all tasks and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
}
