// Package viewercount buffers viewer join and leave deltas per stream and
// flushes the net change periodically, so the backing store sees at most one
// write per stream per flush interval.
package viewercount

import (
	"context"
	"sync"

	"tipcast/internal/core/domain"
	"tipcast/internal/core/ports"
	"tipcast/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// Aggregator accumulates viewer deltas between flushes. Deltas cancel out:
// a join and a leave inside one interval produce no write at all.
type Aggregator struct {
	sink    ports.ViewerCountSink
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	pending map[domain.StreamID]int
}

// New creates an aggregator in front of the given sink.
func New(sink ports.ViewerCountSink, breaker *circuitbreaker.CircuitBreaker, logger *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		sink:    sink,
		breaker: breaker,
		logger:  logger,
		pending: make(map[domain.StreamID]int),
	}
}

// Add records one viewer delta for a stream. Zero net entries are dropped
// immediately so an idle stream holds no state.
func (a *Aggregator) Add(streamID domain.StreamID, delta int) {
	if delta == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.pending[streamID] + delta
	if next == 0 {
		delete(a.pending, streamID)
		return
	}
	a.pending[streamID] = next
}

// Pending returns the number of streams with unflushed deltas.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Flush writes every accumulated net delta to the sink, one write per
// stream. A failed write is re-queued so the delta survives to the next
// flush; deltas that arrived during the flush are merged back in.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.pending
	a.pending = make(map[domain.StreamID]int)
	a.mu.Unlock()

	var failed int
	for streamID, delta := range batch {
		err := a.breaker.Execute(func() error {
			return a.sink.ApplyViewerDelta(ctx, streamID, delta)
		})
		if err != nil {
			failed++
			a.requeue(streamID, delta)
			a.logger.Warnw("viewer count flush failed",
				"stream_id", streamID,
				"delta", delta,
				"error", err,
			)
		}
	}

	if failed > 0 {
		a.logger.Warnw("viewer count flush incomplete", "failed", failed, "total", len(batch))
	}
	return nil
}

func (a *Aggregator) requeue(streamID domain.StreamID, delta int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.pending[streamID] + delta
	if next == 0 {
		delete(a.pending, streamID)
		return
	}
	a.pending[streamID] = next
}
