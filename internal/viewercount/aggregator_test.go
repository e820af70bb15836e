package viewercount

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tipcast/internal/core/domain"
	"tipcast/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	writes []sinkWrite
	err    error
}

type sinkWrite struct {
	streamID domain.StreamID
	delta    int
}

func (s *recordingSink) ApplyViewerDelta(ctx context.Context, streamID domain.StreamID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, sinkWrite{streamID: streamID, delta: delta})
	return nil
}

func (s *recordingSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *recordingSink) all() []sinkWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

func newTestAggregator() (*Aggregator, *recordingSink) {
	sink := &recordingSink{}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      time.Second,
	})
	return New(sink, breaker, zap.NewNop().Sugar()), sink
}

func TestFlushWritesNetDeltaOncePerStream(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Add("stream-1", 1)
	agg.Add("stream-1", 1)
	agg.Add("stream-1", -1)
	agg.Add("stream-2", 1)

	require.NoError(t, agg.Flush(context.Background()))

	writes := sink.all()
	require.Len(t, writes, 2)
	assert.ElementsMatch(t, []sinkWrite{
		{streamID: "stream-1", delta: 1},
		{streamID: "stream-2", delta: 1},
	}, writes)
	assert.Equal(t, 0, agg.Pending())
}

func TestZeroNetDeltaProducesNoWrite(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Add("stream-1", 1)
	agg.Add("stream-1", -1)

	require.NoError(t, agg.Flush(context.Background()))
	assert.Empty(t, sink.all())
}

func TestFlushWithNothingPendingIsCheap(t *testing.T) {
	agg, sink := newTestAggregator()
	require.NoError(t, agg.Flush(context.Background()))
	assert.Empty(t, sink.all())
}

func TestFailedWriteIsRequeued(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Add("stream-1", 3)
	sink.setErr(errors.New("store unavailable"))
	require.NoError(t, agg.Flush(context.Background()))
	assert.Equal(t, 1, agg.Pending())

	sink.setErr(nil)
	require.NoError(t, agg.Flush(context.Background()))

	writes := sink.all()
	require.Len(t, writes, 1)
	assert.Equal(t, sinkWrite{streamID: "stream-1", delta: 3}, writes[0])
	assert.Equal(t, 0, agg.Pending())
}

func TestRequeueMergesWithNewDeltas(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Add("stream-1", 2)
	sink.setErr(errors.New("store unavailable"))
	require.NoError(t, agg.Flush(context.Background()))

	// New viewers arrive before the retry.
	agg.Add("stream-1", 1)
	sink.setErr(nil)
	require.NoError(t, agg.Flush(context.Background()))

	writes := sink.all()
	require.Len(t, writes, 1)
	assert.Equal(t, 3, writes[0].delta)
}

func TestBreakerShortCircuitsAfterRepeatedFailures(t *testing.T) {
	sink := &recordingSink{}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
	})
	agg := New(sink, breaker, zap.NewNop().Sugar())

	sink.setErr(errors.New("store unavailable"))
	agg.Add("stream-1", 1)
	require.NoError(t, agg.Flush(context.Background()))
	agg.Add("stream-2", 1)
	require.NoError(t, agg.Flush(context.Background()))

	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	// While open the sink is not touched; deltas keep accumulating.
	sink.setErr(nil)
	agg.Add("stream-3", 1)
	require.NoError(t, agg.Flush(context.Background()))
	assert.Empty(t, sink.all())
	assert.Equal(t, 3, agg.Pending())
}
