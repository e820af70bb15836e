package gate

import (
	"fmt"
	"testing"
	"time"

	apperrors "tipcast/pkg/errors"
	"tipcast/pkg/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(limits Limits) (*Gate, *scheduler.ManualClock) {
	clock := scheduler.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(limits, clock), clock
}

func defaultLimits() Limits {
	return Limits{
		ConnectionsPerIP:   10,
		ConnectionsPerUser: 5,
		MessagesPerUser:    30,
		Window:             time.Minute,
	}
}

func TestConnectionLimitPerIP(t *testing.T) {
	g, _ := newTestGate(defaultLimits())

	for i := 0; i < 10; i++ {
		require.NoError(t, g.AdmitConnection("10.0.0.1", fmt.Sprintf("user-%d", i)))
	}

	err := g.AdmitConnection("10.0.0.1", "user-extra")
	assert.Equal(t, apperrors.ErrCodeRateLimit, apperrors.CodeOf(err))

	// Other addresses are unaffected.
	assert.NoError(t, g.AdmitConnection("10.0.0.2", "user-elsewhere"))
}

func TestConnectionLimitPerUser(t *testing.T) {
	g, _ := newTestGate(defaultLimits())

	for i := 0; i < 5; i++ {
		require.NoError(t, g.AdmitConnection(fmt.Sprintf("10.0.0.%d", i+1), "user-1"))
	}

	err := g.AdmitConnection("10.0.0.99", "user-1")
	assert.Equal(t, apperrors.ErrCodeRateLimit, apperrors.CodeOf(err))
}

func TestMessageLimitPerUser(t *testing.T) {
	g, _ := newTestGate(defaultLimits())

	for i := 0; i < 30; i++ {
		require.NoError(t, g.AdmitMessage("user-1"))
	}

	err := g.AdmitMessage("user-1")
	assert.Equal(t, apperrors.ErrCodeRateLimit, apperrors.CodeOf(err))
	assert.NoError(t, g.AdmitMessage("user-2"))
}

func TestWindowResetRestoresAllowance(t *testing.T) {
	g, clock := newTestGate(defaultLimits())

	for i := 0; i < 30; i++ {
		require.NoError(t, g.AdmitMessage("user-1"))
	}
	require.Error(t, g.AdmitMessage("user-1"))

	clock.Advance(time.Minute + time.Second)
	assert.NoError(t, g.AdmitMessage("user-1"))
}

func TestBoundaryBurstAllowsUpToTwiceTheLimit(t *testing.T) {
	g, clock := newTestGate(Limits{
		ConnectionsPerIP:   10,
		ConnectionsPerUser: 100,
		MessagesPerUser:    100,
		Window:             time.Minute,
	})

	// Exhaust the window right before it ends, then again right after the
	// reset. The fixed window admits both bursts.
	for i := 0; i < 10; i++ {
		require.NoError(t, g.AdmitConnection("10.0.0.1", fmt.Sprintf("a-%d", i)))
	}
	clock.Advance(time.Minute + time.Millisecond)
	for i := 0; i < 10; i++ {
		require.NoError(t, g.AdmitConnection("10.0.0.1", fmt.Sprintf("b-%d", i)))
	}
	require.Error(t, g.AdmitConnection("10.0.0.1", "b-last"))
}

func TestRejectedConnectionStillChargesBothCounters(t *testing.T) {
	g, _ := newTestGate(Limits{
		ConnectionsPerIP:   2,
		ConnectionsPerUser: 3,
		MessagesPerUser:    30,
		Window:             time.Minute,
	})

	require.NoError(t, g.AdmitConnection("10.0.0.1", "user-1"))
	require.NoError(t, g.AdmitConnection("10.0.0.1", "user-1"))

	// IP limit hit; the user counter was still charged.
	require.Error(t, g.AdmitConnection("10.0.0.1", "user-1"))

	// Fourth attempt from a fresh IP hits the user limit.
	err := g.AdmitConnection("10.0.0.2", "user-1")
	assert.Equal(t, apperrors.ErrCodeRateLimit, apperrors.CodeOf(err))
}

func TestPruneDropsExpiredBuckets(t *testing.T) {
	g, clock := newTestGate(defaultLimits())

	require.NoError(t, g.AdmitConnection("10.0.0.1", "user-1"))
	require.NoError(t, g.AdmitMessage("user-1"))
	require.Greater(t, g.TrackedKeys(), 0)

	clock.Advance(2 * time.Minute)
	g.Prune()
	assert.Equal(t, 0, g.TrackedKeys())
}
