package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      time.Minute,
	}
}

func setNow(t *testing.T, at time.Time) {
	t.Helper()
	old := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = old })
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(testConfig())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrOpen)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(testConfig())
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeAndRecovery(t *testing.T) {
	start := time.Unix(1000, 0)
	setNow(t, start)

	cb := New(testConfig())
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	require.Equal(t, StateOpen, cb.State())

	setNow(t, start.Add(time.Minute))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	start := time.Unix(1000, 0)
	setNow(t, start)

	cb := New(testConfig())
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return boom })
	}

	setNow(t, start.Add(time.Minute))
	require.Equal(t, StateHalfOpen, cb.State())
	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestOnStateChange(t *testing.T) {
	cb := New(testConfig())
	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	assert.Equal(t, []string{"closed->open"}, transitions)
}
