package delivery

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(2, time.Minute, quietLogger())
	boom := errors.New("boom")

	require.ErrorIs(t, cb.Execute("send", func() error { return boom }), boom)
	require.Equal(t, CircuitClosed, cb.State())
	require.ErrorIs(t, cb.Execute("send", func() error { return boom }), boom)
	require.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute("send", func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, called)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(1, time.Second, quietLogger())
	now := time.Now()
	cb.now = func() time.Time { return now }

	require.Error(t, cb.Execute("send", func() error { return errors.New("boom") }))
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Execute("send", func() error { return nil }))
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(3, time.Second, quietLogger())
	now := time.Now()
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_ = cb.Execute("send", func() error { return errors.New("boom") })
	}
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Second)
	require.Error(t, cb.Execute("send", func() error { return errors.New("still down") }))
	require.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(1, time.Second, quietLogger())
	now := time.Now()
	cb.now = func() time.Time { return now }
	_ = cb.Execute("send", func() error { return errors.New("boom") })
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute("send", func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	require.ErrorIs(t, cb.Execute("send", func() error { return nil }), ErrCircuitOpen)
	close(release)
	wg.Wait()
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "closed", CircuitClosed.String())
	require.Equal(t, "open", CircuitOpen.String())
	require.Equal(t, "half_open", CircuitHalfOpen.String())
	require.Equal(t, "unknown", CircuitState(42).String())
}
