package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestValidate(t *testing.T) {
	for _, spec := range []string{"@every 24h", "@every 3600s", "@daily", "0 6 * * *", "*/15 * * * *"} {
		assert.NoError(t, Validate(spec), spec)
	}
	for _, spec := range []string{"", "every day", "61 * * * *", "* * * *"} {
		assert.Error(t, Validate(spec), spec)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New("not a schedule", func(context.Context) error { return nil }, nil)
	assert.Error(t, err)
}

func TestRunsJob(t *testing.T) {
	var runs atomic.Int32
	s, err := New("@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
}

func TestSkipsOverlappingRuns(t *testing.T) {
	var started, active, maxActive atomic.Int32
	release := make(chan struct{})

	s, err := New("@every 1s", func(ctx context.Context) error {
		started.Add(1)
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	// Let several ticks fire while the first run is blocked.
	require.Eventually(t, func() bool { return started.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	time.Sleep(2500 * time.Millisecond)
	close(release)
	s.Stop()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestJobErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s, err := New("@every 1s", func(context.Context) error {
		return errors.New("database is locked")
	}, zap.New(core))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("scheduled budget check failed").Len() > 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNextRunAndStop(t *testing.T) {
	s, err := New("0 3 * * *", func(context.Context) error { return nil }, nil)
	require.NoError(t, err)
	assert.Nil(t, s.NextRun())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	next := s.NextRun()
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now()))
	assert.Equal(t, 3, next.UTC().Hour())

	cancel()
	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)

	// Restart after stop.
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	s.Stop()
	assert.False(t, s.IsRunning())
}
