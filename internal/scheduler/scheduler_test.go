package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddValidation(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("calendar", "*/15 * * * *", noop))
	require.NoError(t, s.Add("briefing", "", noop))
	assert.Equal(t, 1, s.Entries(), "empty schedule is skipped")

	err := s.Add("broken", "every tuesday", noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestRunExecutesJobsWithContext(t *testing.T) {
	s := New()
	type key struct{}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "serve"))

	var runs atomic.Int32
	var sawCtx atomic.Bool
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		sawCtx.Store(ctx.Value(key{}) == "serve")
		runs.Add(1)
		return nil
	}))

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	assert.True(t, sawCtx.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
