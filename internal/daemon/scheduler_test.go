package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/testutil"
)

func TestScheduleVerification(t *testing.T) {
	ctx, logs := testutil.Context(t)
	s, err := NewScheduler()
	require.NoError(t, err)

	var runs atomic.Int32
	id, err := s.ScheduleVerification(ctx, 20*time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("digest mismatch")
		}
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	s.Start(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(ctx))

	assert.Contains(t, logs.String(), "External verification failed.")
	assert.Contains(t, logs.String(), "External verification passed.")
}

func TestScheduleVerification_InvalidInterval(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)
	_, err = s.ScheduleVerification(context.Background(), 0, func(context.Context) error { return nil })
	assert.Error(t, err)
	require.NoError(t, s.Stop(context.Background()))
}
