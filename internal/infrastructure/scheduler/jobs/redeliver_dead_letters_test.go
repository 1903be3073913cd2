package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/internal/infrastructure/messaging"
	"github.com/alem-hub/alem-badges/pkg/retry"
)

func newDispatcher(t *testing.T, handler shared.EventHandler) *messaging.Dispatcher {
	t.Helper()
	d := messaging.NewDispatcher(messaging.DispatcherConfig{
		Retrier:             retry.New(retry.WithMaxAttempts(1), retry.WithInitialDelay(time.Millisecond)),
		DeadLetterQueueSize: 10,
	})
	t.Cleanup(func() { _ = d.Stop() })
	require.NoError(t, d.Register(shared.EventBadgeAwarded, "audit_log", handler))
	return d
}

func TestRedeliverDeadLetters_DeliversOnceHealthy(t *testing.T) {
	healthy := false
	d := newDispatcher(t, func(shared.Event) error {
		if !healthy {
			return errors.New("connection refused")
		}
		return nil
	})

	for i := int64(1); i <= 3; i++ {
		require.Error(t, d.Dispatch(shared.NewBadgeAwardedEvent(7, i, 900, 4)))
	}
	require.Equal(t, 3, d.DeadLetterQueue().Size())

	job := NewRedeliverDeadLettersJob(d, 2, nil)
	assert.Nil(t, job.LastRunStats())

	require.Error(t, job.Run(context.Background()))
	assert.Equal(t, &RedeliverStats{Attempted: 2, Failed: 2}, job.LastRunStats())
	assert.Equal(t, 3, d.DeadLetterQueue().Size())

	healthy = true
	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 0, d.DeadLetterQueue().Size())
	assert.Equal(t, 1, job.LastRunStats().Delivered)
}

func TestRedeliverDeadLetters_StopsOnCancel(t *testing.T) {
	d := newDispatcher(t, func(shared.Event) error { return errors.New("nope") })
	require.Error(t, d.Dispatch(shared.NewBadgeAwardedEvent(7, 1, 900, 4)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := NewRedeliverDeadLettersJob(d, 0, nil)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 1, d.DeadLetterQueue().Size())
	assert.Equal(t, 0, job.LastRunStats().Attempted)
}

func TestRedeliverDeadLetters_NoQueue(t *testing.T) {
	d := messaging.NewDispatcher(messaging.DispatcherConfig{})
	defer d.Stop()

	job := NewRedeliverDeadLettersJob(d, 0, nil)
	assert.Equal(t, "redeliver_dead_letters", job.Name())
	require.NoError(t, job.Run(context.Background()))
}
