package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_CancelRunningJob(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx, release := r.Register(context.Background(), "job-1")
	defer release()

	require.Equal(t, 1, r.Running())
	require.True(t, r.Cancel("job-1"))
	<-ctx.Done()
	require.True(t, errors.Is(ctx.Err(), context.Canceled))
}

func TestRegistry_TombstoneCancelsOnRegister(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.False(t, r.Cancel("job-2"))

	ctx, release := r.Register(context.Background(), "job-2")
	defer release()
	require.Error(t, ctx.Err(), "tombstoned job starts canceled")

	// The tombstone is consumed by the first run.
	release()
	ctx, release2 := r.Register(context.Background(), "job-2")
	defer release2()
	require.NoError(t, ctx.Err())
}

func TestRegistry_ReleaseAndForget(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, release := r.Register(context.Background(), "job-3")
	release()
	require.Zero(t, r.Running())
	require.False(t, r.Cancel("job-3"))

	r.Forget("job-3")
	ctx, release := r.Register(context.Background(), "job-3")
	defer release()
	require.NoError(t, ctx.Err())
}
