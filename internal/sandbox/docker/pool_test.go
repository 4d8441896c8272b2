package docker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancePool_AcquireUpToCapacity(t *testing.T) {
	p := NewInstancePool(2, nil)
	ctx := context.Background()

	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))

	// Third acquire must block until a slot frees or the context ends.
	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := p.Acquire(ctx2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release()
	require.NoError(t, p.Acquire(ctx))
}

func TestInstancePool_AcquireHonoursCancellation(t *testing.T) {
	p := NewInstancePool(1, nil)
	require.NoError(t, p.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Acquire(ctx), context.Canceled)
}

func TestInstancePool_OverReleaseIsAbsorbed(t *testing.T) {
	p := NewInstancePool(1, nil)

	// Releasing without a matching acquire must not grow capacity.
	p.Release()
	p.Release()

	require.NoError(t, p.Acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Acquire(ctx))
}

func TestInstancePool_Ledger(t *testing.T) {
	p := NewInstancePool(4, nil)

	p.NoteCreated()
	p.NoteCreated()
	p.NoteDestroyed()

	created, destroyed := p.Stats()
	assert.Equal(t, int64(2), created)
	assert.Equal(t, int64(1), destroyed)
}

func TestNewInstancePool_MinimumSizeOne(t *testing.T) {
	p := NewInstancePool(0, nil)
	require.NoError(t, p.Acquire(context.Background()))
}
