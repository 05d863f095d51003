package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalAcquireRelease(t *testing.T) {
	g := NewLocal(time.Minute)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "save:f1:B1")
	require.NoError(t, err)

	_, err = g.Acquire(ctx, "save:f1:B1")
	assert.ErrorIs(t, err, ErrHeld)

	other, err := g.Acquire(ctx, "save:f2:B1")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := g.Acquire(ctx, "save:f1:B1")
	require.NoError(t, err)
	again()
}

func TestLocalHoldExpires(t *testing.T) {
	g := NewLocal(time.Second)
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	stale, err := g.Acquire(context.Background(), "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := g.Acquire(context.Background(), "k")
	require.NoError(t, err)

	// releasing the expired hold must not free the new one
	stale()
	_, err = g.Acquire(context.Background(), "k")
	assert.ErrorIs(t, err, ErrHeld)
	fresh()
}
