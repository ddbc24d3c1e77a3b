package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, time.Minute)
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	locker := newTestLocker(t)

	release, err := locker.Acquire(context.Background(), "ledger:cash:central:lock")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "ledger:cash:central:lock")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := locker.Acquire(context.Background(), "ledger:cash:central:lock")
	require.NoError(t, err)
	release2()
}

func TestLockerKeysAreIndependent(t *testing.T) {
	locker := newTestLocker(t)

	releaseA, err := locker.Acquire(context.Background(), "ledger:cash:central:lock")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := locker.Acquire(context.Background(), "ledger:cash:north:lock")
	require.NoError(t, err)
	releaseB()
}

func TestNilLockerHandsOutNoopRelease(t *testing.T) {
	var locker *Locker
	release, err := locker.Acquire(context.Background(), "any")
	require.NoError(t, err)
	release()
}
