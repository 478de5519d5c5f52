//go:build integration

package tally_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"civitas.org/internal/fault"
	"civitas.org/internal/tally"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	locker := tally.NewRedisLocker(client, "")

	release, err := locker.Acquire(ctx, "poll:1", 10*time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "poll:1", 10*time.Second)
	require.ErrorIs(t, err, fault.ErrTallyInProgress)

	other, err := locker.Acquire(ctx, "poll:2", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := locker.Acquire(ctx, "poll:1", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	locker := tally.NewRedisLocker(client, "test:")

	stale, err := locker.Acquire(ctx, "poll:7", 200*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(400 * time.Millisecond)

	current, err := locker.Acquire(ctx, "poll:7", 10*time.Second)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	n, err := client.Exists(ctx, "test:poll:7").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, current(ctx))
	n, err = client.Exists(ctx, "test:poll:7").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
