package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/franchise/internal/domain"
)

func newTestCache(t *testing.T) (*OrderCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewOrderCache(rdb, time.Minute), mr
}

func order(version int64, status domain.OrderStatus) *domain.Order {
	return &domain.Order{ID: "o1", Number: "FO-20260314-ABCDEF", Status: status, Version: version}
}

func TestOrderCache_GetMiss(t *testing.T) {
	c, _ := newTestCache(t)

	got, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOrderCache_PutAndGet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, order(1, domain.OrderStatusPendingApproval)))

	got, err := c.Get(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.OrderStatusPendingApproval, got.Status)
	assert.Equal(t, time.Minute, mr.TTL("order:o1"))
}

func TestOrderCache_StaleWriteIgnored(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, order(2, domain.OrderStatusApproved)))
	require.NoError(t, c.Put(ctx, order(1, domain.OrderStatusPendingApproval)))

	got, err := c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, domain.OrderStatusApproved, got.Status)

	require.NoError(t, c.Put(ctx, order(3, domain.OrderStatusProcessing)))
	got, err = c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, got.Status)
}

func TestOrderCache_CorruptSnapshotIsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	mr.HSet("order:o1", "version", "1", "data", "{not json")

	got, err := c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("order:o1"))
}

func TestOrderCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, order(1, domain.OrderStatusPendingApproval)))
	require.NoError(t, c.Invalidate(ctx, "o1"))

	got, err := c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
